//go:build !unix

package access

import (
	"context"
	"os"
)

// lockShared only honors cancellation on platforms without flock.
func lockShared(ctx context.Context, _ *os.File) error {
	return ctx.Err()
}

func unlock(*os.File) error {
	return nil
}
