// Package access grants scoped, time-bounded read access to an externally
// provided resource. A Token is owned by exactly one import run and must be
// released exactly once.
package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrAccessDenied means the grant could not be obtained.
	ErrAccessDenied = errors.New("access denied")

	// ErrExpired means the token's deadline passed before the read.
	ErrExpired = errors.New("access token expired")

	// ErrReleased means the token was used after Release.
	ErrReleased = errors.New("access token released")

	// ErrTooLarge means the resource exceeds MaxResourceSize.
	ErrTooLarge = errors.New("resource too large")
)

// MaxResourceSize bounds how much of a resource Read will load.
const MaxResourceSize = 256 * 1024 * 1024

// DefaultTimeout is the lifetime of a token when Acquire is given none.
const DefaultTimeout = 5 * time.Minute

// lockRetry is the polling interval while another process holds an
// exclusive lock on the resource.
const lockRetry = 25 * time.Millisecond

// Token is an exclusive, time-bounded grant to read one resource.
type Token struct {
	locator  string
	deadline time.Time

	mu       sync.Mutex
	file     *os.File
	released bool
}

// Acquire opens the resource at locator for reading. The grant expires after
// timeout.
func Acquire(ctx context.Context, locator string, timeout time.Duration) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	f, err := os.Open(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	info, err := f.Stat()
	if err == nil && !info.Mode().IsRegular() {
		err = fmt.Errorf("%s is not a regular file", locator)
	}
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("closing rejected resource", "locator", locator, "error", closeErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Token{
		locator:  locator,
		deadline: time.Now().Add(timeout),
		file:     f,
	}, nil
}

// Locator returns the resource locator the token grants access to.
func (t *Token) Locator() string { return t.locator }

// Name returns the resource's file name.
func (t *Token) Name() string { return filepath.Base(t.locator) }

// Deadline returns when the grant expires.
func (t *Token) Deadline() time.Time { return t.deadline }

// Read returns the full content of the resource. The read is coordinated:
// it holds a shared advisory lock so that it never observes a writer that
// holds an exclusive lock mid-update.
func (t *Token) Read(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil, ErrReleased
	}
	if time.Now().After(t.deadline) {
		return nil, ErrExpired
	}

	ctx, cancel := context.WithDeadline(ctx, t.deadline)
	defer cancel()
	if err := lockShared(ctx, t.file); err != nil {
		return nil, fmt.Errorf("locking %s: %w", t.locator, err)
	}
	defer func() {
		if err := unlock(t.file); err != nil {
			slog.Warn("unlocking resource", "locator", t.locator, "error", err)
		}
	}()

	data, err := io.ReadAll(io.NewSectionReader(t.file, 0, MaxResourceSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.locator, err)
	}
	if len(data) > MaxResourceSize {
		return nil, fmt.Errorf("%s: %w", t.locator, ErrTooLarge)
	}
	return data, nil
}

// Release ends the grant. Only the first call has an effect.
func (t *Token) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("releasing %s: %w", t.locator, err)
	}
	return nil
}
