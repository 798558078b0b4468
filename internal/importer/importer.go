// Package importer classifies single-container imports into outcomes.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sensiblebit/keyshare/internal/certstore"
)

// Kind classifies one import attempt.
type Kind int

const (
	Imported Kind = iota
	DuplicateSkipped
	Failed
)

func (k Kind) String() string {
	switch k {
	case Imported:
		return "imported"
	case DuplicateSkipped:
		return "duplicate"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Reasons produced outside the store.
const (
	ReasonUnreadable = "unreadable"
	ReasonStore      = certstore.CodeStore
)

// Outcome is the classified result of importing one container. Name is the
// archive entry name, or the resource name for a single container. Reason is
// only set for Failed and is an opaque store code.
type Outcome struct {
	Name       string
	Kind       Kind
	Reason     string
	Added      int
	Duplicates int
}

func (o Outcome) String() string {
	if o.Kind == Failed {
		return fmt.Sprintf("%s: failed (%s)", o.Name, o.Reason)
	}
	return fmt.Sprintf("%s: %s", o.Name, o.Kind)
}

// FailedOutcome returns a Failed outcome for name.
func FailedOutcome(name, reason string) Outcome {
	return Outcome{Name: name, Kind: Failed, Reason: reason}
}

// Store is the decrypt-and-store primitive.
type Store interface {
	ImportContainer(ctx context.Context, data []byte, password string) (certstore.ImportStatus, error)
}

// Importer wraps a Store and classifies its results.
type Importer struct {
	store Store
}

// New returns an Importer over store.
func New(store Store) *Importer {
	return &Importer{store: store}
}

// Import decrypts data with password and adds its contents to the store.
// At least one newly added object makes the outcome Imported; a container
// whose objects all exist already is DuplicateSkipped.
func (i *Importer) Import(ctx context.Context, name string, data []byte, password string) Outcome {
	status, err := i.store.ImportContainer(ctx, data, password)
	if err != nil {
		reason := ReasonStore
		var ie *certstore.ImportError
		if errors.As(err, &ie) {
			reason = ie.Code
		}
		slog.Debug("container import failed", "entry", name, "reason", reason, "error", err)
		return FailedOutcome(name, reason)
	}
	if status.Added > 0 {
		return Outcome{Name: name, Kind: Imported, Added: status.Added, Duplicates: status.Duplicates}
	}
	return Outcome{Name: name, Kind: DuplicateSkipped, Duplicates: status.Duplicates}
}
