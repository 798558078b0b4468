// Package certstore is the local credential store. Keys and certificates
// are persisted in SQLite; identities are derived by pairing a certificate
// with a stored key of the same subject key identifier.
package certstore

import (
	"errors"
	"fmt"
)

// Class is the store-assigned class of a credential item.
type Class string

const (
	ClassIdentity    Class = "identity"
	ClassCertificate Class = "certificate"
	ClassKey         Class = "key"
	ClassAll         Class = "all"
)

// ParseClass converts a class name to a Class. The empty string selects
// ClassAll.
func ParseClass(name string) (Class, error) {
	switch Class(name) {
	case ClassIdentity, ClassCertificate, ClassKey, ClassAll:
		return Class(name), nil
	case "":
		return ClassAll, nil
	default:
		return "", fmt.Errorf("unknown credential class %q", name)
	}
}

// Item references one object in the store. ID is stable for the lifetime
// of the object: the SHA-256 fingerprint for certificates and identities,
// the hex SKI for keys.
type Item struct {
	Class Class
	ID    string
	Label string
}

// ImportStatus reports what one ImportContainer call changed.
type ImportStatus struct {
	Added      int
	Duplicates int
}

// Failure codes carried by ImportError.
const (
	CodeAuthFailed  = "auth_failed"
	CodeDecode      = "decode"
	CodeUnsupported = "unsupported"
	CodeStore       = "store"
)

// ImportError is returned by ImportContainer when nothing could be imported.
type ImportError struct {
	Code string
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import failed (%s): %v", e.Code, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// ErrNotFound is returned when an item no longer exists in the store.
var ErrNotFound = errors.New("credential item not found")
