package provider

import (
	"fmt"
	"io"
	"log/slog"
)

const redacted = "[REDACTED]"

// Secret holds a fetched password. Every formatting path renders it as
// [REDACTED]; only Reveal returns the value. The empty string is a valid
// password; the zero Secret is not.
type Secret struct {
	value string
	set   bool
}

// NewSecret wraps a password value, which may be empty.
func NewSecret(value string) Secret {
	return Secret{value: value, set: true}
}

// Reveal returns the password.
func (s Secret) Reveal() string {
	return s.value
}

// Valid reports whether the secret was vended by NewSecret. It is true for
// an empty password and false for the zero Secret.
func (s Secret) Valid() bool {
	return s.set
}

func (Secret) String() string   { return redacted }
func (Secret) GoString() string { return redacted }

// Format implements fmt.Formatter so that %x, %q and friends cannot bypass
// String.
func (Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// LogValue implements slog.LogValuer.
func (Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalText implements encoding.TextMarshaler.
func (Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
