package keyshare

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
)

// Container holds the decrypted contents of one credential container.
type Container struct {
	Format string // "pkcs12", "jks", or "pkcs7"
	Keys   []crypto.PrivateKey
	Certs  []*x509.Certificate // leaf first when the format identifies one
}

// ErrUnrecognizedContainer is returned when data matches no supported container format.
var ErrUnrecognizedContainer = errors.New("unrecognized container format")

// DecodeContainer decrypts a credential container. JKS is detected by its
// magic number; everything else is tried as PKCS#12 and then as a
// certificate-only PKCS#7 bundle (which ignores the password).
func DecodeContainer(data []byte, password string) (*Container, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty container: %w", ErrUnrecognizedContainer)
	}

	if IsJKS(data) {
		certs, keys, err := DecodeJKS(data, password)
		if err != nil {
			return nil, err
		}
		return &Container{Format: "jks", Keys: keys, Certs: certs}, nil
	}

	key, leaf, caCerts, p12Err := DecodePKCS12(data, password)
	if p12Err == nil {
		c := &Container{Format: "pkcs12"}
		if key != nil {
			c.Keys = append(c.Keys, key)
		}
		if leaf != nil {
			c.Certs = append(c.Certs, leaf)
		}
		c.Certs = append(c.Certs, caCerts...)
		return c, nil
	}
	if errors.Is(p12Err, ErrIncorrectPassword) {
		return nil, p12Err
	}

	if certs, err := DecodePKCS7(data); err == nil {
		return &Container{Format: "pkcs7", Certs: certs}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnrecognizedContainer, p12Err)
}
