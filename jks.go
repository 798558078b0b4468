package keyshare

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

// jksMagic is the leading 4 bytes of every Java KeyStore.
var jksMagic = []byte{0xFE, 0xED, 0xFE, 0xED}

// IsJKS reports whether data starts with the JKS magic number.
func IsJKS(data []byte) bool {
	return bytes.HasPrefix(data, jksMagic)
}

// isDigestMismatch reports whether a keystore load failed its integrity
// digest. keystore-go keys that digest by the store password and exports no
// sentinel for the mismatch.
func isDigestMismatch(err error) bool {
	return strings.Contains(err.Error(), "invalid digest")
}

// DecodeJKS decodes a Java KeyStore (JKS) and returns the certificates and
// private keys it contains. The same password is used for both the store and
// individual entries (standard Java convention).
//
// TrustedCertificateEntry entries yield certificates. PrivateKeyEntry entries
// yield PKCS#8 private keys and their certificate chains. Individual entry
// errors are skipped; an error is returned only if the store cannot be loaded
// or no usable entries are found. A store digest that does not match the
// password is reported as ErrIncorrectPassword.
func DecodeJKS(data []byte, password string) ([]*x509.Certificate, []crypto.PrivateKey, error) {
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		if isDigestMismatch(err) {
			return nil, nil, fmt.Errorf("loading JKS: %w", ErrIncorrectPassword)
		}
		return nil, nil, fmt.Errorf("loading JKS: %w", err)
	}

	var certs []*x509.Certificate
	var keys []crypto.PrivateKey

	for _, alias := range ks.Aliases() {
		if ks.IsTrustedCertificateEntry(alias) {
			entry, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				continue
			}
			cert, err := x509.ParseCertificate(entry.Certificate.Content)
			if err != nil {
				continue
			}
			certs = append(certs, cert)
		}

		if ks.IsPrivateKeyEntry(alias) {
			entry, err := ks.GetPrivateKeyEntry(alias, []byte(password))
			if err != nil {
				continue
			}
			key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
			if err != nil {
				continue
			}
			keys = append(keys, normalizeKey(key))

			for _, certEntry := range entry.CertificateChain {
				cert, err := x509.ParseCertificate(certEntry.Content)
				if err != nil {
					continue
				}
				certs = append(certs, cert)
			}
		}
	}

	if len(certs) == 0 && len(keys) == 0 {
		return nil, nil, errors.New("JKS contains no usable certificates or keys")
	}
	return certs, keys, nil
}
