package keyshare

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// ErrIncorrectPassword is returned when a container's integrity check fails
// with the supplied password.
var ErrIncorrectPassword = errors.New("incorrect password")

// DecodePKCS12 decodes a PKCS#12/PFX bundle holding one private key and
// returns it with the leaf certificate and CA certificates. A bundle without
// a key is decoded as a trust store, in which case the key and leaf are nil.
// A failed integrity check is reported as ErrIncorrectPassword.
func DecodePKCS12(pfxData []byte, password string) (crypto.PrivateKey, *x509.Certificate, []*x509.Certificate, error) {
	privateKey, leaf, caCerts, err := gopkcs12.DecodeChain(pfxData, password)
	if err == nil {
		return normalizeKey(privateKey), leaf, caCerts, nil
	}
	if errors.Is(err, gopkcs12.ErrIncorrectPassword) {
		return nil, nil, nil, fmt.Errorf("decoding PKCS#12: %w", ErrIncorrectPassword)
	}

	certs, tsErr := gopkcs12.DecodeTrustStore(pfxData, password)
	if tsErr != nil || len(certs) == 0 {
		return nil, nil, nil, fmt.Errorf("decoding PKCS#12: %w", err)
	}
	return nil, nil, certs, nil
}

// DecodePKCS7 decodes a DER-encoded PKCS#7 bundle and returns the certificates it contains.
// Returns an error if decoding fails or the bundle contains no certificates.
func DecodePKCS7(derData []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(derData)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#7: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, errors.New("PKCS#7 bundle contains no certificates")
	}
	return p7.Certificates, nil
}
