package certstore

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"


	"github.com/pavlo-v-chernykh/keystore-go/v4"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// testCert bundles a certificate with the private key it certifies.
type testCert struct {
	cert *x509.Certificate
	key  crypto.Signer
}

// newTestCert generates an ECDSA P-256 certificate. A nil issuer produces a
// self-signed CA.
func newTestCert(t *testing.T, issuer *testCert, cn string) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	parent, signer := tmpl, crypto.Signer(key)
	if issuer == nil {
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		parent, signer = issuer.cert, issuer.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return testCert{cert: cert, key: key}
}

// newIdentityP12 returns a PKCS#12 container holding a fresh leaf identity
// and its CA, plus the leaf for assertions.
func newIdentityP12(t *testing.T, cn, password string) ([]byte, testCert) {
	t.Helper()
	ca := newTestCert(t, nil, cn+" CA")
	leaf := newTestCert(t, &ca, cn)
	data, err := gopkcs12.Modern.Encode(leaf.key, leaf.cert, []*x509.Certificate{ca.cert}, password)
	if err != nil {
		t.Fatalf("encode PKCS#12: %v", err)
	}
	return data, leaf
}

// newIdentityJKS returns a Java KeyStore holding a fresh leaf identity and
// its CA under the alias "server".
func newIdentityJKS(t *testing.T, cn, password string) []byte {
	t.Helper()
	ca := newTestCert(t, nil, cn+" CA")
	leaf := newTestCert(t, &ca, cn)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(leaf.key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	ks := keystore.New()
	if err := ks.SetPrivateKeyEntry("server", keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   pkcs8,
		CertificateChain: []keystore.Certificate{
			{Type: "X.509", Content: leaf.cert.Raw},
			{Type: "X.509", Content: ca.cert.Raw},
		},
	}, []byte(password)); err != nil {
		t.Fatalf("set JKS entry: %v", err)
	}
	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		t.Fatalf("store JKS: %v", err)
	}
	return buf.Bytes()
}

// openTestStore opens an in-memory store closed at test cleanup.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}
