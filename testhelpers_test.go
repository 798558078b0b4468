package keyshare

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
	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// testCert bundles a certificate with the private key it certifies.
type testCert struct {
	cert *x509.Certificate
	key  crypto.Signer
}

// randomSerial returns a random 128-bit certificate serial number.
func randomSerial(t *testing.T) *big.Int {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatal(err)
	}
	return serial
}

// newTestCA generates a self-signed ECDSA P-256 root CA.
func newTestCA(t *testing.T, cn string) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          randomSerial(t),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return testCert{cert: cert, key: key}
}

// newTestLeaf generates an ECDSA P-256 leaf certificate signed by ca.
func newTestLeaf(t *testing.T, ca testCert, cn string) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: randomSerial(t),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return testCert{cert: cert, key: key}
}

// encodePKCS12 builds a PKCS#12 container holding key, leaf and caCerts.
func encodePKCS12(t *testing.T, key crypto.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate, password string) []byte {
	t.Helper()
	pfx, err := gopkcs12.Modern.Encode(key, leaf, caCerts, password)
	if err != nil {
		t.Fatalf("encoding PKCS#12: %v", err)
	}
	return pfx
}

// encodePKCS12TrustStore builds a certificate-only PKCS#12 container.
func encodePKCS12TrustStore(t *testing.T, certs []*x509.Certificate, password string) []byte {
	t.Helper()
	pfx, err := gopkcs12.Modern.EncodeTrustStore(certs, password)
	if err != nil {
		t.Fatalf("encoding PKCS#12 trust store: %v", err)
	}
	return pfx
}

// encodePKCS7 builds a certs-only PKCS#7 bundle.
func encodePKCS7(t *testing.T, certs []*x509.Certificate) []byte {
	t.Helper()
	var der []byte
	for _, c := range certs {
		der = append(der, c.Raw...)
	}
	p7, err := pkcs7.DegenerateCertificate(der)
	if err != nil {
		t.Fatalf("encoding PKCS#7: %v", err)
	}
	return p7
}

// encodeJKS builds a JKS holding one private key entry under alias, with the
// same password on the store and the entry.
func encodeJKS(t *testing.T, alias string, key crypto.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate, password string) []byte {
	t.Helper()
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	chain := []keystore.Certificate{{Type: "X.509", Content: leaf.Raw}}
	for _, ca := range caCerts {
		chain = append(chain, keystore.Certificate{Type: "X.509", Content: ca.Raw})
	}
	ks := keystore.New()
	if err := ks.SetPrivateKeyEntry(alias, keystore.PrivateKeyEntry{
		CreationTime:     time.Now(),
		PrivateKey:       pkcs8,
		CertificateChain: chain,
	}, []byte(password)); err != nil {
		t.Fatalf("setting JKS entry: %v", err)
	}
	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		t.Fatalf("storing JKS: %v", err)
	}
	return buf.Bytes()
}
