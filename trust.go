package keyshare

import (
	"crypto/x509"
	"sync"
	"time"

	"github.com/breml/rootcerts/embedded"
)

var mozillaRoots = sync.OnceValue(func() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM([]byte(embedded.MozillaCACertificatesPEM()))
	return pool
})

// MozillaRootPool returns the embedded Mozilla root store. The pool is built
// once and shared; callers must not modify it.
func MozillaRootPool() *x509.CertPool {
	return mozillaRoots()
}

// VerifyChainTrust reports whether cert chains to a root in roots using the
// given intermediates. Expired certificates are checked at a moment just
// after issuance so the answer reflects whether the chain was ever valid.
func VerifyChainTrust(cert *x509.Certificate, roots, intermediates *x509.CertPool) bool {
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if time.Now().After(cert.NotAfter) {
		opts.CurrentTime = cert.NotBefore.Add(time.Second)
	}
	_, err := cert.Verify(opts)
	return err == nil
}
