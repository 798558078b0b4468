package coordinator

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/sensiblebit/keyshare/internal/importer"
	"github.com/sensiblebit/keyshare/internal/provider"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// eventLog records collaborator calls in order across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.events {
		if got == e {
			n++
		}
	}
	return n
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

// fakeResource is an in-memory access grant.
type fakeResource struct {
	log     *eventLog
	name    string
	data    []byte
	readErr error
}

func (r *fakeResource) Name() string { return r.name }

func (r *fakeResource) Read(context.Context) ([]byte, error) {
	r.log.add("read")
	return r.data, r.readErr
}

func (r *fakeResource) Release() error {
	r.log.add("release")
	return nil
}

type fakeAccess struct {
	log      *eventLog
	resource *fakeResource
	err      error
}

func (a *fakeAccess) Acquire(context.Context, string) (Resource, error) {
	a.log.add("acquire")
	if a.err != nil {
		return nil, a.err
	}
	return a.resource, nil
}

type fakeConn struct {
	log      *eventLog
	password provider.Secret
	err      error
}

func (c *fakeConn) FetchPassword(context.Context) (provider.Secret, error) {
	c.log.add("fetch")
	return c.password, c.err
}

func (c *fakeConn) Close() error {
	c.log.add("close")
	return nil
}

type fakeSource struct {
	log         *eventLog
	discoverErr error
	connectErr  error
	conn        *fakeConn
}

func (s *fakeSource) Discover(context.Context, string) (provider.Service, error) {
	s.log.add("discover")
	if s.discoverErr != nil {
		return provider.Service{}, s.discoverErr
	}
	return provider.Service{Name: "password", Interface: provider.ServiceName}, nil
}

func (s *fakeSource) Connect(context.Context, provider.Service, string) (PasswordConn, error) {
	s.log.add("connect")
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return s.conn, nil
}

// countingImporter records every import call before delegating.
type countingImporter struct {
	log   *eventLog
	inner Importer
}

func (c *countingImporter) Import(ctx context.Context, name string, data []byte, password string) importer.Outcome {
	c.log.add("import")
	if c.inner == nil {
		return importer.Outcome{Name: name, Kind: importer.Imported, Added: 1}
	}
	return c.inner.Import(ctx, name, data, password)
}

// harness wires a Coordinator to fakes that share one event log.
type harness struct {
	log      *eventLog
	access   *fakeAccess
	source   *fakeSource
	importer *countingImporter
}

func newHarness(name string, data []byte, password string) *harness {
	log := &eventLog{}
	return &harness{
		log:      log,
		access:   &fakeAccess{log: log, resource: &fakeResource{log: log, name: name, data: data}},
		source:   &fakeSource{log: log, conn: &fakeConn{log: log, password: provider.NewSecret(password)}},
		importer: &countingImporter{log: log},
	}
}

func (h *harness) coordinator() *Coordinator {
	return New(Config{
		Access:     h.access,
		Passwords:  h.source,
		Importer:   h.importer,
		OnComplete: func() { h.log.add("notify") },
	})
}

// newP12 returns a PKCS#12 container with a fresh self-signed identity.
func newP12(t *testing.T, cn, password string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
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
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	data, err := gopkcs12.Modern.Encode(key, cert, nil, password)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type zipFile struct {
	name string
	data []byte
}

// createTestZip builds a ZIP archive with entries in the given order.
func createTestZip(t *testing.T, files []zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var errBoom = errors.New("boom")
