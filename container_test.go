package keyshare

import (
	"crypto/x509"
	"errors"
	"testing"
)

func TestDecodeContainer_Formats(t *testing.T) {
	// WHY: The import primitive hands every container to DecodeContainer;
	// each supported format must be recognized and report its format name.
	t.Parallel()
	ca := newTestCA(t, "Container CA")
	leaf := newTestLeaf(t, ca, "container.example.com")

	p12 := encodePKCS12(t, leaf.key, leaf.cert, []*x509.Certificate{ca.cert}, "pw")
	jks := encodeJKS(t, "alias", leaf.key, leaf.cert, nil, "pw")
	p7 := encodePKCS7(t, []*x509.Certificate{leaf.cert, ca.cert})

	tests := []struct {
		name      string
		data      []byte
		format    string
		wantKeys  int
		wantCerts int
	}{
		{"pkcs12", p12, "pkcs12", 1, 2},
		{"jks", jks, "jks", 1, 1},
		{"pkcs7", p7, "pkcs7", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := DecodeContainer(tt.data, "pw")
			if err != nil {
				t.Fatalf("DecodeContainer: %v", err)
			}
			if c.Format != tt.format {
				t.Errorf("Format = %q, want %q", c.Format, tt.format)
			}
			if len(c.Keys) != tt.wantKeys || len(c.Certs) != tt.wantCerts {
				t.Errorf("got %d keys / %d certs, want %d / %d", len(c.Keys), len(c.Certs), tt.wantKeys, tt.wantCerts)
			}
		})
	}
}

func TestDecodeContainer_Failures(t *testing.T) {
	// WHY: Wrong passwords and garbage must fail with distinguishable errors,
	// since the store maps them to different failure codes.
	t.Parallel()
	ca := newTestCA(t, "Failure CA")
	leaf := newTestLeaf(t, ca, "failure.example.com")
	p12 := encodePKCS12(t, leaf.key, leaf.cert, nil, "right")
	jks := encodeJKS(t, "alias", leaf.key, leaf.cert, nil, "right")

	if _, err := DecodeContainer(p12, "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Errorf("wrong PKCS#12 password: err = %v, want ErrIncorrectPassword", err)
	}
	if _, err := DecodeContainer(jks, "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Errorf("wrong JKS password: err = %v, want ErrIncorrectPassword", err)
	}
	if _, err := DecodeContainer([]byte("not a container"), "pw"); !errors.Is(err, ErrUnrecognizedContainer) {
		t.Errorf("garbage: err = %v, want ErrUnrecognizedContainer", err)
	}
	if _, err := DecodeContainer(nil, "pw"); !errors.Is(err, ErrUnrecognizedContainer) {
		t.Errorf("empty: err = %v, want ErrUnrecognizedContainer", err)
	}
}
