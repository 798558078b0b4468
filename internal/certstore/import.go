package certstore

import (
	"context"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sensiblebit/keyshare"
)

// ImportContainer decrypts one credential container with password and adds
// every key and certificate it holds. Objects already present (same SKI for
// keys, same SHA-256 fingerprint for certificates) are counted as duplicates.
// The whole container is imported in one transaction; on failure nothing is
// added and the error is an *ImportError.
func (s *Store) ImportContainer(ctx context.Context, data []byte, password string) (ImportStatus, error) {
	c, err := keyshare.DecodeContainer(data, password)
	if err != nil {
		code := CodeDecode
		if errors.Is(err, keyshare.ErrIncorrectPassword) {
			code = CodeAuthFailed
		}
		return ImportStatus{}, &ImportError{Code: code, Err: err}
	}

	keys := make([]keyRow, 0, len(c.Keys))
	for _, key := range c.Keys {
		row, err := newKeyRow(key)
		if err != nil {
			return ImportStatus{}, &ImportError{Code: CodeUnsupported, Err: err}
		}
		keys = append(keys, row)
	}
	certs := make([]certRow, 0, len(c.Certs))
	for _, cert := range c.Certs {
		row, err := newCertRow(cert)
		if err != nil {
			return ImportStatus{}, &ImportError{Code: CodeUnsupported, Err: err}
		}
		certs = append(certs, row)
	}

	status, err := s.insert(ctx, keys, certs)
	if err != nil {
		return ImportStatus{}, &ImportError{Code: CodeStore, Err: err}
	}
	slog.Debug("imported container", "format", c.Format, "added", status.Added, "duplicates", status.Duplicates)
	return status, nil
}

func (s *Store) insert(ctx context.Context, keys []keyRow, certs []certRow) (ImportStatus, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ImportStatus{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rolling back import", "error", rbErr)
		}
	}()

	var status ImportStatus
	count := func(n int64) {
		if n > 0 {
			status.Added++
		} else {
			status.Duplicates++
		}
	}

	for _, k := range keys {
		res, err := tx.NamedExecContext(ctx, `
			INSERT OR IGNORE INTO keys (subject_key_identifier, key_type, bit_length, key_data)
			VALUES (:subject_key_identifier, :key_type, :bit_length, :key_data)`, k)
		if err != nil {
			return ImportStatus{}, fmt.Errorf("inserting key %s: %w", k.SubjectKeyIdentifier, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ImportStatus{}, fmt.Errorf("inserting key %s: %w", k.SubjectKeyIdentifier, err)
		}
		count(n)
	}
	for _, c := range certs {
		res, err := tx.NamedExecContext(ctx, `
			INSERT OR IGNORE INTO certificates (fingerprint, subject_key_identifier, label, cert_type, der)
			VALUES (:fingerprint, :subject_key_identifier, :label, :cert_type, :der)`, c)
		if err != nil {
			return ImportStatus{}, fmt.Errorf("inserting certificate %s: %w", c.Fingerprint, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ImportStatus{}, fmt.Errorf("inserting certificate %s: %w", c.Fingerprint, err)
		}
		count(n)
	}

	if err := tx.Commit(); err != nil {
		return ImportStatus{}, fmt.Errorf("committing import: %w", err)
	}
	return status, nil
}

func newKeyRow(key any) (keyRow, error) {
	pub, err := keyshare.GetPublicKey(key)
	if err != nil {
		return keyRow{}, err
	}
	ski, err := keyshare.ComputeSKI(pub)
	if err != nil {
		return keyRow{}, fmt.Errorf("computing SKI: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return keyRow{}, fmt.Errorf("marshaling private key: %w", err)
	}
	return keyRow{
		SubjectKeyIdentifier: hex.EncodeToString(ski),
		KeyType:              keyshare.PublicKeyAlgorithmName(pub),
		BitLength:            keyshare.PublicKeyBits(pub),
		KeyData:              der,
	}, nil
}

func newCertRow(cert *x509.Certificate) (certRow, error) {
	ski, err := keyshare.ComputeSKI(cert.PublicKey)
	if err != nil {
		return certRow{}, fmt.Errorf("computing SKI for %s: %w", keyshare.CertLabel(cert), err)
	}
	return certRow{
		Fingerprint:          keyshare.CertFingerprint(cert),
		SubjectKeyIdentifier: hex.EncodeToString(ski),
		Label:                keyshare.CertLabel(cert),
		CertType:             keyshare.GetCertificateType(cert),
		DER:                  cert.Raw,
	}, nil
}
