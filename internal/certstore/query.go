package certstore

import (
	"context"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sensiblebit/keyshare"
)

// itemRow is the projection used by Enumerate.
type itemRow struct {
	ID    string `db:"item_id"`
	Label string `db:"label"`
}

const (
	identitiesQuery = `
		SELECT c.fingerprint AS item_id, c.label AS label FROM certificates c
		WHERE EXISTS (SELECT 1 FROM keys k WHERE k.subject_key_identifier = c.subject_key_identifier)
		ORDER BY c.id`
	certificatesQuery = `
		SELECT fingerprint AS item_id, label FROM certificates ORDER BY id`
	// A key is labelled after the first certificate that certifies it.
	keysQuery = `
		SELECT k.subject_key_identifier AS item_id,
			COALESCE(
				(SELECT c.label FROM certificates c
					WHERE c.subject_key_identifier = k.subject_key_identifier ORDER BY c.id LIMIT 1),
				k.key_type || ' key') AS label
		FROM keys k ORDER BY k.id`
)

// Enumerate lists the items of the given class in insertion order. ClassAll
// lists every stored certificate followed by every stored key; identities
// are derived and are not repeated there.
func (s *Store) Enumerate(ctx context.Context, class Class) ([]Item, error) {
	switch class {
	case ClassIdentity:
		return s.selectItems(ctx, ClassIdentity, identitiesQuery)
	case ClassCertificate:
		return s.selectItems(ctx, ClassCertificate, certificatesQuery)
	case ClassKey:
		return s.selectItems(ctx, ClassKey, keysQuery)
	case ClassAll:
		certs, err := s.selectItems(ctx, ClassCertificate, certificatesQuery)
		if err != nil {
			return nil, err
		}
		keys, err := s.selectItems(ctx, ClassKey, keysQuery)
		if err != nil {
			return nil, err
		}
		return append(certs, keys...), nil
	default:
		return nil, fmt.Errorf("enumerating: unknown credential class %q", class)
	}
}

func (s *Store) selectItems(ctx context.Context, class Class, query string) ([]Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("enumerating %s items: %w", class, err)
	}
	items := make([]Item, len(rows))
	for i, r := range rows {
		items[i] = Item{Class: class, ID: r.ID, Label: r.Label}
	}
	return items, nil
}

// Attributes computes the attribute mapping of item from the stored object.
// It returns ErrNotFound when the item has been deleted since it was
// enumerated.
func (s *Store) Attributes(ctx context.Context, item Item) (map[string]string, error) {
	switch item.Class {
	case ClassCertificate, ClassIdentity:
		return s.certAttributes(ctx, item)
	case ClassKey:
		return s.keyAttributes(ctx, item)
	default:
		return nil, fmt.Errorf("attributes: unknown credential class %q", item.Class)
	}
}

func (s *Store) certAttributes(ctx context.Context, item Item) (map[string]string, error) {
	var row certRow
	err := s.db.GetContext(ctx, &row, `
		SELECT fingerprint, subject_key_identifier, label, cert_type, der
		FROM certificates WHERE fingerprint = ?`, item.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("certificate %s: %w", item.ID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading certificate %s: %w", item.ID, err)
	}
	cert, err := x509.ParseCertificate(row.DER)
	if err != nil {
		return nil, fmt.Errorf("parsing stored certificate %s: %w", item.ID, err)
	}

	attrs := map[string]string{
		"class":      string(item.Class),
		"label":      row.Label,
		"subject":    cert.Subject.String(),
		"issuer":     cert.Issuer.String(),
		"serial":     cert.SerialNumber.String(),
		"not_before": cert.NotBefore.UTC().Format(time.RFC3339),
		"not_after":  cert.NotAfter.UTC().Format(time.RFC3339),
		"sha256":     row.Fingerprint,
		"cert_type":  row.CertType,
		"key_type":   keyTypeDescription(cert.PublicKey),
		"trusted":    strconv.FormatBool(s.isTrusted(ctx, cert)),
	}
	if ski, err := hex.DecodeString(row.SubjectKeyIdentifier); err == nil {
		attrs["ski"] = keyshare.ColonHex(ski)
	}

	var paired int
	if err := s.db.GetContext(ctx, &paired, `SELECT COUNT(*) FROM keys WHERE subject_key_identifier = ?`, row.SubjectKeyIdentifier); err != nil {
		return nil, fmt.Errorf("looking up key for certificate %s: %w", item.ID, err)
	}
	attrs["has_private_key"] = strconv.FormatBool(paired > 0)
	if fp := keyshare.SSHFingerprint(cert.PublicKey); fp != "" && paired > 0 {
		attrs["ssh_fingerprint"] = fp
	}
	return attrs, nil
}

func (s *Store) keyAttributes(ctx context.Context, item Item) (map[string]string, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT subject_key_identifier, key_type, bit_length, key_data
		FROM keys WHERE subject_key_identifier = ?`, item.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key %s: %w", item.ID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading key %s: %w", item.ID, err)
	}
	key, err := x509.ParsePKCS8PrivateKey(row.KeyData)
	if err != nil {
		return nil, fmt.Errorf("parsing stored key %s: %w", item.ID, err)
	}
	pub, err := keyshare.GetPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("stored key %s: %w", item.ID, err)
	}

	attrs := map[string]string{
		"class":    string(ClassKey),
		"label":    item.Label,
		"key_type": keyTypeDescription(pub),
		"key_bits": strconv.Itoa(row.BitLength),
	}
	if ski, err := hex.DecodeString(row.SubjectKeyIdentifier); err == nil {
		attrs["ski"] = keyshare.ColonHex(ski)
	}
	if fp := keyshare.SSHFingerprint(pub); fp != "" {
		attrs["ssh_fingerprint"] = fp
	}
	return attrs, nil
}

// isTrusted reports whether cert chains to a Mozilla root, using stored
// intermediates to complete the chain.
func (s *Store) isTrusted(ctx context.Context, cert *x509.Certificate) bool {
	var ders [][]byte
	if err := s.db.SelectContext(ctx, &ders, `SELECT der FROM certificates WHERE cert_type = 'intermediate'`); err != nil {
		slog.Warn("loading intermediates for trust check", "error", err)
	}
	intermediates := x509.NewCertPool()
	for _, der := range ders {
		if c, err := x509.ParseCertificate(der); err == nil {
			intermediates.AddCert(c)
		}
	}
	return keyshare.VerifyChainTrust(cert, keyshare.MozillaRootPool(), intermediates)
}

// DeleteAll removes every item of class. Deleting identities removes both
// the certificate and the key of every pair; unpaired objects are kept.
func (s *Store) DeleteAll(ctx context.Context, class Class) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rolling back delete", "error", rbErr)
		}
	}()

	switch class {
	case ClassAll:
		if _, err := tx.ExecContext(ctx, `DELETE FROM certificates`); err != nil {
			return fmt.Errorf("deleting certificates: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys`); err != nil {
			return fmt.Errorf("deleting keys: %w", err)
		}
	case ClassCertificate:
		if _, err := tx.ExecContext(ctx, `DELETE FROM certificates`); err != nil {
			return fmt.Errorf("deleting certificates: %w", err)
		}
	case ClassKey:
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys`); err != nil {
			return fmt.Errorf("deleting keys: %w", err)
		}
	case ClassIdentity:
		if err := deleteIdentities(ctx, tx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("deleting: unknown credential class %q", class)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	slog.Debug("deleted credentials", "class", class)
	return nil
}

func deleteIdentities(ctx context.Context, tx *sqlx.Tx) error {
	var skis []string
	err := tx.SelectContext(ctx, &skis, `
		SELECT DISTINCT k.subject_key_identifier FROM keys k
		JOIN certificates c ON c.subject_key_identifier = k.subject_key_identifier`)
	if err != nil {
		return fmt.Errorf("finding identities: %w", err)
	}
	if len(skis) == 0 {
		return nil
	}
	for _, table := range []string{"certificates", "keys"} {
		query, args, err := sqlx.In(`DELETE FROM `+table+` WHERE subject_key_identifier IN (?)`, skis)
		if err != nil {
			return fmt.Errorf("building identity delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("deleting identity %s: %w", table, err)
		}
	}
	return nil
}
