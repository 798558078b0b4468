package certstore

import (
	"context"
	"fmt"
)

// Summary holds aggregate counts over the store contents.
type Summary struct {
	Identities    int `json:"identities" db:"identities"`
	Certificates  int `json:"certificates" db:"certificates"`
	Keys          int `json:"keys" db:"keys"`
	Roots         int `json:"roots" db:"roots"`
	Intermediates int `json:"intermediates" db:"intermediates"`
	Leaves        int `json:"leaves" db:"leaves"`
}

// Summarize counts the objects currently in the store.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.GetContext(ctx, &sum, `
		SELECT
			(SELECT COUNT(*) FROM certificates c
				WHERE EXISTS (SELECT 1 FROM keys k WHERE k.subject_key_identifier = c.subject_key_identifier)) AS identities,
			(SELECT COUNT(*) FROM certificates) AS certificates,
			(SELECT COUNT(*) FROM keys) AS keys,
			(SELECT COUNT(*) FROM certificates WHERE cert_type = 'root') AS roots,
			(SELECT COUNT(*) FROM certificates WHERE cert_type = 'intermediate') AS intermediates,
			(SELECT COUNT(*) FROM certificates WHERE cert_type = 'leaf') AS leaves
	`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing store: %w", err)
	}
	return sum, nil
}
