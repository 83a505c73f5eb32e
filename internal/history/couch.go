// Package history reads persisted submission records from CouchDB. The
// session fetches once at start and splices the result with the live
// replicated log; it never re-queries during the session.
package history

import (
	"context"
	"fmt"

	"peerprep-collab/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type CouchStore struct {
	client *kivik.Client
	dbName string
}

func NewCouchStore(client *kivik.Client, dbName string) *CouchStore {
	return &CouchStore{
		client: client,
		dbName: dbName,
	}
}

// SaveSubmission persists a resolved record so future sessions on the same
// problem can load it.
func (s *CouchStore) SaveSubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	db := s.client.DB(s.dbName)

	if _, _, err := db.CreateDoc(ctx, rec); err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

func (s *CouchStore) FetchSubmissionHistory(ctx context.Context, problemID string) ([]domain.SubmissionRecord, error) {
	db := s.client.DB(s.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"problem_id": problemID,
		},
		"sort": []map[string]string{
			{"time": "asc"},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch submission history: %w", err)
	}
	defer rows.Close()

	var records []domain.SubmissionRecord
	for rows.Next() {
		var rec domain.SubmissionRecord
		if err := rows.ScanDoc(&rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
