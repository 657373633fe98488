package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// ArchiveRepository stores archived content identifiers in the archive table.
type ArchiveRepository struct {
	db *sql.DB
}

func NewArchiveRepository(db *sql.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Load returns every archived content identifier in insertion order.
func (r *ArchiveRepository) Load(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_id FROM archive ORDER BY archived_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Append archives contentID. Archiving an existing identifier is a no-op.
func (r *ArchiveRepository) Append(ctx context.Context, contentID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO archive (content_id, archived_at) VALUES (?, ?) ON CONFLICT(content_id) DO NOTHING`,
		contentID, time.Now().UTC(),
	)

	return err
}
