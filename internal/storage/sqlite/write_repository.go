package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/auto_ytdlp/internal/storage"
)

// DownloadWriteRepository implements storage.DownloadWriteRepository
// and stores download records in SQLite.
type DownloadWriteRepository struct {
	db *sql.DB
}

func NewDownloadWriteRepository(db *sql.DB) *DownloadWriteRepository {
	return &DownloadWriteRepository{db: db}
}

func (r *DownloadWriteRepository) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (
			task_id, session_id, url, content_id, title, status, error_detail, attempt, bytes, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.SessionID, rec.URL, rec.ContentID, rec.Title, rec.Status, rec.ErrorDetail,
		rec.Attempt, rec.Bytes, nullTime(rec.StartedAt), nullTime(rec.FinishedAt),
	)

	return err
}
