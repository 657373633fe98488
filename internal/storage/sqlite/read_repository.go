package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/storage"
)

type DownloadReadRepository struct {
	db *sql.DB
}

func NewDownloadReadRepository(dbConn *sql.DB) *DownloadReadRepository {
	return &DownloadReadRepository{db: dbConn}
}

// GetDownloads returns the most recent history records, newest first.
func (r *DownloadReadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			task_id,
			session_id,
			url,
			content_id,
			title,
			status,
			error_detail,
			attempt,
			bytes,
			started_at,
			finished_at
		FROM downloads
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		var (
			record                                   storage.DownloadRecord
			sessionID, contentID, title, errorDetail sql.NullString
			startedAt, finishedAt                    sql.NullTime
		)

		if err := rows.Scan(
			&record.TaskID, &sessionID, &record.URL, &contentID, &title, &record.Status, &errorDetail,
			&record.Attempt, &record.Bytes, &startedAt, &finishedAt,
		); err != nil {
			return nil, err
		}

		record.SessionID = sessionID.String
		record.ContentID = contentID.String
		record.Title = title.String
		record.ErrorDetail = errorDetail.String
		record.StartedAt = startedAt.Time
		record.FinishedAt = finishedAt.Time

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

// CountByStatus returns the number of history records per status.
func (r *DownloadReadRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM downloads GROUP BY status`)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
