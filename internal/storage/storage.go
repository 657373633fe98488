package storage

import (
	"context"
	"time"
)

// DownloadRecord is one finished download task kept in the history.
type DownloadRecord struct {
	TaskID      string
	SessionID   string
	URL         string
	ContentID   string
	Title       string
	Status      string
	ErrorDetail string
	Attempt     int
	Bytes       int64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// DownloadReadRepository reads the download history.
type DownloadReadRepository interface {
	GetDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// DownloadWriteRepository appends to the download history.
type DownloadWriteRepository interface {
	RecordDownload(ctx context.Context, rec DownloadRecord) error
}

// ArchiveRepository persists the set of archived content identifiers.
type ArchiveRepository interface {
	Load(ctx context.Context) ([]string, error)
	Append(ctx context.Context, contentID string) error
}
