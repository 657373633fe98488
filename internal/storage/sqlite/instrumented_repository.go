package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/auto_ytdlp/internal/storage"
	"github.com/italolelis/auto_ytdlp/internal/telemetry"
)

var (
	_ storage.DownloadReadRepository  = (*InstrumentedDownloadRepository)(nil)
	_ storage.DownloadWriteRepository = (*InstrumentedDownloadRepository)(nil)
	_ storage.ArchiveRepository       = (*InstrumentedArchiveRepository)(nil)
)

// InstrumentedDownloadRepository wraps the history repositories with telemetry.
type InstrumentedDownloadRepository struct {
	read      *DownloadReadRepository
	write     *DownloadWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		read:      NewDownloadReadRepository(dbConn),
		write:     NewDownloadWriteRepository(dbConn),
		telemetry: tel,
	}
}

// GetDownloads retrieves recent downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.read.GetDownloads(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CountByStatus counts history records with telemetry.
func (r *InstrumentedDownloadRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var result map[string]int

	err := r.telemetry.InstrumentDBOperation(ctx, "count_by_status", func(ctx context.Context) error {
		var err error

		result, err = r.read.CountByStatus(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RecordDownload stores a history record with telemetry.
func (r *InstrumentedDownloadRepository) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_download", func(ctx context.Context) error {
		return r.write.RecordDownload(ctx, rec)
	})
}

// InstrumentedArchiveRepository wraps ArchiveRepository with telemetry.
type InstrumentedArchiveRepository struct {
	repo      *ArchiveRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedArchiveRepository creates a new instrumented archive repository.
func NewInstrumentedArchiveRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedArchiveRepository {
	return &InstrumentedArchiveRepository{
		repo:      NewArchiveRepository(dbConn),
		telemetry: tel,
	}
}

// Load reads the archive with telemetry.
func (r *InstrumentedArchiveRepository) Load(ctx context.Context) ([]string, error) {
	var result []string

	err := r.telemetry.InstrumentDBOperation(ctx, "load_archive", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Load(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Append archives a content identifier with telemetry.
func (r *InstrumentedArchiveRepository) Append(ctx context.Context, contentID string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "append_archive", func(ctx context.Context) error {
		return r.repo.Append(ctx, contentID)
	})
}
