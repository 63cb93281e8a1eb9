package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sjawhar/rehearsal/internal/practice"
)

// Uploader publishes a day's report file.
type Uploader interface {
	Sync(ctx context.Context, localPath, date string) error
}

// Archive persists a finished practice session: the sqlite row first, then
// the markdown report, then an optional upload of that day's report.
type Archive struct {
	store    *SQLiteStore
	writer   *ReportWriter
	uploader Uploader
}

func NewArchive(store *SQLiteStore, writer *ReportWriter, uploader Uploader) *Archive {
	return &Archive{store: store, writer: writer, uploader: uploader}
}

func (a *Archive) SavePracticeSession(ctx context.Context, record practice.Record) error {
	if a.store != nil {
		if err := a.store.SavePracticeSession(ctx, record); err != nil {
			return err
		}
	}
	if a.writer == nil {
		return nil
	}

	path, err := a.writer.Append(record)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if a.uploader == nil {
		return nil
	}

	date := record.CreatedAt.Format("2006-01-02")
	if err := a.uploader.Sync(ctx, path, date); err != nil {
		return fmt.Errorf("upload report %s: %w", date, err)
	}
	slog.Info("practice report uploaded", "date", date, "path", path)
	return nil
}
