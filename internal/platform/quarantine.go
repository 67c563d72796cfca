package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/store"
	"go.uber.org/zap"
)

const quarantinedFilesCollection = "quarantined_files"

// FileQuarantine isolates uploaded files pending manual review. The media
// pipeline checks Quarantined before serving or transcoding an upload.
type FileQuarantine struct {
	store  store.DocumentStore
	logger *zap.Logger
	clock  clock.Clock
}

func NewFileQuarantine(docs store.DocumentStore, logger *zap.Logger, clk clock.Clock) *FileQuarantine {
	if clk == nil {
		clk = clock.Real()
	}
	return &FileQuarantine{store: docs, logger: logger, clock: clk}
}

type quarantineRecord struct {
	FileID        string    `json:"fileId"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
	Released      bool      `json:"released"`
}

// Quarantine pulls a file out of circulation. Quarantining an already
// quarantined file is a no-op.
func (q *FileQuarantine) Quarantine(ctx context.Context, fileID string) error {
	if fileID == "" {
		return errors.New("file id is required")
	}
	record := quarantineRecord{FileID: fileID, QuarantinedAt: q.clock.Now()}
	if err := q.save(ctx, record); err != nil {
		return err
	}
	q.logger.Warn("file quarantined", zap.String("file_id", fileID))
	return nil
}

// Release returns a reviewed file to circulation.
func (q *FileQuarantine) Release(ctx context.Context, fileID string) error {
	doc, err := q.store.Get(ctx, quarantinedFilesCollection, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load quarantine record %s: %w", fileID, err)
	}
	var record quarantineRecord
	if err := json.Unmarshal(doc.Body, &record); err != nil {
		return fmt.Errorf("decode quarantine record %s: %w", fileID, err)
	}
	record.Released = true
	if err := q.save(ctx, record); err != nil {
		return err
	}
	q.logger.Info("file released from quarantine", zap.String("file_id", fileID))
	return nil
}

// Quarantined reports whether a file is currently held.
func (q *FileQuarantine) Quarantined(ctx context.Context, fileID string) (bool, error) {
	doc, err := q.store.Get(ctx, quarantinedFilesCollection, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load quarantine record %s: %w", fileID, err)
	}
	var record quarantineRecord
	if err := json.Unmarshal(doc.Body, &record); err != nil {
		return false, fmt.Errorf("decode quarantine record %s: %w", fileID, err)
	}
	return !record.Released, nil
}

func (q *FileQuarantine) save(ctx context.Context, record quarantineRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal quarantine record: %w", err)
	}
	status := "held"
	if record.Released {
		status = "released"
	}
	err = q.store.Put(ctx, quarantinedFilesCollection, store.Document{
		ID:      record.FileID,
		Indexed: map[string]string{"status": status},
		At:      record.QuarantinedAt,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("save quarantine record %s: %w", record.FileID, err)
	}
	return nil
}
