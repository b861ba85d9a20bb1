// Package ingest filters request attachments down to the files this session
// has never processed.
package ingest

import (
	"context"

	"docpipe/internal/logger"
	"docpipe/internal/models"
	"docpipe/internal/session"
)

// Detector reserves genuinely new files against the session store.
type Detector struct {
	store session.Store
}

func NewDetector(store session.Store) *Detector {
	return &Detector{store: store}
}

// DetectNew returns the subset of files that are supported, identifiable and
// unseen, with each survivor's file_id reserved for the caller. Files
// without an id cannot be deduplicated and are dropped with a warning
// rather than cached; the host will resubmit them and they will be
// reprocessed, which is the safer failure mode.
func (d *Detector) DetectNew(ctx context.Context, key models.SessionKey, files []models.FileDescriptor) ([]models.FileDescriptor, error) {
	var fresh []models.FileDescriptor
	for _, f := range files {
		if f.ContentType != models.ContentTypePDF {
			logger.Debug().Str("name", f.DisplayName).Str("content_type", f.ContentType).
				Msg("skipping unsupported attachment")
			continue
		}
		if f.FileID == "" {
			logger.Warn().Str("name", f.DisplayName).
				Msg("attachment has no file id; cannot deduplicate, skipping")
			continue
		}
		isNew, err := d.store.RegisterIfNew(ctx, key, f.FileID)
		if err != nil {
			return nil, err
		}
		if !isNew {
			continue
		}
		if f.DisplayName == "" {
			f.DisplayName = "unknown.pdf"
		}
		logger.Info().Str("session", key.String()).Str("file_id", f.FileID).
			Str("name", f.DisplayName).Msg("new file detected")
		fresh = append(fresh, f)
	}
	return fresh, nil
}
