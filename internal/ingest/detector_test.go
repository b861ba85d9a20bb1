package ingest

import (
	"context"
	"testing"

	"docpipe/internal/models"
	"docpipe/internal/session"
)

func TestDetectNewFiltersAndReserves(t *testing.T) {
	store := session.NewMemoryStore()
	detector := NewDetector(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}

	files := []models.FileDescriptor{
		{FileID: "f1", DisplayName: "report.pdf", ContentType: models.ContentTypePDF},
		{FileID: "f2", DisplayName: "photo.png", ContentType: "image/png"},
		{FileID: "", DisplayName: "noid.pdf", ContentType: models.ContentTypePDF},
	}
	fresh, err := detector.DetectNew(context.Background(), key, files)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(fresh) != 1 || fresh[0].FileID != "f1" {
		t.Fatalf("expected only f1, got %v", fresh)
	}

	// The survivor is reserved; resubmission detects nothing.
	fresh, err = detector.DetectNew(context.Background(), key, files)
	if err != nil {
		t.Fatalf("detect again: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("resubmitted batch should yield nothing, got %v", fresh)
	}
}

func TestDetectNewDefaultsDisplayName(t *testing.T) {
	store := session.NewMemoryStore()
	detector := NewDetector(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}

	files := []models.FileDescriptor{
		{FileID: "f1", ContentType: models.ContentTypePDF},
	}
	fresh, err := detector.DetectNew(context.Background(), key, files)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(fresh) != 1 || fresh[0].DisplayName != "unknown.pdf" {
		t.Fatalf("expected defaulted name, got %v", fresh)
	}
}

func TestDetectNewUnnamedFileStaysNew(t *testing.T) {
	store := session.NewMemoryStore()
	detector := NewDetector(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}

	files := []models.FileDescriptor{
		{FileID: "", DisplayName: "noid.pdf", ContentType: models.ContentTypePDF},
	}
	for i := 0; i < 2; i++ {
		fresh, err := detector.DetectNew(context.Background(), key, files)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if len(fresh) != 0 {
			t.Fatalf("file without id must never be detected, got %v", fresh)
		}
	}
}
