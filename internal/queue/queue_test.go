package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/fieldlens/reidcore/internal/conflict"
	"github.com/fieldlens/reidcore/internal/gallery"
	"github.com/fieldlens/reidcore/internal/model"
)

func TestHandleCorrection_SubmitsToResolver(t *testing.T) {
	resolver := conflict.New(8)
	gal := gallery.New(filepath.Join(t.TempDir(), "gallery.json"), 500)
	s := &Server{resolver: resolver, gal: gal}

	payload, err := json.Marshal(model.Correction{Kind: model.CorrectionSetPlayer, TrackID: 1, PlayerID: "p1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := s.handleCorrection(context.Background(), asynq.NewTask(TaskCorrection, payload)); err != nil {
		t.Fatalf("handleCorrection: %v", err)
	}

	drained := resolver.DrainCorrections()
	if len(drained) != 1 {
		t.Fatalf("expected 1 correction submitted to resolver, got %d", len(drained))
	}
	if drained[0].PlayerID != "p1" {
		t.Fatalf("expected p1, got %q", drained[0].PlayerID)
	}
}

func TestHandleCorrection_InvalidPayloadErrors(t *testing.T) {
	s := &Server{resolver: conflict.New(8), gal: gallery.New(filepath.Join(t.TempDir(), "gallery.json"), 500)}
	if err := s.handleCorrection(context.Background(), asynq.NewTask(TaskCorrection, []byte("not json"))); err == nil {
		t.Fatal("expected an error unmarshalling a malformed payload")
	}
}

func TestHandlePersistGallery_SavesGallery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	gal := gallery.New(path, 500)
	gal.EnsurePlayer("p1", "Alice")
	s := &Server{resolver: conflict.New(8), gal: gal}

	if err := s.handlePersistGallery(context.Background(), asynq.NewTask(TaskPersistGallery, nil)); err != nil {
		t.Fatalf("handlePersistGallery: %v", err)
	}

	loaded, err := gallery.Load(path, 500)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := loaded.Profile("p1"); !ok {
		t.Fatal("expected p1 to survive the on-demand persist")
	}
}
