package sources

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_AppendScreenshot_cap(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())
	url := "rtsp://test/cam1"

	for i := 1; i <= 25; i++ {
		s.AppendScreenshot(url, "sess", "shot-"+strconv.Itoa(i)+".jpg")
	}

	rec, ok := s.FindByURL(url)
	if !ok {
		t.Fatal("expected record after AppendScreenshot")
	}
	if len(rec.Screenshots) != MaxScreenshots {
		t.Fatalf("expected %d screenshots, got %d", MaxScreenshots, len(rec.Screenshots))
	}
	if rec.Screenshots[0].FileName != "shot-25.jpg" {
		t.Errorf("newest first: got %s", rec.Screenshots[0].FileName)
	}
	if rec.Screenshots[MaxScreenshots-1].FileName != "shot-6.jpg" {
		t.Errorf("oldest kept should be shot-6.jpg, got %s", rec.Screenshots[MaxScreenshots-1].FileName)
	}
	for _, shot := range rec.Screenshots {
		n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(shot.FileName, "shot-"), ".jpg"))
		if n <= 5 {
			t.Errorf("evicted screenshot still present: %s", shot.FileName)
		}
	}
}

func TestStore_UpsertOnStart_keeps_existing_metadata(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())
	url := "rtsp://test/cam1"

	s.UpsertOnStart(url, "a", "Front door", "north side")
	rec := s.UpsertOnStart(url, "b", "", "   ")

	if rec.Label != "Front door" || rec.Notes != "north side" {
		t.Errorf("empty input should not overwrite: label=%q notes=%q", rec.Label, rec.Notes)
	}
	if rec.LastSessionID != "b" {
		t.Errorf("last session should refresh, got %q", rec.LastSessionID)
	}
	if rec.LastStartedAt == nil {
		t.Error("last started at should be set")
	}

	rec = s.UpsertOnStart(url, "c", "Back door", "")
	if rec.Label != "Back door" || rec.Notes != "north side" {
		t.Errorf("non-empty label should overwrite: label=%q notes=%q", rec.Label, rec.Notes)
	}
}

func TestStore_UpdateMetadataOnly_overwrites_with_empty(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())
	url := "rtsp://test/cam1"

	s.UpsertOnStart(url, "a", "Front door", "north side")
	rec := s.UpdateMetadataOnly(url, "", "")

	if rec.Label != "" || rec.Notes != "" {
		t.Errorf("expected empty label/notes, got %q/%q", rec.Label, rec.Notes)
	}
	if rec.LastSessionID != "a" {
		t.Errorf("metadata update must not touch session fields, got %q", rec.LastSessionID)
	}
}

func TestStore_UpdateMetadataOnly_creates(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())

	rec := s.UpdateMetadataOnly("rtsp://new", "Lobby", "")
	if rec.SourceURL != "rtsp://new" || rec.Label != "Lobby" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LastStartedAt != nil || rec.LastSessionID != "" {
		t.Errorf("new record should have no session, got %+v", rec)
	}
	if got := len(s.List()); got != 1 {
		t.Errorf("expected 1 record, got %d", got)
	}
}

func TestStore_truncates_long_text(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())

	rec := s.UpdateMetadataOnly("rtsp://x", strings.Repeat("l", 100), strings.Repeat("ñ", 500))
	if n := len([]rune(rec.Label)); n != MaxLabelLength {
		t.Errorf("label length %d, want %d", n, MaxLabelLength)
	}
	if n := len([]rune(rec.Notes)); n != MaxNotesLength {
		t.Errorf("notes length %d, want %d", n, MaxNotesLength)
	}
}

func TestStore_persists_every_mutation(t *testing.T) {
	p := NewMemoryPersister()
	s := Open(p, testLogger())

	s.UpsertOnStart("rtsp://a", "1", "A", "")
	s.AppendScreenshot("rtsp://b", "2", "b.jpg")

	recs, _ := p.Load()
	if len(recs) != 2 {
		t.Fatalf("expected 2 persisted records, got %d", len(recs))
	}
	if recs[0].SourceURL != "rtsp://a" || recs[1].SourceURL != "rtsp://b" {
		t.Errorf("unexpected order: %s, %s", recs[0].SourceURL, recs[1].SourceURL)
	}
	if len(recs[1].Screenshots) != 1 {
		t.Errorf("screenshot not persisted: %+v", recs[1])
	}
}

func TestStore_persist_failure_is_swallowed(t *testing.T) {
	p := NewMemoryPersister()
	p.Fail = errors.New("disk full")
	s := Open(p, testLogger())

	rec := s.UpsertOnStart("rtsp://a", "1", "A", "")
	if rec.Label != "A" {
		t.Errorf("in-memory state should still update, got %+v", rec)
	}
	if _, ok := s.FindByURL("rtsp://a"); !ok {
		t.Error("record should be found in memory after failed persist")
	}
}

func TestStore_FindByURL_missing(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())
	if _, ok := s.FindByURL("rtsp://none"); ok {
		t.Error("expected not found")
	}
}

func TestStore_List_returns_copies(t *testing.T) {
	s := Open(NewMemoryPersister(), testLogger())
	s.AppendScreenshot("rtsp://a", "1", "a.jpg")

	list := s.List()
	list[0].Label = "mutated"
	list[0].Screenshots[0].FileName = "mutated.jpg"

	rec, _ := s.FindByURL("rtsp://a")
	if rec.Label == "mutated" || rec.Screenshots[0].FileName == "mutated.jpg" {
		t.Error("List must not expose internal state")
	}
}

func TestFilePersister_round_trip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sources.json")

	s := Open(NewFilePersister(path), testLogger())
	s.UpsertOnStart("rtsp://a", "1", "A", "notes")
	s.AppendScreenshot("rtsp://a", "1", "a.jpg")

	reopened := Open(NewFilePersister(path), testLogger())
	rec, ok := reopened.FindByURL("rtsp://a")
	if !ok {
		t.Fatal("record not reloaded from file")
	}
	if rec.Label != "A" || rec.Notes != "notes" || rec.LastSessionID != "1" {
		t.Errorf("unexpected reloaded record: %+v", rec)
	}
	if len(rec.Screenshots) != 1 || rec.Screenshots[0].FileName != "a.jpg" {
		t.Errorf("screenshots not reloaded: %+v", rec.Screenshots)
	}
}

func TestFilePersister_missing_and_corrupt(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing_file_is_empty", func(t *testing.T) {
		s := Open(NewFilePersister(filepath.Join(dir, "absent.json")), testLogger())
		if got := len(s.List()); got != 0 {
			t.Errorf("expected empty store, got %d", got)
		}
	})

	t.Run("corrupt_file_is_empty", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		s := Open(NewFilePersister(path), testLogger())
		if got := len(s.List()); got != 0 {
			t.Errorf("expected empty store, got %d", got)
		}

		// The store stays usable and overwrites the corrupt file.
		s.UpdateMetadataOnly("rtsp://a", "A", "")
		recs, err := NewFilePersister(path).Load()
		if err != nil {
			t.Fatalf("reload after rewrite: %v", err)
		}
		if len(recs) != 1 {
			t.Errorf("expected 1 record after rewrite, got %d", len(recs))
		}
	})
}
