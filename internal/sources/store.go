package sources

import (
	"log/slog"
	"sync"
	"time"
)

// Store holds the known-source records in memory and writes every mutation
// through to a Persister. The in-memory list is authoritative: a failed write
// is logged and the mutation still stands for the life of the process.
type Store struct {
	mu        sync.Mutex
	records   []*Record
	byURL     map[string]*Record
	persister Persister
	log       *slog.Logger
	now       func() time.Time
}

// Open loads the records from p. Missing or unreadable storage yields an
// empty store; the error is logged, never returned.
func Open(p Persister, log *slog.Logger) *Store {
	s := &Store{
		byURL:     make(map[string]*Record),
		persister: p,
		log:       log.With("component", "sources"),
		now:       func() time.Time { return time.Now().UTC() },
	}

	recs, err := p.Load()
	if err != nil {
		s.log.Warn("metadata load failed, starting empty", slog.String("error", err.Error()))
		return s
	}
	for i := range recs {
		rec := recs[i].clone()
		if rec.SourceURL == "" {
			continue
		}
		if _, dup := s.byURL[rec.SourceURL]; dup {
			continue
		}
		s.records = append(s.records, &rec)
		s.byURL[rec.SourceURL] = &rec
	}
	s.log.Info("metadata loaded", slog.Int("sources", len(s.records)))
	return s
}

// List returns a copy of every record in stored order.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.clone())
	}
	return out
}

// FindByURL returns the record for url, if any.
func (s *Store) FindByURL(url string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byURL[url]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// UpsertOnStart records a session start for url. Label and notes are only
// overwritten when the sanitized input is non-empty; the last session fields
// are always refreshed.
func (s *Store) UpsertOnStart(url, sessionID, label, notes string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateLocked(url)
	if l := SanitizeLabel(label); l != "" {
		r.Label = l
	}
	if n := SanitizeNotes(notes); n != "" {
		r.Notes = n
	}
	started := s.now()
	r.LastSessionID = sessionID
	r.LastStartedAt = &started

	s.persistLocked()
	return r.clone()
}

// UpdateMetadataOnly replaces label and notes unconditionally, empty strings
// included. The record is created if absent.
func (s *Store) UpdateMetadataOnly(url, label, notes string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateLocked(url)
	r.Label = SanitizeLabel(label)
	r.Notes = SanitizeNotes(notes)

	s.persistLocked()
	return r.clone()
}

// AppendScreenshot prepends a screenshot to url's history, keeping at most
// MaxScreenshots entries (newest first). The record is created if absent.
func (s *Store) AppendScreenshot(url, sessionID, fileName string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateLocked(url)
	if r.LastSessionID == "" {
		r.LastSessionID = sessionID
	}
	shot := Screenshot{FileName: fileName, CapturedAt: s.now(), SessionID: sessionID}
	r.Screenshots = append([]Screenshot{shot}, r.Screenshots...)
	if len(r.Screenshots) > MaxScreenshots {
		r.Screenshots = r.Screenshots[:MaxScreenshots]
	}

	s.persistLocked()
	return r.clone()
}

// getOrCreateLocked returns the record for url, creating an empty one.
// Caller must hold s.mu.
func (s *Store) getOrCreateLocked(url string) *Record {
	if r, ok := s.byURL[url]; ok {
		return r
	}
	r := &Record{SourceURL: url, Screenshots: []Screenshot{}}
	s.records = append(s.records, r)
	s.byURL[url] = r
	return r
}

// persistLocked writes the full record list. Failures are logged only.
// Caller must hold s.mu, so writes are serialized and complete before the
// next read or mutation.
func (s *Store) persistLocked() {
	recs := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r.clone())
	}
	if err := s.persister.Save(recs); err != nil {
		s.log.Warn("metadata persist failed", slog.String("error", err.Error()))
	}
}
