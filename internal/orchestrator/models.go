package orchestrator

import (
	"sync"
	"time"

	"hls-gateway/internal/transcode"
)

// SessionID uniquely identifies a live stream session.
type SessionID string

// Status is a session's position in the lifecycle.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether s ends a session.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed || s == StatusTimedOut
}

// Session is one live conversion of a source URL. It is owned by the
// Registry while active; identity fields are immutable after creation.
type Session struct {
	ID           SessionID
	SourceURL    string
	Label        string
	Notes        string
	WorkDir      string
	ManifestPath string
	StartedAt    time.Time

	pending *settleOnce

	mu     sync.Mutex
	status Status
	proc   transcode.Process
	closed bool
}

func newSession(id SessionID, sourceURL, label, notes, workDir, manifest string, now time.Time) *Session {
	return &Session{
		ID:           id,
		SourceURL:    sourceURL,
		Label:        label,
		Notes:        notes,
		WorkDir:      workDir,
		ManifestPath: manifest,
		StartedAt:    now,
		pending:      newSettleOnce(),
		status:       StatusStarting,
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// markReady moves a starting session to ready. It fails if the session has
// already been closed.
func (s *Session) markReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status != StatusStarting {
		return false
	}
	s.status = StatusReady
	return true
}

// attach records the process handle. It returns false if the session was
// closed before the handle arrived; the caller must then terminate p.
func (s *Session) attach(p transcode.Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.proc = p
	return true
}

// close marks the session terminal exactly once, returning the previous
// status and the process to terminate. ok is false if already closed.
func (s *Session) close(final Status) (prev Status, proc transcode.Process, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.status, nil, false
	}
	s.closed = true
	prev = s.status
	s.status = final
	return prev, s.proc, true
}

// process returns the attached process handle, if any.
func (s *Session) process() transcode.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// SessionInfo is the listing view of an active session.
type SessionInfo struct {
	SessionID     SessionID `json:"sessionId"`
	SourceURL     string    `json:"sourceUrl"`
	Label         string    `json:"label"`
	Notes         string    `json:"notes"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
}

// StartRequest is the input to StartSession.
type StartRequest struct {
	SourceURL string `json:"sourceUrl"`
	Label     string `json:"label"`
	Notes     string `json:"notes"`
}

// StartResult is returned once a session is ready.
type StartResult struct {
	SessionID   SessionID `json:"sessionId"`
	Label       string    `json:"label"`
	Notes       string    `json:"notes"`
	PlaylistURL string    `json:"playlistUrl"`
}

// CaptureResult locates a captured still frame.
type CaptureResult struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	Path     string `json:"-"`
}

// Artifact is a servable file from a session's work directory.
type Artifact struct {
	Path        string
	ContentType string
}
