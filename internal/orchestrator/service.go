package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hls-gateway/internal/platform/events"
	"hls-gateway/internal/sources"
	"hls-gateway/internal/transcode"
)

var (
	// ErrBadRequest is returned for missing or invalid input, before any
	// resource is allocated.
	ErrBadRequest = errors.New("bad request")

	// ErrTranscodeFailed is returned when the transcoder errors or exits
	// before producing a manifest.
	ErrTranscodeFailed = errors.New("transcode failed")

	// ErrTimeout is returned when no manifest appears before the deadline.
	ErrTimeout = errors.New("timed out waiting for stream")

	// ErrNotFound is returned for unknown session ids or artifacts.
	ErrNotFound = errors.New("not found")

	// ErrNotReady is returned when capturing from a session with no output yet.
	ErrNotReady = errors.New("stream not ready")

	// ErrCaptureFailed is returned when still-frame extraction fails.
	ErrCaptureFailed = errors.New("capture failed")
)

// DefaultCaptureTimeout bounds a single still-frame extraction.
const DefaultCaptureTimeout = 10 * time.Second

// Options configures a Service.
type Options struct {
	FFmpegPath     string
	WorkRoot       string
	CapturesDir    string
	PollInterval   time.Duration
	StartupTimeout time.Duration
	CaptureTimeout time.Duration
	SegmentSeconds int
	WindowSize     int
}

func (o *Options) applyDefaults() {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.WorkRoot == "" {
		o.WorkRoot = filepath.Join(os.TempDir(), "hls-gateway", "streams")
	}
	if o.CapturesDir == "" {
		o.CapturesDir = "captures"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = DefaultCaptureTimeout
	}
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = transcode.DefaultSegmentSeconds
	}
	if o.WindowSize <= 0 {
		o.WindowSize = transcode.DefaultWindowSize
	}
}

// Service manages the lifecycle of stream sessions: it starts a transcoder
// per source, resolves each start exactly once, tracks live sessions and
// tears them down on stop, failure, timeout or shutdown.
type Service struct {
	opts     Options
	registry *Registry
	runner   transcode.Runner
	sources  *sources.Store
	bus      *events.Bus
	log      *slog.Logger
	detector ReadinessDetector

	closing atomic.Bool
	now     func() time.Time
	newID   func() SessionID
}

// NewService returns a Service. The work root and captures directory are
// created if missing. bus may be nil to disable lifecycle events.
func NewService(opts Options, runner transcode.Runner, store *sources.Store, bus *events.Bus, log *slog.Logger) (*Service, error) {
	opts.applyDefaults()
	for _, dir := range []string{opts.WorkRoot, opts.CapturesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Service{
		opts:     opts,
		registry: NewRegistry(),
		runner:   runner,
		sources:  store,
		bus:      bus,
		log:      log.With("component", "orchestrator"),
		detector: ReadinessDetector{Interval: opts.PollInterval, Deadline: opts.StartupTimeout},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() SessionID { return SessionID(uuid.NewString()) },
	}, nil
}

// CapturesDir returns the shared still-frame directory.
func (s *Service) CapturesDir() string {
	return s.opts.CapturesDir
}

// ActiveCount returns the number of registered sessions. Used for metrics.
func (s *Service) ActiveCount() int {
	return s.registry.Count()
}

// StartSession launches a transcoder for req.SourceURL and blocks until the
// session is ready, fails, times out, or ctx is cancelled. Exactly one of
// those outcomes is returned; every non-ready outcome is fully cleaned up.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (StartResult, error) {
	sourceURL, err := validateSourceURL(req.SourceURL)
	if err != nil {
		return StartResult{}, err
	}
	if s.closing.Load() {
		return StartResult{}, fmt.Errorf("%w: gateway is shutting down", ErrTranscodeFailed)
	}
	label := sources.SanitizeLabel(req.Label)
	notes := sources.SanitizeNotes(req.Notes)

	id := s.newID()
	workDir := filepath.Join(s.opts.WorkRoot, string(id))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return StartResult{}, fmt.Errorf("%w: create work dir: %v", ErrTranscodeFailed, err)
	}

	desc := transcode.HLS(s.opts.FFmpegPath, transcode.HLSOptions{
		SourceURL:      sourceURL,
		OutputDir:      workDir,
		SegmentSeconds: s.opts.SegmentSeconds,
		WindowSize:     s.opts.WindowSize,
	})
	sess := newSession(id, sourceURL, label, notes, workDir, desc.Output, s.now())
	log := s.log.With(slog.String("session_id", string(id)))

	if !s.registry.Add(sess) {
		os.RemoveAll(workDir)
		return StartResult{}, fmt.Errorf("%w: gateway is shutting down", ErrTranscodeFailed)
	}
	s.publish(sess, "", StatusStarting, "start requested")
	log.Info("session starting", slog.String("source_url", sourceURL))

	// Shutdown may have closed the session between registration and spawn.
	if !sess.pending.settled() {
		proc, err := s.runner.Start(desc, transcode.Hooks{
			Started: func(pid int) { log.Debug("transcoder started", slog.Int("pid", pid)) },
			Error:   func(err error) { s.onProcessExit(sess, err) },
			End:     func() { s.onProcessExit(sess, nil) },
		})
		if err != nil {
			s.settleFailure(sess, StatusFailed, fmt.Errorf("%w: %v", ErrTranscodeFailed, err))
		} else if !sess.attach(proc) {
			// Nothing waits on an unattached process, so it must not outlive us.
			proc.Kill()
		}
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	sess.pending.onClaim(cancelWatch)
	go s.detector.Watch(watchCtx, sess.ManifestPath,
		func() { s.onReady(sess) },
		func() {
			s.settleFailure(sess, StatusTimedOut, fmt.Errorf("%w: no output after %s", ErrTimeout, s.opts.StartupTimeout))
		},
	)

	select {
	case <-sess.pending.Done():
	case <-ctx.Done():
		s.settleFailure(sess, StatusFailed, fmt.Errorf("%w: start request cancelled: %v", ErrTranscodeFailed, ctx.Err()))
	}

	res := sess.pending.result()
	if res.err != nil {
		return StartResult{}, res.err
	}
	return StartResult{
		SessionID:   id,
		Label:       label,
		Notes:       notes,
		PlaylistURL: playlistURL(id, sess.ManifestPath),
	}, nil
}

// onReady resolves a pending start as ready.
func (s *Service) onReady(sess *Session) {
	if !sess.pending.claim() {
		return
	}
	if !sess.markReady() {
		// The transcoder exited between the poll and now; cleanup already ran.
		sess.pending.resolve(outcome{status: StatusFailed, err: fmt.Errorf("%w: transcoder exited", ErrTranscodeFailed)})
		return
	}
	s.sources.UpsertOnStart(sess.SourceURL, string(sess.ID), sess.Label, sess.Notes)
	s.publish(sess, StatusStarting, StatusReady, "manifest available")
	s.log.Info("session ready",
		slog.String("session_id", string(sess.ID)),
		slog.Duration("startup", s.now().Sub(sess.StartedAt)))
	sess.pending.resolve(outcome{status: StatusReady})
}

// onProcessExit handles the transcoder's terminal event. Before readiness it
// fails the pending start; afterwards it tears down the session. Events for
// sessions already cleaned up are ignored.
func (s *Service) onProcessExit(sess *Session, err error) {
	reason := "transcoder exited before ready"
	if err != nil {
		reason = "transcoder failed: " + err.Error()
	}
	if s.settleFailure(sess, StatusFailed, fmt.Errorf("%w: %s", ErrTranscodeFailed, reason)) {
		return
	}
	if s.cleanup(sess, StatusStopped, "transcoder exited") {
		s.log.Warn("transcoder exited, session closed",
			slog.String("session_id", string(sess.ID)),
			slog.Any("error", err))
	}
}

// settleFailure resolves a pending start with err if no other trigger has
// won, running cleanup first. It reports whether this call won.
func (s *Service) settleFailure(sess *Session, final Status, err error) bool {
	if !sess.pending.claim() {
		return false
	}
	s.cleanup(sess, final, err.Error())
	sess.pending.resolve(outcome{status: final, err: err})
	return true
}

// cleanup terminates the process, evicts the session and removes its work
// directory. It runs at most once per session and reports whether this call
// did the work.
func (s *Service) cleanup(sess *Session, final Status, reason string) bool {
	prev, proc, ok := sess.close(final)
	if !ok {
		return false
	}
	if proc != nil {
		proc.Terminate()
	}
	s.registry.Remove(sess.ID)
	if err := os.RemoveAll(sess.WorkDir); err != nil {
		s.log.Warn("failed to remove work dir",
			slog.String("session_id", string(sess.ID)),
			slog.String("dir", sess.WorkDir),
			slog.String("error", err.Error()))
	}
	s.publish(sess, prev, final, reason)
	s.log.Info("session closed",
		slog.String("session_id", string(sess.ID)),
		slog.String("from", string(prev)),
		slog.String("status", string(final)),
		slog.String("reason", reason))
	return true
}

// StopSession stops a session. A session still starting has its pending
// start resolved as failed.
func (s *Service) StopSession(id SessionID) error {
	sess, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if s.settleFailure(sess, StatusStopped, fmt.Errorf("%w: stopped before ready", ErrTranscodeFailed)) {
		return nil
	}
	if !s.cleanup(sess, StatusStopped, "stop requested") {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return nil
}

// ListActiveSessions returns every registered session with its uptime.
func (s *Service) ListActiveSessions() []SessionInfo {
	now := s.now()
	list := s.registry.List()
	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		st := sess.Status()
		if st.Terminal() {
			continue
		}
		out = append(out, SessionInfo{
			SessionID:     sess.ID,
			SourceURL:     sess.SourceURL,
			Label:         sess.Label,
			Notes:         sess.Notes,
			Status:        st,
			StartedAt:     sess.StartedAt,
			UptimeSeconds: now.Sub(sess.StartedAt).Seconds(),
		})
	}
	return out
}

// Capture extracts one still frame from a session's current output and
// records it against the session's source URL. It does not block or alter
// the session itself.
func (s *Service) Capture(ctx context.Context, id SessionID) (CaptureResult, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return CaptureResult{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if !fileExists(sess.ManifestPath) {
		return CaptureResult{}, fmt.Errorf("%w: session %s has no output yet", ErrNotReady, id)
	}

	fileName := captureFileName(id, s.now())
	out := filepath.Join(s.opts.CapturesDir, fileName)

	ctx, cancel := context.WithTimeout(ctx, s.opts.CaptureTimeout)
	defer cancel()

	err := transcode.Run(ctx, s.runner, transcode.Snapshot(s.opts.FFmpegPath, sess.ManifestPath, out))
	if err == nil && !fileExists(out) {
		err = errors.New("no image written")
	}
	if err != nil {
		os.Remove(out)
		s.publishCapture(sess, "", err)
		s.log.Warn("capture failed",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		return CaptureResult{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	s.sources.AppendScreenshot(sess.SourceURL, string(id), fileName)
	s.publishCapture(sess, fileName, nil)
	s.log.Info("capture saved",
		slog.String("session_id", string(id)),
		slog.String("file", fileName))
	return CaptureResult{FileName: fileName, FileURL: captureURL(fileName), Path: out}, nil
}

// ListSavedSources returns every known source record.
func (s *Service) ListSavedSources() []sources.Record {
	return s.sources.List()
}

// UpdateSavedSourceMetadata replaces the label and notes of a source,
// creating its record if needed.
func (s *Service) UpdateSavedSourceMetadata(sourceURL, label, notes string) (sources.Record, error) {
	u := strings.TrimSpace(sourceURL)
	if u == "" {
		return sources.Record{}, fmt.Errorf("%w: sourceUrl is required", ErrBadRequest)
	}
	return s.sources.UpdateMetadataOnly(u, label, notes), nil
}

// Artifact resolves a manifest or segment file of a live session.
func (s *Service) Artifact(id SessionID, name string) (Artifact, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if !validArtifactName(name) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ct, ok := artifactContentType(name)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	path := filepath.Join(sess.WorkDir, name)
	if !fileExists(path) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Artifact{Path: path, ContentType: ct}, nil
}

// Shutdown cleans up every session, resolving pending starts as failed, then
// waits for transcoders to exit until ctx is done and kills the rest.
func (s *Service) Shutdown(ctx context.Context) {
	s.closing.Store(true)

	list := s.registry.Close()
	procs := make([]transcode.Process, 0, len(list))
	for _, sess := range list {
		if p := sess.process(); p != nil {
			procs = append(procs, p)
		}
		if !s.settleFailure(sess, StatusStopped, fmt.Errorf("%w: gateway is shutting down", ErrTranscodeFailed)) {
			s.cleanup(sess, StatusStopped, "gateway shutting down")
		}
	}

	for _, p := range procs {
		select {
		case <-p.Done():
		case <-ctx.Done():
			p.Kill()
		}
	}

	// A transcoder may flush a last segment between removal and exit.
	for _, sess := range list {
		os.RemoveAll(sess.WorkDir)
	}
	s.log.Info("sessions shut down", slog.Int("count", len(list)))
}

func (s *Service) publish(sess *Session, from, to Status, reason string) {
	events.Publish(s.bus, events.SessionStateChanged{
		SessionID: string(sess.ID),
		SourceURL: sess.SourceURL,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		At:        s.now(),
	})
}

func (s *Service) publishCapture(sess *Session, fileName string, err error) {
	ev := events.CaptureFinished{
		SessionID: string(sess.ID),
		SourceURL: sess.SourceURL,
		FileName:  fileName,
		At:        s.now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	events.Publish(s.bus, ev)
}

// validateSourceURL requires a non-empty URL with a scheme.
func validateSourceURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", fmt.Errorf("%w: sourceUrl is required", ErrBadRequest)
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" {
		return "", fmt.Errorf("%w: sourceUrl %q is not a valid URL", ErrBadRequest, u)
	}
	return u, nil
}
