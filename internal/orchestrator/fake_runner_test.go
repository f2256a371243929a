package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hls-gateway/internal/transcode"
)

// streamMode selects how a fake HLS transcoder behaves.
type streamMode int

const (
	// modeReady writes a manifest and a segment after delay and runs until
	// terminated.
	modeReady streamMode = iota
	// modeSilent never writes output and runs until terminated.
	modeSilent
	// modeError fails with an error after delay.
	modeError
	// modeExit exits cleanly after delay without writing output.
	modeExit
	// modeRace writes the manifest and fails concurrently after delay.
	modeRace
)

// fakeRunner simulates ffmpeg by writing (or withholding) output files and
// firing hooks asynchronously, the way the exec runner does.
type fakeRunner struct {
	mode  streamMode
	delay time.Duration

	snapshotErr    error
	snapshotNoFile bool
	startErr       error
	// gate, if set, runs at the top of every stream Start.
	gate func()

	mu        sync.Mutex
	streams   []*fakeProcess
	snapshots int
}

func (r *fakeRunner) Start(d transcode.Descriptor, hooks transcode.Hooks) (transcode.Process, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.gate != nil && !strings.HasSuffix(d.Output, ".jpg") {
		r.gate()
	}
	p := &fakeProcess{hooks: hooks, done: make(chan struct{})}
	if hooks.Started != nil {
		hooks.Started(4242)
	}

	if strings.HasSuffix(d.Output, ".jpg") {
		r.mu.Lock()
		r.snapshots++
		r.mu.Unlock()
		go func() {
			if r.snapshotErr != nil {
				p.finish(r.snapshotErr)
				return
			}
			if !r.snapshotNoFile {
				os.WriteFile(d.Output, []byte("jpeg"), 0o644)
			}
			p.finish(nil)
		}()
		return p, nil
	}

	r.mu.Lock()
	r.streams = append(r.streams, p)
	r.mu.Unlock()

	go func() {
		time.Sleep(r.delay)
		switch r.mode {
		case modeReady:
			if p.terminated.Load() {
				return
			}
			os.WriteFile(filepath.Join(filepath.Dir(d.Output), "segment_000.ts"), []byte("ts"), 0o644)
			os.WriteFile(d.Output, []byte("#EXTM3U\n"), 0o644)
		case modeError:
			p.finish(errors.New("exit status 1: Connection refused"))
		case modeExit:
			p.finish(nil)
		case modeRace:
			go os.WriteFile(d.Output, []byte("#EXTM3U\n"), 0o644)
			go p.finish(errors.New("exit status 1: broken pipe"))
		}
	}()
	return p, nil
}

func (r *fakeRunner) lastStream() *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

func (r *fakeRunner) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots
}

type fakeProcess struct {
	hooks      transcode.Hooks
	once       sync.Once
	done       chan struct{}
	terminated atomic.Bool
}

func (p *fakeProcess) PID() int { return 4242 }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate() {
	p.terminated.Store(true)
	go p.finish(errors.New("signal: interrupt"))
}

func (p *fakeProcess) Kill() {
	p.terminated.Store(true)
	go p.finish(errors.New("signal: killed"))
}

// finish fires exactly one terminal hook, then closes done.
func (p *fakeProcess) finish(err error) {
	p.once.Do(func() {
		if err != nil {
			if p.hooks.Error != nil {
				p.hooks.Error(err)
			}
		} else if p.hooks.End != nil {
			p.hooks.End()
		}
		close(p.done)
	})
}
