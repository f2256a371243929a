package transcode

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ManifestName is the playlist file written into each session work dir.
	ManifestName = "index.m3u8"

	// SegmentPattern names the rolling segment files.
	SegmentPattern = "segment_%03d.ts"

	DefaultSegmentSeconds  = 2
	DefaultWindowSize      = 3
	DefaultAnalyzeDuration = 2 * time.Second
	DefaultProbeSize       = 1 << 20
)

// Descriptor is everything needed to launch one external process.
type Descriptor struct {
	Binary string
	Args   []string
	// Output is the primary artifact the process produces.
	Output string
}

// String renders the command line for logging.
func (d Descriptor) String() string {
	return d.Binary + " " + strings.Join(d.Args, " ")
}

// HLSOptions configures a live segmented-playlist conversion.
type HLSOptions struct {
	SourceURL       string
	OutputDir       string
	SegmentSeconds  int
	WindowSize      int
	AnalyzeDuration time.Duration
	ProbeSize       int
}

func (o *HLSOptions) applyDefaults() {
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = DefaultSegmentSeconds
	}
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.AnalyzeDuration <= 0 {
		o.AnalyzeDuration = DefaultAnalyzeDuration
	}
	if o.ProbeSize <= 0 {
		o.ProbeSize = DefaultProbeSize
	}
}

// HLS builds an ffmpeg invocation that reads SourceURL and writes a rolling
// HLS playlist into OutputDir, keeping only the last WindowSize segments.
func HLS(binary string, o HLSOptions) Descriptor {
	o.applyDefaults()

	manifest := filepath.Join(o.OutputDir, ManifestName)
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "level+warning"}

	// Input robustness: TCP for RTSP, bounded probing so slow sources start quickly.
	if isRTSP(o.SourceURL) {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-analyzeduration", strconv.FormatInt(o.AnalyzeDuration.Microseconds(), 10),
		"-probesize", strconv.Itoa(o.ProbeSize),
		"-fflags", "nobuffer",
		"-i", o.SourceURL,
	)

	// Low-latency H.264 with a keyframe at every segment boundary.
	seg := strconv.Itoa(o.SegmentSeconds)
	args = append(args,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-sc_threshold", "0",
		"-force_key_frames", "expr:gte(t,n_forced*"+seg+")",
		"-c:a", "aac", "-b:a", "128k", "-ac", "2",
	)

	args = append(args,
		"-f", "hls",
		"-hls_time", seg,
		"-hls_list_size", strconv.Itoa(o.WindowSize),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_allow_cache", "0",
		"-hls_segment_filename", filepath.Join(o.OutputDir, SegmentPattern),
		manifest,
	)

	return Descriptor{Binary: binary, Args: args, Output: manifest}
}

// Snapshot builds a single-shot ffmpeg invocation that extracts one high
// quality still frame from input (a live playlist) into output.
func Snapshot(binary, input, output string) Descriptor {
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "level+warning",
		"-y",
		"-live_start_index", "-1",
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}
	return Descriptor{Binary: binary, Args: args, Output: output}
}

func isRTSP(url string) bool {
	u := strings.ToLower(url)
	return strings.HasPrefix(u, "rtsp://") || strings.HasPrefix(u, "rtsps://")
}
