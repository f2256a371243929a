package orchestrator

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// artifactContentType returns the content type for a session output file,
// or false if the file is not something a session produces.
func artifactContentType(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return playlistContentType, true
	case ".ts":
		return segmentContentType, true
	}
	return "", false
}

// validArtifactName accepts a bare file name with no path components.
func validArtifactName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// captureFileName derives a collision-free still-frame name from the
// session id and capture time. Colons and periods in the timestamp are
// replaced so the name is safe on every filesystem.
func captureFileName(id SessionID, at time.Time) string {
	ts := at.UTC().Format("2006-01-02T15:04:05.000000000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return string(id) + "_" + ts + ".jpg"
}

// playlistURL is the HTTP path a player uses for a session's manifest.
func playlistURL(id SessionID, manifest string) string {
	return "/streams/" + string(id) + "/files/" + filepath.Base(manifest)
}

// captureURL is the HTTP path of a captured still frame.
func captureURL(fileName string) string {
	return "/captures/" + fileName
}
