package sources

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxScreenshots caps the screenshot history kept per source.
	MaxScreenshots = 20

	// MaxLabelLength and MaxNotesLength bound the free-form text fields, in characters.
	MaxLabelLength = 60
	MaxNotesLength = 280
)

// Screenshot is one captured still frame. Immutable once written.
type Screenshot struct {
	FileName   string    `json:"fileName"`
	CapturedAt time.Time `json:"capturedAt"`
	SessionID  string    `json:"sessionId,omitempty"`
}

// Record is the durable history entry for one source URL.
type Record struct {
	SourceURL     string       `json:"sourceUrl"`
	LastSessionID string       `json:"lastSessionId,omitempty"`
	LastStartedAt *time.Time   `json:"lastStartedAt,omitempty"`
	Label         string       `json:"label"`
	Notes         string       `json:"notes"`
	Screenshots   []Screenshot `json:"screenshots"`
}

// clone returns a deep copy so callers never alias store internals.
func (r *Record) clone() Record {
	out := *r
	if r.LastStartedAt != nil {
		t := *r.LastStartedAt
		out.LastStartedAt = &t
	}
	out.Screenshots = make([]Screenshot, len(r.Screenshots))
	copy(out.Screenshots, r.Screenshots)
	return out
}

// SanitizeLabel trims whitespace and truncates to MaxLabelLength characters.
func SanitizeLabel(s string) string {
	return truncate(strings.TrimSpace(s), MaxLabelLength)
}

// SanitizeNotes trims whitespace and truncates to MaxNotesLength characters.
func SanitizeNotes(s string) string {
	return truncate(strings.TrimSpace(s), MaxNotesLength)
}

// truncate cuts s to at most n runes without splitting a multi-byte character.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
