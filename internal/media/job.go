// Package media runs the encode pipeline: jobs are accepted over a buffered
// queue and drained by a single worker so submissions are processed strictly
// in arrival order.
package media

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Job is the unit of work handed to the encode worker.
type Job struct {
	ID         string
	SourcePath string
}

// DeriveJobName turns an uploaded filename into a readable slug: the
// extension is stripped, diacritics are folded to ASCII, and anything outside
// [a-z0-9-] collapses to a single dash.
func DeriveJobName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = foldDiacritics(base)
	base = strings.ToLower(base)

	var b strings.Builder
	lastDash := true
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "video"
	}
	return name
}

// NewJobID appends a random suffix to the derived name so two uploads with
// the same filename never collide.
func NewJobID(name string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return name + "-" + suffix
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
