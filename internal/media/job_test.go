package media

import (
	"regexp"
	"strings"
	"testing"
)

func TestDeriveJobName(t *testing.T) {
	cases := map[string]string{
		"clip1.mp4":                   "clip1",
		"/uploads/Holiday Video.MOV":  "holiday-video",
		"Mötley Crüe Live!.mp4":       "motley-crue-live",
		"some video (final).mp4":      "some-video-final",
		"weekly__report..2024.webm":   "weekly-report-2024",
		"....":                        "video",
		"":                            "video",
	}
	for input, want := range cases {
		if got := DeriveJobName(input); got != want {
			t.Fatalf("DeriveJobName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewJobIDAppendsRandomSuffix(t *testing.T) {
	pattern := regexp.MustCompile(`^clip1-[0-9a-f]{8}$`)
	first := NewJobID("clip1")
	if !pattern.MatchString(first) {
		t.Fatalf("unexpected job id format: %s", first)
	}
	second := NewJobID("clip1")
	if first == second {
		t.Fatalf("expected unique ids for repeated names, got %s twice", first)
	}
	if !strings.HasPrefix(second, "clip1-") {
		t.Fatalf("expected derived prefix, got %s", second)
	}
}
