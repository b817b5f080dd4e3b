package main

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestResolveStoreDriver(t *testing.T) {
	if got := resolveStoreDriver("SQLite", "", ""); got != "sqlite" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveStoreDriver("", "postgres", ""); got != "postgres" {
		t.Fatalf("expected env fallback, got %q", got)
	}
	if got := resolveStoreDriver("", "", "postgres://db/jobs"); got != "postgres" {
		t.Fatalf("expected DSN to imply postgres, got %q", got)
	}
	if got := resolveStoreDriver("", "", ""); got != "json" {
		t.Fatalf("expected json default, got %q", got)
	}
}

func TestModeValueAndDefaultListen(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development default, got %q", got)
	}
	if got := modeValue(" Production ", ""); got != "production" {
		t.Fatalf("expected trimmed lowered mode, got %q", got)
	}
	if got := defaultListenForMode("production"); got != ":80" {
		t.Fatalf("expected :80 in production, got %q", got)
	}
	if got := defaultListenForMode("development"); got != ":8080" {
		t.Fatalf("expected :8080 otherwise, got %q", got)
	}
}

func TestResolveListenAddrPrecedence(t *testing.T) {
	if got := resolveListenAddr(":9090", "production", ":7070"); got != ":9090" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveListenAddr("", "production", ":7070"); got != ":7070" {
		t.Fatalf("expected env fallback, got %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("expected mode default, got %q", got)
	}
}

func TestFirstNonEmptyTrims(t *testing.T) {
	if got := firstNonEmpty("  ", "\t", " value ", "other"); got != "value" {
		t.Fatalf("expected first non-blank value, got %q", got)
	}
	if got := firstNonEmpty("  ", ""); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a.example:6379 , ,b.example:6379 ")
	if len(got) != 2 || got[0] != "a.example:6379" || got[1] != "b.example:6379" {
		t.Fatalf("unexpected result %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveIntPrefersFlagThenEnv(t *testing.T) {
	t.Setenv("VODFLOW_TEST_INT", "12")
	if got := resolveInt(5, "VODFLOW_TEST_INT"); got != 5 {
		t.Fatalf("expected flag value, got %d", got)
	}
	if got := resolveInt(0, "VODFLOW_TEST_INT"); got != 12 {
		t.Fatalf("expected env value, got %d", got)
	}
	t.Setenv("VODFLOW_TEST_INT", "not-a-number")
	if got := resolveInt(0, "VODFLOW_TEST_INT"); got != 0 {
		t.Fatalf("expected zero for invalid env, got %d", got)
	}
}

func TestResolveDurationFallback(t *testing.T) {
	t.Setenv("VODFLOW_TEST_DURATION", "30s")
	if got := resolveDuration(0, "VODFLOW_TEST_DURATION", time.Minute); got != 30*time.Second {
		t.Fatalf("expected env duration, got %s", got)
	}
	if got := resolveDuration(0, "VODFLOW_TEST_MISSING", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback duration, got %s", got)
	}
	if got := resolveDuration(10*time.Second, "VODFLOW_TEST_DURATION", time.Minute); got != 10*time.Second {
		t.Fatalf("expected flag duration, got %s", got)
	}
}

func TestResolveBoolDefaultHonorsEnvOverride(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if got := resolveBoolDefault(true, "VODFLOW_TEST_MISSING_BOOL", logger); !got {
		t.Fatal("expected flag default when env is unset")
	}
	t.Setenv("VODFLOW_TEST_BOOL", "false")
	if got := resolveBoolDefault(true, "VODFLOW_TEST_BOOL", logger); got {
		t.Fatal("expected env to override flag default")
	}
	t.Setenv("VODFLOW_TEST_BOOL", "definitely")
	if got := resolveBoolDefault(true, "VODFLOW_TEST_BOOL", logger); !got {
		t.Fatal("expected flag default for unparseable env value")
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, _, err := openStore("mongodb", storeConfig{}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, _, err := openStore("postgres", storeConfig{}); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}
