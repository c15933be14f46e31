package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrub.rules")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestEngineMissingFileIsPassThrough(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(filepath.Join(t.TempDir(), "absent.rules"), 0)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	got, err := engine.ScrubLine("um hello")
	if err != nil || got != "um hello" {
		t.Fatalf("expected pass-through, got %q err %v", got, err)
	}
}

func TestEngineLiteralRuleIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "ACME corp => Acme Corporation\n"), 0)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	got, err := engine.ScrubLine("we spoke to acme CORP yesterday")
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if got != "we spoke to Acme Corporation yesterday" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestEngineSedRuleGlobalFlag(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, `s/\bum,?\s*//g`), 0)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	got, err := engine.ScrubLine("um, we need um, pricing")
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if got != "we need pricing" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestEngineSedRuleFirstMatchOnlyWithoutGlobal(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "s/aa/b/\n"), 1)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	got, err := engine.ScrubLine("aa aa")
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if got != "b aa" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestEngineRejectsMalformedRules(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(writeRules(t, "not a rule\n"), 0); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := NewEngine(writeRules(t, "s/unterminated\n"), 0); err == nil {
		t.Fatalf("expected unterminated error")
	}
}

func TestEngineIterationLimitStopsLoops(t *testing.T) {
	t.Parallel()

	// a => aa grows forever; the loop limit must bound it.
	engine, err := NewEngine(writeRules(t, "s/a/aa/g"), 3)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	got, err := engine.ScrubLine("a")
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if got != "aaaaaaaa" {
		t.Fatalf("expected three doublings, got %q", got)
	}
}
