package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"callscribe/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CALLSCRIBE_DATA_DIR", filepath.Join(home, "data"))

	services, err := Build(noopEventSink{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Store.Close()

	if services.Controller == nil {
		t.Fatalf("expected controller")
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := t.TempDir()
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("CALLSCRIBE_DATA_DIR", filepath.Join(home, "data"))
	t.Setenv("CALLSCRIBE_RULES_FILE", rules)

	_, err := Build(noopEventSink{}, zerolog.Nop())
	if err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopEventSink) EntryAppended(domain.ConversationEntry)                             {}
func (noopEventSink) Elapsed(int)                                                        {}
func (noopEventSink) TranscribingChanged(domain.SourceKind, bool)                        {}
func (noopEventSink) TranscribeError(domain.SourceKind, string)                          {}
func (noopEventSink) TopicsUpdated(map[string]string)                                    {}
func (noopEventSink) QuickAnswerUpdated(string)                                          {}
func (noopEventSink) AnalysisError(domain.AnalysisJob, string)                           {}
func (noopEventSink) SessionError(domain.ErrorCode, string)                              {}
