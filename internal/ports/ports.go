package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"callscribe/internal/domain"
)

// Lookup sentinels shared by every CallRecordStore implementation, so
// consumers can branch on them without importing a concrete store.
var (
	ErrNotFound      = errors.New("record not found")
	ErrDraftNotFound = errors.New("draft not found")
)

// MediaSession is one live capture stream. The byte stream is raw PCM; only
// the audio track of a system capture is consumed here.
type MediaSession interface {
	io.ReadCloser
	Kind() domain.SourceKind
	Stop() error
}

// MediaCapture acquires OS-level media streams.
type MediaCapture interface {
	// ListSystemSources enumerates concrete system capture source
	// identifiers. Resolution of a concrete source is a pre-step owned by
	// the platform, not by the session core.
	ListSystemSources(ctx context.Context) ([]string, error)
	AcquireSystem(ctx context.Context, sourceID string) (MediaSession, error)
	AcquireMicrophone(ctx context.Context) (MediaSession, error)
}

// CallFields carries partial call-record updates. Nil fields are left
// untouched.
type CallFields struct {
	Title           *string
	Company         *string
	MeetingLink     *string
	BotID           *string
	AssistantID     *string
	ThreadID        *string
	AudioPath       *string
	DurationSeconds *int
	ActionItems     []domain.ActionItem
}

// CallRecordStore is the persistent call/record store. All calls are network
// (or at least I/O) round-trips; failures surface as errors handled by the
// session's post-call policy.
type CallRecordStore interface {
	CreateOrReuse(ctx context.Context, callID, ownerID string, fields CallFields) (domain.CallRecord, error)
	Get(ctx context.Context, callID string) (domain.CallRecord, error)
	Update(ctx context.Context, callID string, fields CallFields) error
	AppendDocuments(ctx context.Context, callID string, docs []domain.Document) error
	Documents(ctx context.Context, callID string) ([]domain.Document, error)
	GetDraft(ctx context.Context, draftID string) (domain.Draft, error)
	DeleteDraft(ctx context.Context, draftID string) error
	UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// AssistantContext is the optional external assistant/thread id pair. It is
// populated asynchronously after provisioning finishes; zero values are
// silently omitted from analysis requests.
type AssistantContext struct {
	AssistantID string
	ThreadID    string
}

// FinishCallPayload is the consolidated end-of-call submission.
type FinishCallPayload struct {
	CallID     string
	Transcript []domain.TranscriptLine
	Topics     map[string]string
	Answers    domain.QuickAnswerSplit
	Summary    string
	Duration   int
}

// SummaryPayload feeds the separate summary-generation endpoint. It is not
// transactional with the finish-call submission.
type SummaryPayload struct {
	CallID     string
	Transcript []domain.TranscriptLine
	Topics     map[string]string
}

// AnalysisClient talks to the stateless analysis/LLM endpoints.
type AnalysisClient interface {
	AnalyzeTopics(ctx context.Context, conversation string, current map[string]string, assistant AssistantContext) (domain.AnalysisResult, error)
	AnalyzeQuick(ctx context.Context, conversation string, assistant AssistantContext) (domain.AnalysisResult, error)
	Chat(ctx context.Context, query string, assistant AssistantContext) (domain.AnalysisResult, error)
	FinishCall(ctx context.Context, payload FinishCallPayload) ([]domain.ActionItem, error)
	GenerateSummary(ctx context.Context, payload SummaryPayload) error
}

// TranscriptRules transforms a transcript line before persistence.
type TranscriptRules interface {
	ScrubLine(text string) (string, error)
}

// EventSink pushes backend state and events to the UI layer.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	EntryAppended(entry domain.ConversationEntry)
	Elapsed(seconds int)
	TranscribingChanged(source domain.SourceKind, active bool)
	TranscribeError(source domain.SourceKind, detail string)
	TopicsUpdated(fields map[string]string)
	QuickAnswerUpdated(text string)
	AnalysisError(job domain.AnalysisJob, detail string)
	SessionError(code domain.ErrorCode, detail string)
}
