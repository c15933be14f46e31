package domain

import "time"

// SessionState models the live call lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateActive   SessionState = "active"
	SessionStateStopping SessionState = "stopping"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonBootCold          SessionStateReason = "boot_cold"
	SessionReasonSessionStarting   SessionStateReason = "session_starting"
	SessionReasonSessionStarted    SessionStateReason = "session_started"
	SessionReasonCaptureFailed     SessionStateReason = "capture_failed"
	SessionReasonRelayFailed       SessionStateReason = "relay_failed"
	SessionReasonStoppingRequested SessionStateReason = "stopping_requested"
	SessionReasonSessionFinished   SessionStateReason = "session_finished"
)

// SourceKind identifies one of the two captured audio sources.
type SourceKind string

const (
	SourceSystem     SourceKind = "system"
	SourceMicrophone SourceKind = "microphone"
)

// AnalysisJob identifies one of the two periodic analysis jobs.
type AnalysisJob string

const (
	JobTopics AnalysisJob = "topics"
	JobQuick  AnalysisJob = "quick"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeCapture     ErrorCode = "capture"
	ErrorCodeRelay       ErrorCode = "relay"
	ErrorCodeAnalysis    ErrorCode = "analysis"
	ErrorCodePersistence ErrorCode = "persistence"
	ErrorCodeChat        ErrorCode = "chat"
)

// TranscriptFragment is one unit received from the speech relay.
// Immutable once created.
type TranscriptFragment struct {
	SpeakerLabel string    `json:"speakerLabel"`
	Text         string    `json:"text"`
	ReceivedAt   time.Time `json:"receivedAt"`
	IsFinal      bool      `json:"isFinal"`
	SourceBotID  string    `json:"sourceBotId,omitempty"`
}

// ConversationEntry is one row of the in-memory conversation log. Entries are
// append-ordered by arrival; the only permitted mutation is the
// accumulating -> final transition performed by the finalize tick.
type ConversationEntry struct {
	ID             string    `json:"id"`
	Speaker        string    `json:"speaker"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	IsFinal        bool      `json:"isFinal"`
	IsAccumulating bool      `json:"isAccumulating"`
}

// TranscriptLine is one persisted transcript row. Order is 1-indexed;
// wall-clock timestamps are deliberately not persisted because relay
// timestamps are not meaningful across reconnects.
type TranscriptLine struct {
	Order   int    `json:"order"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AnalysisResult is the canonical form of any analysis endpoint response.
// Loose wire shapes are resolved into this type once, at the client boundary.
type AnalysisResult struct {
	Fields map[string]string `json:"fields,omitempty"`
	Text   string            `json:"text,omitempty"`
}

// QuickAnswerPair is one ad-hoc operator question with its answer.
type QuickAnswerPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuickAnswerSplit buckets accumulated quick-answer output for storage:
// recognized Q/A pairs versus unprompted live guidance.
type QuickAnswerSplit struct {
	Pairs    []QuickAnswerPair `json:"pairs"`
	Guidance []string          `json:"guidance"`
}

// ActionItem is one post-call follow-up returned by the finish-call endpoint.
type ActionItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// CallRecord is the persisted call row in the record store.
type CallRecord struct {
	ID              string       `json:"id"`
	OwnerID         string       `json:"ownerId"`
	Title           string       `json:"title"`
	Company         string       `json:"company"`
	MeetingLink     string       `json:"meetingLink,omitempty"`
	BotID           string       `json:"botId,omitempty"`
	AssistantID     string       `json:"assistantId,omitempty"`
	ThreadID        string       `json:"threadId,omitempty"`
	AudioPath       string       `json:"audioPath,omitempty"`
	DurationSeconds int          `json:"durationSeconds"`
	ActionItems     []ActionItem `json:"actionItems,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Draft is a pre-scheduled call created before the live session starts.
// It is consumed, and deleted, once the live session actually begins.
type Draft struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	MeetingLink string    `json:"meetingLink,omitempty"`
	BotID       string    `json:"botId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Document is a reference attached to a call (or to a draft, before the live
// session consumes it).
type Document struct {
	ID     string `json:"id"`
	CallID string `json:"callId"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

// Status summarizes the live session for the UI.
type Status struct {
	State              SessionState      `json:"state"`
	Active             bool              `json:"active"`
	CallID             string            `json:"callId,omitempty"`
	ElapsedSeconds     int               `json:"elapsedSeconds"`
	EntryCount         int               `json:"entryCount"`
	SystemTranscribing bool              `json:"systemTranscribing"`
	MicTranscribing    bool              `json:"micTranscribing"`
	SystemError        string            `json:"systemError,omitempty"`
	MicError           string            `json:"micError,omitempty"`
	TopicsError        string            `json:"topicsError,omitempty"`
	QuickError         string            `json:"quickError,omitempty"`
	TopicsBusy         bool              `json:"topicsBusy"`
	QuickBusy          bool              `json:"quickBusy"`
	Topics             map[string]string `json:"topics,omitempty"`
	QuickAnswer        string            `json:"quickAnswer,omitempty"`
}
