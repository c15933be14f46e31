// Package session owns the start/stop lifecycle of a live call.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"callscribe/internal/analysis"
	"callscribe/internal/conversation"
	"callscribe/internal/domain"
	"callscribe/internal/ports"
	"callscribe/internal/relay"
)

var (
	ErrNoActiveSession = errors.New("no active call session")
	ErrSessionActive   = errors.New("a call session is already active")
)

// Config controls session behavior. Relay carries the connection template;
// the per-session bot filter is filled in at start.
type Config struct {
	Relay         relay.Config
	Scheduler     analysis.SchedulerConfig
	RecordingTick time.Duration
	StopGrace     time.Duration
	AudioBucket   string
	SignedURLTTL  time.Duration
	ChunkSize     int
}

// StartRequest describes the call the operator wants to record.
type StartRequest struct {
	CallID               string
	Title                string
	Company              string
	MeetingLink          string
	BotID                string
	SourceID             string
	SourceUpcomingCallID string
}

// Controller drives the session state machine:
// Idle -> Starting -> Active -> Stopping -> Idle,
// with Starting -> Idle on any acquisition failure.
type Controller struct {
	capture ports.MediaCapture
	records ports.CallRecordStore
	client  ports.AnalysisClient
	rules   ports.TranscriptRules
	sink    ports.EventSink
	cfg     Config
	log     zerolog.Logger

	convo *conversation.Log

	mu       sync.Mutex
	current  *liveSession
	starting bool
}

func NewController(
	capture ports.MediaCapture,
	recordStore ports.CallRecordStore,
	client ports.AnalysisClient,
	rules ports.TranscriptRules,
	sink ports.EventSink,
	cfg Config,
	log zerolog.Logger,
) *Controller {
	if cfg.RecordingTick <= 0 {
		cfg.RecordingTick = time.Second
	}
	if cfg.StopGrace < 0 {
		cfg.StopGrace = 0
	}
	if cfg.AudioBucket == "" {
		cfg.AudioBucket = "call-audio"
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	return &Controller{
		capture: capture,
		records: recordStore,
		client:  client,
		rules:   rules,
		sink:    sink,
		cfg:     cfg,
		log:     log.With().Str("component", "session").Logger(),
		convo:   conversation.NewLog(),
	}
}

// Start acquires capture and the relay connection, then begins recording and
// analysis. Any failure releases everything already acquired and leaves the
// controller Idle.
func (c *Controller) Start(ctx context.Context, req StartRequest, ownerID string) error {
	c.mu.Lock()
	if c.current != nil || c.starting {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	c.sink.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonSessionStarting)

	sourceID, err := c.resolveSource(ctx, req.SourceID)
	if err != nil {
		return c.failStart(domain.ErrorCodeCapture, fmt.Errorf("no system capture source available: %w", err))
	}

	req, draftID, docs := c.consumeDraftFields(ctx, req)

	record, err := c.records.CreateOrReuse(ctx, req.CallID, ownerID, ports.CallFields{
		Title:       &req.Title,
		Company:     &req.Company,
		MeetingLink: &req.MeetingLink,
		BotID:       &req.BotID,
	})
	if err != nil {
		return c.failStart(domain.ErrorCodePersistence, fmt.Errorf("create call record: %w", err))
	}
	if len(docs) > 0 {
		if err := c.records.AppendDocuments(ctx, record.ID, docs); err != nil {
			c.log.Warn().Err(err).Str("call", record.ID).Msg("failed to carry draft documents onto call")
		}
	}
	// Fresh per-session state.
	c.convo.Clear()
	sess := &liveSession{
		callID:   record.ID,
		ownerID:  ownerID,
		botID:    req.BotID,
		state:    domain.SessionStateStarting,
		sysBuf:   newChunkBuffer(),
		micBuf:   newChunkBuffer(),
		tickStop: make(chan struct{}),
		sysDone:  make(chan struct{}),
		micDone:  make(chan struct{}),
	}
	sess.active.Store(true)

	system, err := c.capture.AcquireSystem(ctx, sourceID)
	if err != nil {
		return c.failStart(domain.ErrorCodeCapture, fmt.Errorf("system capture: %w", err))
	}
	sess.system = system

	mic, err := c.capture.AcquireMicrophone(ctx)
	if err != nil {
		_ = system.Stop()
		return c.failStart(domain.ErrorCodeCapture, fmt.Errorf("microphone capture: %w", err))
	}
	sess.mic = mic

	relayCfg := c.cfg.Relay
	relayCfg.FilterBotID = req.BotID
	conn, err := relay.Open(ctx, relayCfg, relay.Hooks{
		OnFragment:     func(f domain.TranscriptFragment) { c.onFragment(sess, f) },
		OnClosed:       func(err error) { c.onRelayClosed(sess, err) },
		OnFinalizeTick: func() { c.onFinalizeTick(sess) },
	}, c.log)
	if err != nil {
		_ = system.Stop()
		_ = mic.Stop()
		return c.failStart(domain.ErrorCodeRelay, fmt.Errorf("speech relay: %w", err))
	}
	sess.relayConn = conn

	go recordChunks(system, sess.sysBuf, c.cfg.ChunkSize, func(err error) {
		if sess.active.Load() {
			sess.setSourceError(domain.SourceSystem, err.Error())
			c.sink.TranscribeError(domain.SourceSystem, err.Error())
		}
	}, sess.sysDone)
	go recordChunks(mic, sess.micBuf, c.cfg.ChunkSize, func(err error) {
		if sess.active.Load() {
			sess.setSourceError(domain.SourceMicrophone, err.Error())
			c.sink.TranscribeError(domain.SourceMicrophone, err.Error())
		}
	}, sess.micDone)

	go c.recordingTick(sess)

	sess.scheduler = analysis.NewScheduler(
		c.client, c.sink, c.convo.Snapshot, sess.assistantContext,
		c.cfg.Scheduler, c.log,
	)
	sess.scheduler.Start(ctx)

	sess.setState(domain.SessionStateActive)
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()

	// The draft outlives a failed start attempt; it is consumed only once
	// the session is actually live.
	if draftID != "" {
		if err := c.records.DeleteDraft(ctx, draftID); err != nil {
			c.log.Warn().Err(err).Str("draft", draftID).Msg("failed to delete consumed draft")
		}
	}

	c.sink.TranscribingChanged(domain.SourceSystem, true)
	c.sink.TranscribingChanged(domain.SourceMicrophone, true)
	c.sink.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonSessionStarted)
	c.log.Info().Str("call", record.ID).Str("source", sourceID).Msg("session started")
	return nil
}

// Stop tears the session down and consolidates artifacts. Upload and
// submission failures are logged, never surfaced: ending a call must always
// succeed from the operator's perspective.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return ErrNoActiveSession
	}

	// The guard is flipped before any async gap; stray ticks and reconnects
	// check it, and exactly one caller wins the teardown. An overlapping
	// Stop finds it already cleared and reports no session.
	if !sess.active.CompareAndSwap(true, false) {
		return ErrNoActiveSession
	}
	sess.setState(domain.SessionStateStopping)
	c.sink.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonStoppingRequested)

	if err := sess.system.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("system capture did not stop cleanly")
	}
	if err := sess.mic.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("microphone capture did not stop cleanly")
	}
	sess.relayConn.Close()
	close(sess.tickStop)
	sess.scheduler.Stop()
	c.sink.TranscribingChanged(domain.SourceSystem, false)
	c.sink.TranscribingChanged(domain.SourceMicrophone, false)

	// Let in-flight recorder buffers flush.
	if c.cfg.StopGrace > 0 {
		timer := time.NewTimer(c.cfg.StopGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	<-sess.sysDone
	<-sess.micDone

	duration := int(sess.elapsed.Load())
	c.uploadAudio(ctx, sess, duration)
	c.submitResults(ctx, sess, duration)

	c.convo.Clear()
	c.mu.Lock()
	if c.current == sess {
		c.current = nil
	}
	c.mu.Unlock()

	sess.setState(domain.SessionStateIdle)
	c.sink.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonSessionFinished)
	c.log.Info().Str("call", sess.callID).Int("durationSeconds", duration).Msg("session finished")
	return nil
}

// Chat answers an ad-hoc operator question against the live assistant
// context and records the exchange for the post-call split.
func (c *Controller) Chat(ctx context.Context, query string) (string, error) {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return "", ErrNoActiveSession
	}

	result, err := c.client.Chat(ctx, query, sess.assistantContext())
	if err != nil {
		c.sink.SessionError(domain.ErrorCodeChat, err.Error())
		return "", err
	}
	sess.scheduler.AddChatExchange(query, result.Text)
	return result.Text, nil
}

// SetAssistantContext records the asynchronously provisioned assistant pair
// and persists it onto the call record.
func (c *Controller) SetAssistantContext(ctx context.Context, assistant ports.AssistantContext) error {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return ErrNoActiveSession
	}

	sess.setAssistantContext(assistant)
	err := c.records.Update(ctx, sess.callID, ports.CallFields{
		AssistantID: &assistant.AssistantID,
		ThreadID:    &assistant.ThreadID,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("call", sess.callID).Msg("failed to persist assistant context")
	}
	return nil
}

// Entries returns the live conversation snapshot for the UI.
func (c *Controller) Entries() []domain.ConversationEntry {
	return c.convo.Entries()
}

// Status assembles the reactive session surface.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}

	state := sess.getState()
	sysErr, micErr := sess.sourceErrors()
	return domain.Status{
		State:              state,
		Active:             sess.active.Load(),
		CallID:             sess.callID,
		ElapsedSeconds:     int(sess.elapsed.Load()),
		EntryCount:         c.convo.Len(),
		SystemTranscribing: sess.active.Load() && sysErr == "",
		MicTranscribing:    sess.active.Load() && micErr == "",
		SystemError:        sysErr,
		MicError:           micErr,
		TopicsError:        sess.scheduler.Err(domain.JobTopics),
		QuickError:         sess.scheduler.Err(domain.JobQuick),
		TopicsBusy:         sess.scheduler.Busy(domain.JobTopics),
		QuickBusy:          sess.scheduler.Busy(domain.JobQuick),
		Topics:             sess.scheduler.Topics(),
		QuickAnswer:        sess.scheduler.QuickAnswer(),
	}
}

func (c *Controller) resolveSource(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	sources, err := c.capture.ListSystemSources(ctx)
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "", errors.New("no system capture sources enumerated")
	}
	return sources[0], nil
}

// consumeDraftFields folds a draft's saved fields into the request. The
// draft is a convenience: lookup failures leave the request untouched.
func (c *Controller) consumeDraftFields(ctx context.Context, req StartRequest) (StartRequest, string, []domain.Document) {
	if req.SourceUpcomingCallID == "" {
		return req, "", nil
	}

	draft, err := c.records.GetDraft(ctx, req.SourceUpcomingCallID)
	if err != nil {
		if !errors.Is(err, ports.ErrDraftNotFound) {
			c.log.Warn().Err(err).Str("draft", req.SourceUpcomingCallID).Msg("draft lookup failed")
		}
		return req, "", nil
	}

	req.CallID = draft.ID
	if req.Title == "" {
		req.Title = draft.Title
	}
	if req.Company == "" {
		req.Company = draft.Company
	}
	if req.MeetingLink == "" {
		req.MeetingLink = draft.MeetingLink
	}
	if req.BotID == "" {
		req.BotID = draft.BotID
	}

	docs, err := c.records.Documents(ctx, draft.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("draft", draft.ID).Msg("draft document lookup failed")
	}
	return req, draft.ID, docs
}

func (c *Controller) failStart(code domain.ErrorCode, err error) error {
	reason := domain.SessionReasonCaptureFailed
	if code == domain.ErrorCodeRelay {
		reason = domain.SessionReasonRelayFailed
	}
	c.sink.SessionError(code, err.Error())
	c.sink.SessionStateChanged(domain.SessionStateIdle, reason)
	c.log.Error().Err(err).Msg("session start failed")
	return err
}

func (c *Controller) onFragment(sess *liveSession, fragment domain.TranscriptFragment) {
	if !sess.active.Load() {
		return
	}
	entry := c.convo.Append(fragment.SpeakerLabel, fragment.Text, fragment.IsFinal)
	c.sink.EntryAppended(entry)
}

func (c *Controller) onRelayClosed(sess *liveSession, err error) {
	if err == nil || !sess.active.Load() {
		return
	}
	// Both halves share the one relay connection, so a terminal loss lands
	// on both transcription error channels.
	detail := err.Error()
	sess.setSourceError(domain.SourceSystem, detail)
	sess.setSourceError(domain.SourceMicrophone, detail)
	c.sink.TranscribeError(domain.SourceSystem, detail)
	c.sink.TranscribeError(domain.SourceMicrophone, detail)
	c.sink.TranscribingChanged(domain.SourceSystem, false)
	c.sink.TranscribingChanged(domain.SourceMicrophone, false)
}

func (c *Controller) onFinalizeTick(sess *liveSession) {
	if !sess.active.Load() {
		return
	}
	c.convo.FinalizeTrailingAccumulating()
}

func (c *Controller) recordingTick(sess *liveSession) {
	ticker := time.NewTicker(c.cfg.RecordingTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !sess.active.Load() {
				return
			}
			c.sink.Elapsed(int(sess.elapsed.Add(1)))
		case <-sess.tickStop:
			return
		}
	}
}

func (c *Controller) uploadAudio(ctx context.Context, sess *liveSession, duration int) {
	// Prefer the microphone side; fall back to system audio; no artifact is
	// non-fatal.
	audio := sess.micBuf.Bytes()
	if len(audio) == 0 {
		audio = sess.sysBuf.Bytes()
	}
	if len(audio) == 0 {
		c.log.Info().Str("call", sess.callID).Msg("no audio captured; skipping upload")
		if err := c.records.Update(ctx, sess.callID, ports.CallFields{DurationSeconds: &duration}); err != nil {
			c.log.Warn().Err(err).Str("call", sess.callID).Msg("failed to persist call duration")
		}
		return
	}

	path, err := c.records.UploadBlob(ctx, c.cfg.AudioBucket, sess.callID+".pcm", audio)
	if err != nil {
		c.log.Warn().Err(err).Str("call", sess.callID).Msg("audio upload failed")
		return
	}
	if err := c.records.Update(ctx, sess.callID, ports.CallFields{AudioPath: &path, DurationSeconds: &duration}); err != nil {
		c.log.Warn().Err(err).Str("call", sess.callID).Msg("failed to persist audio path")
	}
	if url, err := c.records.SignedURL(ctx, path, c.cfg.SignedURLTTL); err == nil {
		c.log.Info().Str("call", sess.callID).Str("url", url).Msg("audio uploaded")
	} else {
		c.log.Warn().Err(err).Str("call", sess.callID).Msg("could not mint signed audio url")
	}
}

func (c *Controller) submitResults(ctx context.Context, sess *liveSession, duration int) {
	lines := c.scrubbedTranscript()
	topics := sess.scheduler.Topics()
	split := analysis.SplitQuickAnswers(sess.scheduler.Sections())
	summary := buildSummary(lines)

	items, err := c.client.FinishCall(ctx, ports.FinishCallPayload{
		CallID:     sess.callID,
		Transcript: lines,
		Topics:     topics,
		Answers:    split,
		Summary:    summary,
		Duration:   duration,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("call", sess.callID).Msg("finish-call submission failed")
	} else if items != nil {
		if err := c.records.Update(ctx, sess.callID, ports.CallFields{ActionItems: items}); err != nil {
			c.log.Warn().Err(err).Str("call", sess.callID).Msg("failed to persist action items")
		}
	}

	// Deliberately not transactional with the finish-call submission.
	if err := c.client.GenerateSummary(ctx, ports.SummaryPayload{
		CallID:     sess.callID,
		Transcript: lines,
		Topics:     topics,
	}); err != nil {
		c.log.Warn().Err(err).Str("call", sess.callID).Msg("summary submission failed")
	}
}

func (c *Controller) scrubbedTranscript() []domain.TranscriptLine {
	lines := c.convo.FinalLines()
	for i := range lines {
		scrubbed, err := c.rules.ScrubLine(lines[i].Text)
		if err != nil {
			c.log.Warn().Err(err).Int("line", lines[i].Order).Msg("scrub failed; keeping raw text")
			continue
		}
		lines[i].Text = scrubbed
	}
	return lines
}

func buildSummary(lines []domain.TranscriptLine) string {
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line.Speaker)
		b.WriteString(": ")
		b.WriteString(line.Text)
	}
	return b.String()
}
