package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

// SchedulerConfig controls dispatch timing. Defaults match production: the
// first run fires 20s after session start, subsequent runs every 10s.
type SchedulerConfig struct {
	FirstDelay time.Duration
	Interval   time.Duration
}

// Snapshotter returns the joined conversation text at tick-fire time.
type Snapshotter func() string

// AssistantProvider returns the freshest assistant context; it is consulted
// immediately before every dispatch because provisioning completes
// asynchronously after session start.
type AssistantProvider func() ports.AssistantContext

// Scheduler drives the two periodic analysis jobs. The jobs share a tick but
// are independent: each has its own in-flight guard and error slot, and a
// failure in one never delays the other.
type Scheduler struct {
	client    ports.AnalysisClient
	sink      ports.EventSink
	log       zerolog.Logger
	cfg       SchedulerConfig
	snapshot  Snapshotter
	assistant AssistantProvider

	mu          sync.Mutex
	topicsBusy  bool
	quickBusy   bool
	topicsErr   string
	quickErr    string
	topics      map[string]string
	quickLatest string
	sections    []string
	stopped     bool

	stop     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(
	client ports.AnalysisClient,
	sink ports.EventSink,
	snapshot Snapshotter,
	assistant AssistantProvider,
	cfg SchedulerConfig,
	log zerolog.Logger,
) *Scheduler {
	if cfg.FirstDelay <= 0 {
		cfg.FirstDelay = 20 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Scheduler{
		client:    client,
		sink:      sink,
		log:       log.With().Str("component", "analysis").Logger(),
		cfg:       cfg,
		snapshot:  snapshot,
		assistant: assistant,
		stop:      make(chan struct{}),
	}
}

// Start begins the schedule. The first dispatch is unconditionally delayed;
// it is not resynchronized to data arrival.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		first := time.NewTimer(s.cfg.FirstDelay)
		defer first.Stop()
		select {
		case <-first.C:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
		s.tick(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels all pending timers immediately. In-flight requests run to
// completion but their results are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

// tick reads one synchronous snapshot and dispatches both jobs from it. An
// empty snapshot skips the tick entirely without disturbing the schedule.
func (s *Scheduler) tick(ctx context.Context) {
	snapshot := s.snapshot()
	if strings.TrimSpace(snapshot) == "" {
		return
	}
	s.dispatchTopics(ctx, snapshot)
	s.dispatchQuick(ctx, snapshot)
}

func (s *Scheduler) dispatchTopics(ctx context.Context, snapshot string) {
	s.mu.Lock()
	if s.topicsBusy || s.stopped {
		s.mu.Unlock()
		return
	}
	s.topicsBusy = true
	current := copyFields(s.topics)
	s.mu.Unlock()

	go func() {
		result, err := s.client.AnalyzeTopics(ctx, snapshot, current, s.assistant())

		s.mu.Lock()
		s.topicsBusy = false
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.topicsErr = err.Error()
			s.mu.Unlock()
			s.log.Warn().Err(err).Msg("topic analysis failed")
			s.sink.AnalysisError(domain.JobTopics, err.Error())
			return
		}
		s.topicsErr = ""
		s.topics = result.Fields
		fields := copyFields(result.Fields)
		s.mu.Unlock()
		s.sink.TopicsUpdated(fields)
	}()
}

func (s *Scheduler) dispatchQuick(ctx context.Context, snapshot string) {
	s.mu.Lock()
	if s.quickBusy || s.stopped {
		s.mu.Unlock()
		return
	}
	s.quickBusy = true
	s.mu.Unlock()

	go func() {
		result, err := s.client.AnalyzeQuick(ctx, snapshot, s.assistant())

		s.mu.Lock()
		s.quickBusy = false
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.quickErr = err.Error()
			s.mu.Unlock()
			s.log.Warn().Err(err).Msg("quick analysis failed")
			s.sink.AnalysisError(domain.JobQuick, err.Error())
			return
		}
		s.quickErr = ""
		text := strings.TrimSpace(result.Text)
		if text != "" {
			s.quickLatest = text
			s.sections = append(s.sections, text)
		}
		s.mu.Unlock()
		if text != "" {
			s.sink.QuickAnswerUpdated(text)
		}
	}()
}

// AddChatExchange records an answered ad-hoc operator question so the
// stop-time split can classify it as a Q/A pair.
func (s *Scheduler) AddChatExchange(question, answer string) {
	section := questionMarker + " " + strings.TrimSpace(question) + "\n" +
		answerMarker + " " + strings.TrimSpace(answer)
	s.mu.Lock()
	s.sections = append(s.sections, section)
	s.mu.Unlock()
}

// Sections returns the accumulated quick-answer output in arrival order.
func (s *Scheduler) Sections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sections))
	copy(out, s.sections)
	return out
}

// Topics returns the latest structured-topic fields.
func (s *Scheduler) Topics() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyFields(s.topics)
}

// QuickAnswer returns the latest quick-analysis text.
func (s *Scheduler) QuickAnswer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickLatest
}

// Busy reports whether a dispatch for the given job is in flight.
func (s *Scheduler) Busy(job domain.AnalysisJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job == domain.JobTopics {
		return s.topicsBusy
	}
	return s.quickBusy
}

// Err returns the job's current error slot.
func (s *Scheduler) Err(job domain.AnalysisJob) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job == domain.JobTopics {
		return s.topicsErr
	}
	return s.quickErr
}

func copyFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
