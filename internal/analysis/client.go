// Package analysis drives the periodic topic and quick-answer jobs and talks
// to the stateless analysis endpoints.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

// ClientConfig controls the analysis endpoint HTTP client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements ports.AnalysisClient over POST/JSON endpoints.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type topicsRequest struct {
	Conversation string            `json:"conversation"`
	CurrentState map[string]string `json:"currentState,omitempty"`
	AssistantID  string            `json:"assistantId,omitempty"`
	ThreadID     string            `json:"threadId,omitempty"`
}

type quickRequest struct {
	Conversation string `json:"conversation"`
	AssistantID  string `json:"assistantId,omitempty"`
	ThreadID     string `json:"threadId,omitempty"`
}

type chatRequest struct {
	Query       string `json:"query"`
	AssistantID string `json:"assistantId,omitempty"`
	ThreadID    string `json:"threadId,omitempty"`
}

type finishRequest struct {
	CallID     string                   `json:"callId"`
	Transcript []domain.TranscriptLine  `json:"transcript"`
	Topics     map[string]string        `json:"topics,omitempty"`
	Questions  []domain.QuickAnswerPair `json:"questions,omitempty"`
	Guidance   []string                 `json:"guidance,omitempty"`
	Summary    string                   `json:"summary"`
	Duration   int                      `json:"durationSeconds"`
}

type summaryRequest struct {
	CallID     string                  `json:"callId"`
	Transcript []domain.TranscriptLine `json:"transcript"`
	Topics     map[string]string       `json:"topics,omitempty"`
}

func (c *Client) AnalyzeTopics(ctx context.Context, conversation string, current map[string]string, assistant ports.AssistantContext) (domain.AnalysisResult, error) {
	body, err := c.post(ctx, "/analyze/topics", topicsRequest{
		Conversation: conversation,
		CurrentState: current,
		AssistantID:  assistant.AssistantID,
		ThreadID:     assistant.ThreadID,
	})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	fields, err := decodeFields(body)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return domain.AnalysisResult{Fields: fields}, nil
}

func (c *Client) AnalyzeQuick(ctx context.Context, conversation string, assistant ports.AssistantContext) (domain.AnalysisResult, error) {
	body, err := c.post(ctx, "/analyze/quick", quickRequest{
		Conversation: conversation,
		AssistantID:  assistant.AssistantID,
		ThreadID:     assistant.ThreadID,
	})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	text, err := decodeText(body)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return domain.AnalysisResult{Text: text}, nil
}

func (c *Client) Chat(ctx context.Context, query string, assistant ports.AssistantContext) (domain.AnalysisResult, error) {
	body, err := c.post(ctx, "/chat", chatRequest{
		Query:       query,
		AssistantID: assistant.AssistantID,
		ThreadID:    assistant.ThreadID,
	})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	text, err := decodeText(body)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return domain.AnalysisResult{Text: text}, nil
}

func (c *Client) FinishCall(ctx context.Context, payload ports.FinishCallPayload) ([]domain.ActionItem, error) {
	body, err := c.post(ctx, "/calls/finish", finishRequest{
		CallID:     payload.CallID,
		Transcript: payload.Transcript,
		Topics:     payload.Topics,
		Questions:  payload.Answers.Pairs,
		Guidance:   payload.Answers.Guidance,
		Summary:    payload.Summary,
		Duration:   payload.Duration,
	})
	if err != nil {
		return nil, err
	}
	return decodeActionItems(body)
}

func (c *Client) GenerateSummary(ctx context.Context, payload ports.SummaryPayload) error {
	_, err := c.post(ctx, "/calls/summary", summaryRequest{
		CallID:     payload.CallID,
		Transcript: payload.Transcript,
		Topics:     payload.Topics,
	})
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.cfg.BaseURL == "" {
		return nil, errors.New("analysis endpoint URL is not configured")
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("analysis request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// decodeText resolves the accepted free-text response shapes into one string.
// The endpoints have returned plain strings, {"result"}, {"analysis"},
// {"answer"} and {"text"} wrappers, sometimes nested under "data".
func decodeText(body []byte) (string, error) {
	var plain string
	if err := json.Unmarshal(body, &plain); err == nil {
		return strings.TrimSpace(plain), nil
	}

	var wrapper struct {
		Result   string          `json:"result"`
		Analysis string          `json:"analysis"`
		Answer   string          `json:"answer"`
		Text     string          `json:"text"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return "", fmt.Errorf("unrecognized analysis response shape: %w", err)
	}
	for _, candidate := range []string{wrapper.Result, wrapper.Analysis, wrapper.Answer, wrapper.Text} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed, nil
		}
	}
	if len(wrapper.Data) > 0 {
		return decodeText(wrapper.Data)
	}
	return "", errors.New("analysis response carried no text")
}

// decodeFields resolves structured-topic response shapes into a flat string
// map: {"fields":{...}}, {"result":{...}}, or a bare object.
func decodeFields(body []byte) (map[string]string, error) {
	var wrapper struct {
		Fields map[string]any  `json:"fields"`
		Result json.RawMessage `json:"result"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("unrecognized topics response shape: %w", err)
	}
	if len(wrapper.Fields) > 0 {
		return stringifyFields(wrapper.Fields), nil
	}
	if len(wrapper.Result) > 0 {
		return decodeFields(wrapper.Result)
	}
	if len(wrapper.Data) > 0 {
		return decodeFields(wrapper.Data)
	}

	var flat map[string]any
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("unrecognized topics response shape: %w", err)
	}
	return stringifyFields(flat), nil
}

func stringifyFields(raw map[string]any) map[string]string {
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			fields[key] = v
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			fields[key] = strconv.FormatBool(v)
		case nil:
			// skip
		default:
			encoded, err := json.Marshal(v)
			if err == nil {
				fields[key] = string(encoded)
			}
		}
	}
	return fields
}

// decodeActionItems accepts {"actionItems":[...]}, {"items":[...]} or a bare
// list.
func decodeActionItems(body []byte) ([]domain.ActionItem, error) {
	var bare []domain.ActionItem
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	var wrapper struct {
		ActionItems []domain.ActionItem `json:"actionItems"`
		Items       []domain.ActionItem `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("unrecognized finish-call response shape: %w", err)
	}
	if wrapper.ActionItems != nil {
		return wrapper.ActionItems, nil
	}
	return wrapper.Items, nil
}
