package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

func TestClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientConfig{})
	if _, err := client.AnalyzeQuick(context.Background(), "hi", ports.AssistantContext{}); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestClientOmitsUnknownAssistantContext(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	if _, err := client.AnalyzeQuick(context.Background(), "conv", ports.AssistantContext{}); err != nil {
		t.Fatalf("quick failed: %v", err)
	}
	if _, err := client.Chat(context.Background(), "q", ports.AssistantContext{AssistantID: "a1", ThreadID: "t1"}); err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, present := bodies[0]["assistantId"]; present {
		t.Fatalf("unknown assistant id must be omitted: %v", bodies[0])
	}
	if bodies[1]["assistantId"] != "a1" || bodies[1]["threadId"] != "t1" {
		t.Fatalf("known assistant context must be sent: %v", bodies[1])
	}
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	if _, err := client.AnalyzeTopics(context.Background(), "conv", nil, ports.AssistantContext{}); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestDecodeTextAcceptedShapes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`"plain"`:                            "plain",
		`{"result":"from result"}`:           "from result",
		`{"analysis":"from analysis"}`:       "from analysis",
		`{"answer":"from answer"}`:           "from answer",
		`{"text":"from text"}`:               "from text",
		`{"data":{"result":"nested"}}`:       "nested",
		`{"data":{"data":{"text":"deep"}}}`:  "deep",
	}
	for body, want := range cases {
		got, err := decodeText([]byte(body))
		if err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		if got != want {
			t.Fatalf("decode %s: got %q want %q", body, got, want)
		}
	}

	if _, err := decodeText([]byte(`{"unrelated":1}`)); err == nil {
		t.Fatalf("expected error for empty shape")
	}
}

func TestDecodeFieldsAcceptedShapes(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{"fields":{"budget":"50k","urgent":true,"score":3}}`,
		`{"result":{"fields":{"budget":"50k","urgent":true,"score":3}}}`,
		`{"budget":"50k","urgent":true,"score":3}`,
	} {
		fields, err := decodeFields([]byte(body))
		if err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		if fields["budget"] != "50k" || fields["urgent"] != "true" || fields["score"] != "3" {
			t.Fatalf("decode %s: unexpected fields %v", body, fields)
		}
	}
}

func TestFinishCallDecodesActionItemShapes(t *testing.T) {
	t.Parallel()

	responses := []string{
		`[{"text":"send proposal","done":false}]`,
		`{"actionItems":[{"text":"send proposal","done":false}]}`,
		`{"items":[{"text":"send proposal","done":false}]}`,
	}
	for _, response := range responses {
		response := response
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/calls/finish" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(response))
		}))

		client := NewClient(ClientConfig{BaseURL: srv.URL})
		items, err := client.FinishCall(context.Background(), ports.FinishCallPayload{
			CallID:     "c1",
			Transcript: []domain.TranscriptLine{{Order: 1, Speaker: "A", Text: "hi"}},
		})
		srv.Close()
		if err != nil {
			t.Fatalf("finish (%s): %v", response, err)
		}
		if len(items) != 1 || items[0].Text != "send proposal" {
			t.Fatalf("finish (%s): unexpected items %v", response, items)
		}
	}
}
