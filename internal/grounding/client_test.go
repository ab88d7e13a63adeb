package grounding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-query/internal/retry"
)

// stubUpstream replays scripted responses and records what it received.
type stubUpstream struct {
	mu        sync.Mutex
	responses []stubResponse
	bodies    []map[string]any
	rawBodies []string
	paths     []string
	keys      []string
	server    *httptest.Server
}

type stubResponse struct {
	status int
	body   string
}

func newStub(t *testing.T, responses ...stubResponse) *stubUpstream {
	t.Helper()
	s := &stubUpstream{responses: responses}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubUpstream) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	idx := len(s.bodies)
	s.bodies = append(s.bodies, body)
	s.rawBodies = append(s.rawBodies, string(raw))
	s.paths = append(s.paths, r.URL.Path)
	s.keys = append(s.keys, r.URL.Query().Get("key"))
	resp := s.responses[len(s.responses)-1]
	if idx < len(s.responses) {
		resp = s.responses[idx]
	}
	s.mu.Unlock()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "content type", http.StatusUnsupportedMediaType)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (s *stubUpstream) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestClient(t *testing.T, stub *stubUpstream, attempts int, rec *sleepRecorder) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: stub.server.URL + "/v1beta",
		Policy: retry.Policy{
			MaxAttempts: attempts,
			Backoff:     retry.Exponential(time.Second, 0),
		},
	}, WithSleeper(rec.sleep))
	require.NoError(t, err)
	return c
}

const mathResponse = `{
	"candidates": [{
		"content": {"parts": [{"text": "4"}]},
		"groundingMetadata": {
			"groundingAttributions": [
				{"web": {"uri": "https://example.com/math", "title": "Math Facts"}}
			]
		}
	}]
}`

func TestExecuteGroundedScenario(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, mathResponse})
	client := newTestClient(t, stub, 3, &sleepRecorder{})

	result, err := client.Execute(context.Background(), QueryRequest{
		Query:             "What is 2+2?",
		SystemInstruction: "be terse",
		GroundingEnabled:  true,
	})

	require.NoError(t, err)
	assert.Equal(t, QueryResult{
		AnswerText: "4",
		Sources:    []Source{{Title: "Math Facts", URI: "https://example.com/math"}},
	}, result)
	assert.Equal(t, "/v1beta/models/test-model:generateContent", stub.paths[0])
	assert.Equal(t, "test-key", stub.keys[0])
}

func TestExecutePayloadShape(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, mathResponse})
	client := newTestClient(t, stub, 1, &sleepRecorder{})

	_, err := client.Execute(context.Background(), QueryRequest{
		Query:             "What is 2+2?",
		SystemInstruction: "be terse",
		GroundingEnabled:  true,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"contents": [{"parts": [{"text": "What is 2+2?"}]}],
		"systemInstruction": {"parts": [{"text": "be terse"}]},
		"tools": [{"google_search": {}}]
	}`, stub.rawBodies[0])
}

func TestExecuteWithoutGrounding(t *testing.T) {
	// The stub still returns metadata; ungrounded results must ignore it.
	stub := newStub(t, stubResponse{http.StatusOK, mathResponse})
	client := newTestClient(t, stub, 1, &sleepRecorder{})

	result, err := client.Execute(context.Background(), QueryRequest{
		Query:             "What is 2+2?",
		SystemInstruction: "be terse",
	})

	require.NoError(t, err)
	assert.Equal(t, "4", result.AnswerText)
	assert.Empty(t, result.Sources)
	_, hasTools := stub.bodies[0]["tools"]
	assert.False(t, hasTools, "tools must be omitted when grounding is disabled")
	assert.NotContains(t, stub.rawBodies[0], "google_search")
}

func TestExecuteTemperature(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, mathResponse})
	client := newTestClient(t, stub, 1, &sleepRecorder{})

	_, err := client.Execute(context.Background(), QueryRequest{
		Query:       "q",
		Temperature: Float(0.2),
	})
	require.NoError(t, err)

	cfg, ok := stub.bodies[0]["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig expected when temperature is set")
	assert.InDelta(t, 0.2, cfg["temperature"], 1e-9)
}

func TestExecuteNoCandidates(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, `{}`})
	client := newTestClient(t, stub, 3, &sleepRecorder{})

	result, err := client.Execute(context.Background(), QueryRequest{Query: "q", GroundingEnabled: true})

	require.NoError(t, err)
	assert.Equal(t, QueryResult{AnswerText: "No content generated.", Sources: []Source{}}, result)
	assert.False(t, result.HasContent())
	assert.Equal(t, 1, stub.attempts())
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	stub := newStub(t,
		stubResponse{http.StatusTooManyRequests, `{"error":"slow down"}`},
		stubResponse{http.StatusServiceUnavailable, `{"error":"unavailable"}`},
		stubResponse{http.StatusTooManyRequests, `{"error":"slow down"}`},
		stubResponse{http.StatusOK, mathResponse},
	)
	rec := &sleepRecorder{}
	client := newTestClient(t, stub, 5, rec)

	result, err := client.Execute(context.Background(), QueryRequest{Query: "What is 2+2?", GroundingEnabled: true})

	require.NoError(t, err)
	assert.Equal(t, "4", result.AnswerText)
	assert.Equal(t, 4, stub.attempts())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestExecuteBadRequestIsNotRetried(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusBadRequest, `{"error":{"message":"API key not valid"}}`})
	rec := &sleepRecorder{}
	client := newTestClient(t, stub, 5, rec)

	_, err := client.Execute(context.Background(), QueryRequest{Query: "q"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "API key not valid")
	assert.Equal(t, 1, stub.attempts())
	assert.Empty(t, rec.delays)
}

func TestExecuteRateLimitExhausted(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusTooManyRequests, `{"error":"quota"}`})
	rec := &sleepRecorder{}
	client := newTestClient(t, stub, 3, rec)

	_, err := client.Execute(context.Background(), QueryRequest{Query: "q"})

	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 3, stub.attempts())
	assert.Len(t, rec.delays, 2)
}

func TestExecuteStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind error
		attempts int
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuth, 1},
		{"forbidden", http.StatusForbidden, ErrAuth, 1},
		{"not found", http.StatusNotFound, ErrBadRequest, 1},
		{"server error", http.StatusInternalServerError, ErrNetwork, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub(t, stubResponse{tt.status, `{}`})
			client := newTestClient(t, stub, 2, &sleepRecorder{})

			_, err := client.Execute(context.Background(), QueryRequest{Query: "q"})

			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantKind, Kind(err))
			assert.Equal(t, tt.attempts, stub.attempts())
		})
	}
}

func TestExecuteMalformedResponse(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, `{"candidates": "nope"`})
	client := newTestClient(t, stub, 3, &sleepRecorder{})

	_, err := client.Execute(context.Background(), QueryRequest{Query: "q"})

	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, 1, stub.attempts())
}

func TestExecuteBodyReadTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"candidates":[`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 100 * time.Millisecond,
		Policy:  retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(time.Millisecond, 0)},
	}, WithSleeper((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), QueryRequest{Query: "q"})

	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrMalformedResponse)
	assert.NotContains(t, err.Error(), "test-key")
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteTruncatedBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 500\r\n\r\n{\"candidates\":[")
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:  "k",
		BaseURL: server.URL,
		Policy:  retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(time.Millisecond, 0)},
	}, WithSleeper((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), QueryRequest{Query: "q"})

	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteNetworkErrorExhausted(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, mathResponse})
	client := newTestClient(t, stub, 2, &sleepRecorder{})
	stub.server.Close()

	_, err := client.Execute(context.Background(), QueryRequest{Query: "q"})

	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotContains(t, err.Error(), "test-key")
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusTooManyRequests, `{}`})
	ctx, cancel := context.WithCancel(context.Background())
	client, err := NewClient(Config{
		APIKey:  "k",
		BaseURL: stub.server.URL,
		Policy:  retry.Policy{MaxAttempts: 5, Backoff: retry.Exponential(time.Second, 0)},
	}, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return retry.SleepContext(ctx, d)
	}))
	require.NoError(t, err)

	_, err = client.Execute(ctx, QueryRequest{Query: "q"})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stub.attempts())
}

func TestExecuteCancelledInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL, Policy: retry.Policy{MaxAttempts: 3}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = client.Execute(ctx, QueryRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestExecuteIdempotent(t *testing.T) {
	stub := newStub(t, stubResponse{http.StatusOK, mathResponse})
	client := newTestClient(t, stub, 1, &sleepRecorder{})
	req := QueryRequest{Query: "What is 2+2?", SystemInstruction: "be terse", GroundingEnabled: true}

	first, err := client.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := client.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, stub.rawBodies[0], stub.rawBodies[1])
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: "  "})
	assert.ErrorIs(t, err, ErrAuth)

	var nilClient *Client
	_, err = nilClient.Execute(context.Background(), QueryRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultBaseURL+"/models/"+DefaultModel+":generateContent", c.endpoint)
	assert.Equal(t, 1, c.policy.MaxAttempts)
}
