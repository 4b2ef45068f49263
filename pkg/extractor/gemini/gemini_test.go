package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/googleapi"

	"github.com/ArionMiles/receiptcal/pkg/logging"
)

func reply(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, attempts uint) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Options{
		APIKey:     "test-key",
		Model:      "gemini-test",
		Endpoint:   srv.URL + "/",
		Timeout:    5 * time.Second,
		Attempts:   attempts,
		RetryDelay: time.Millisecond,
		HTTPClient: srv.Client(),
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAnalyze(t *testing.T) {
	var got generativelanguage.GenerateContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply(`{"date":"2024-03-15","amount":980,"shop_name":"Store B","category":"食費"}`))
	}, 1)

	out, err := c.Analyze(context.Background(), []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if fields["shop_name"] != "Store B" || fields["amount"] != float64(980) {
		t.Errorf("fields: got %v", fields)
	}

	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("contents: got %+v", got.Contents)
	}
	if got.Contents[0].Parts[0].Text != Prompt {
		t.Error("prompt not sent as the first part")
	}
	blob := got.Contents[0].Parts[1].InlineData
	if blob == nil || blob.MimeType != "image/jpeg" || blob.Data != base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) {
		t.Errorf("inline data: got %+v", blob)
	}
	if len(got.SafetySettings) != 4 {
		t.Errorf("safety settings: got %d, want 4", len(got.SafetySettings))
	}
	for _, s := range got.SafetySettings {
		if s.Threshold != "BLOCK_MEDIUM_AND_ABOVE" {
			t.Errorf("threshold: got %s", s.Threshold)
		}
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("generation config: got %+v", got.GenerationConfig)
	}
}

func TestAnalyzeStripsFences(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(reply("```json\n{\"amount\": 500}\n```"))
	}, 1)

	out, err := c.Analyze(context.Background(), []byte("x"), "image/png")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if strings.TrimSpace(string(out)) != `{"amount": 500}` {
		t.Errorf("got %s", out)
	}
}

func TestAnalyzeRejectsNonObject(t *testing.T) {
	for _, text := range []string{"I could not read this receipt.", "[1,2]", "null"} {
		t.Run(text, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(reply(text))
			}, 1)

			if _, err := c.Analyze(context.Background(), []byte("x"), "image/png"); !errors.Is(err, ErrNoJSON) {
				t.Errorf("expected ErrNoJSON, got %v", err)
			}
		})
	}
}

func TestAnalyzeNoCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		})
	}, 1)

	_, err := c.Analyze(context.Background(), []byte("x"), "image/png")
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("expected blocked prompt error, got %v", err)
	}
}

func TestAnalyzeRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(reply(`{"amount":1}`))
	}, 3)

	if _, err := c.Analyze(context.Background(), []byte("x"), "image/png"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestAnalyzeDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}, 3)

	_, err := c.Analyze(context.Background(), []byte("x"), "image/png")
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) || gErr.Code != http.StatusBadRequest {
		t.Fatalf("expected googleapi 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestNewRequiresKeyAndModel(t *testing.T) {
	if _, err := New(context.Background(), Options{Model: "m"}); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := New(context.Background(), Options{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
