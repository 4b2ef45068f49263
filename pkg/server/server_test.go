package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/extraction"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

type fakeAnalyzer struct {
	out      json.RawMessage
	err      error
	gotImage []byte
	gotMime  string
	calls    int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, image []byte, mimeType string) (json.RawMessage, error) {
	f.calls++
	f.gotImage = image
	f.gotMime = mimeType
	return f.out, f.err
}

func body(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) extraction.ErrorResponse {
	t.Helper()
	var resp extraction.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp
}

func TestAnalyzeSuccess(t *testing.T) {
	a := &fakeAnalyzer{out: json.RawMessage(`{"date":"2024-03-15","amount":980,"shop_name":"Store B"}`)}
	h := New(a, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, extraction.AnalyzePath, body(t, extraction.Request{
		Image:    base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		MimeType: "image/png",
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %s", ct)
	}
	if rec.Body.String() != string(a.out) {
		t.Errorf("body: got %s", rec.Body)
	}
	if string(a.gotImage) != "png-bytes" || a.gotMime != "image/png" {
		t.Errorf("analyzer got %q %q", a.gotImage, a.gotMime)
	}
}

func TestAnalyzeRejects(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString([]byte("x"))

	tests := []struct {
		name   string
		method string
		body   string
		status int
		msg    string
	}{
		{"get", http.MethodGet, "", http.StatusMethodNotAllowed, "Only POST requests are allowed"},
		{"missing image", http.MethodPost, `{"mimeType":"image/png"}`, http.StatusBadRequest, "Image data and mimeType are required."},
		{"missing mime type", http.MethodPost, `{"image":"` + valid + `"}`, http.StatusBadRequest, "Image data and mimeType are required."},
		{"bad base64", http.MethodPost, `{"image":"***","mimeType":"image/png"}`, http.StatusBadRequest, "Image must be base64 encoded."},
		{"not json", http.MethodPost, `image=x`, http.StatusBadRequest, "Request body must be JSON."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{}
			h := New(a, logging.Discard())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, extraction.AnalyzePath, strings.NewReader(tt.body)))

			if rec.Code != tt.status {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.status)
			}
			if got := decodeError(t, rec); got.Message != tt.msg {
				t.Errorf("message: got %q, want %q", got.Message, tt.msg)
			}
			if a.calls != 0 {
				t.Error("analyzer was called")
			}
		})
	}
}

func TestAnalyzeTooLarge(t *testing.T) {
	h := New(&fakeAnalyzer{}, logging.Discard())

	big := `{"image":"` + strings.Repeat("A", MaxBodyBytes) + `","mimeType":"image/png"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, extraction.AnalyzePath, strings.NewReader(big)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rec.Code)
	}
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"quota", &googleapi.Error{Code: 429, Message: "quota exceeded"}, 429, "quota exceeded"},
		{"upstream 503", &googleapi.Error{Code: 503}, 503, "Service Unavailable"},
		{"bad reply", errors.New("model reply is not a JSON object"), 500, "Error analyzing receipt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeAnalyzer{err: tt.err}, logging.Discard())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, extraction.AnalyzePath, body(t, extraction.Request{
				Image:    base64.StdEncoding.EncodeToString([]byte("x")),
				MimeType: "image/jpeg",
			})))

			if rec.Code != tt.status {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.status)
			}
			got := decodeError(t, rec)
			if got.Message != tt.msg {
				t.Errorf("message: got %q, want %q", got.Message, tt.msg)
			}
			if got.Error == "" {
				t.Error("error detail missing")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := New(&fakeAnalyzer{}, logging.Discard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, extraction.HealthPath, nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body)
	}
}

// TestRoundTrip drives the extraction client against the real handler.
func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *fakeAnalyzer
		check    func(t *testing.T, err error)
	}{
		{
			name:     "success",
			analyzer: &fakeAnalyzer{out: json.RawMessage(`{"amount":"1,200円","shop_name":"Cafe A"}`)},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("Extract: %v", err)
				}
			},
		},
		{
			name:     "quota",
			analyzer: &fakeAnalyzer{err: &googleapi.Error{Code: 500, Message: "quota exceeded"}},
			check: func(t *testing.T, err error) {
				var ee *api.ExtractionError
				if !errors.As(err, &ee) || ee.StatusCode != 500 || ee.Message != "quota exceeded" {
					t.Errorf("expected quota failure, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(New(tt.analyzer, logging.Discard()).Instrumented())
			defer srv.Close()

			c, err := extraction.New(extraction.Options{BaseURL: srv.URL, HTTPClient: srv.Client(), Logger: logging.Discard()})
			if err != nil {
				t.Fatalf("extraction.New: %v", err)
			}
			if err := c.Ping(context.Background()); err != nil {
				t.Fatalf("Ping: %v", err)
			}

			ex, err := c.Extract(context.Background(), api.Image{Data: []byte("jpeg"), MimeType: "image/jpeg"})
			tt.check(t, err)
			if err == nil && (ex.Amount != 1200 || ex.ShopName != "Cafe A") {
				t.Errorf("extraction: got %+v", ex)
			}
		})
	}
}
