// Package extraction is the HTTP client for the receipt extraction server.
package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

const (
	// AnalyzePath is the extraction endpoint relative to the server base URL.
	AnalyzePath = "/api/analyze-receipt"
	// HealthPath reports whether the server is up.
	HealthPath = "/healthz"

	fallbackMessage  = "failed to analyze receipt"
	maxResponseBytes = 1 << 20
)

// Request is the JSON body sent to the extraction server.
type Request struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
}

// ErrorResponse is the JSON body the server sends on failure.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Options configures a Client.
type Options struct {
	// BaseURL of the extraction server, e.g. http://localhost:8787.
	BaseURL string
	// Timeout applies when HTTPClient is nil.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the extraction server.
type Client struct {
	endpoint   string
	health     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ api.Extractor = (*Client)(nil)

// New creates an extraction client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing extractor url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("extractor url %q must be http or https", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = client.NewHTTP(opts.Timeout)
	}

	return &Client{
		endpoint:   base.JoinPath(AnalyzePath).String(),
		health:     base.JoinPath(HealthPath).String(),
		httpClient: httpClient,
		logger:     logging.OrDefault(opts.Logger).With("component", "extraction"),
	}, nil
}

// Extract sends the image to the server and leniently decodes the reply.
// Every failure is an *api.ExtractionError.
func (c *Client) Extract(ctx context.Context, img api.Image) (api.Extraction, error) {
	body, err := json.Marshal(Request{
		Image:    base64.StdEncoding.EncodeToString(img.Data),
		MimeType: img.MimeType,
	})
	if err != nil {
		return api.Extraction{}, &api.ExtractionError{Message: "encoding request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return api.Extraction{}, &api.ExtractionError{Message: "creating request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("extraction request failed", "error", err)
		return api.Extraction{}, &api.ExtractionError{Message: fallbackMessage, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return api.Extraction{}, &api.ExtractionError{StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fallbackMessage
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			msg = er.Message
		}
		c.logger.Warn("extraction rejected", "status", resp.StatusCode, "message", msg)
		return api.Extraction{}, &api.ExtractionError{StatusCode: resp.StatusCode, Message: msg}
	}

	fields, err := decodeObject(raw)
	if err != nil {
		return api.Extraction{}, &api.ExtractionError{Message: "unusable reply", Err: err}
	}

	ex := Coerce(fields)
	c.logger.Info("receipt extracted",
		"duration", time.Since(start),
		"has_date", ex.Date.IsValid(),
		"has_amount", ex.Amount > 0,
		"category", ex.Category)
	return ex, nil
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.health, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting extraction server: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extraction server returned status %d", resp.StatusCode)
	}
	return nil
}

var errNotObject = errors.New("reply is not a JSON object")

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}
