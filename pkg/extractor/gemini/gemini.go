// Package gemini extracts receipt fields with the Gemini generateContent API.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// Prompt asks for the four receipt fields as bare JSON. The category list
// matches the Japanese labels of the closed category set.
const Prompt = `添付された領収書画像を解析し、以下の情報をJSON形式で抽出してください。
- date (YYYY-MM-DD形式)
- amount (数値のみ)
- shop_name (店名)
- category (食費、日用品、交通費、交際費、その他のいずれか)

出力は必ず純粋なJSON形式のみとしてください。マークダウンのバッククォートは含めないでください。`

const blockThreshold = "BLOCK_MEDIUM_AND_ABOVE"

var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// ErrNoJSON is returned when the model reply is not a JSON object.
var ErrNoJSON = errors.New("model reply is not a JSON object")

// Options configures a Client.
type Options struct {
	APIKey string
	// Model is the model name without the "models/" prefix.
	Model string
	// Endpoint overrides the API base URL.
	Endpoint string
	// Timeout bounds a single Analyze call, retries included.
	Timeout time.Duration
	// Attempts is the total number of tries on 429 and 503 replies.
	Attempts   uint
	RetryDelay time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client analyzes receipt images.
type Client struct {
	svc      *generativelanguage.Service
	model    string
	timeout  time.Duration
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// New creates a Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("gemini model is required")
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = client.NewHTTP(opts.Timeout)
	}
	keyed := *httpClient
	keyed.Transport = &apiKeyTransport{key: opts.APIKey, base: transportOf(httpClient)}

	svcOpts := []option.ClientOption{option.WithHTTPClient(&keyed)}
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := generativelanguage.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating generative language service: %w", err)
	}

	return &Client{
		svc:      svc,
		model:    "models/" + strings.TrimPrefix(opts.Model, "models/"),
		timeout:  opts.Timeout,
		attempts: opts.Attempts,
		delay:    opts.RetryDelay,
		logger:   logging.OrDefault(opts.Logger).With("component", "gemini", "model", opts.Model),
	}, nil
}

// Analyze sends the image to the model and returns its reply as a JSON object.
// Upstream HTTP failures are returned as *googleapi.Error.
func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role: "user",
			Parts: []*generativelanguage.Part{
				{Text: Prompt},
				{InlineData: &generativelanguage.Blob{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		SafetySettings:   safetySettings(),
		GenerationConfig: &generativelanguage.GenerationConfig{ResponseMimeType: "application/json"},
	}

	var resp *generativelanguage.GenerateContentResponse
	err := retry.Do(
		func() error {
			r, err := c.svc.Models.GenerateContent(c.model, req).Context(ctx).Do()
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("generateContent failed, retrying", "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	text, err := replyText(resp)
	if err != nil {
		return nil, err
	}

	out, err := parseReply(text)
	if err != nil {
		c.logger.Warn("unusable model reply", "reply", truncate(text, 200))
		return nil, err
	}

	c.logger.Debug("receipt analyzed", "bytes", len(image), "mime_type", mimeType)
	return out, nil
}

func safetySettings() []*generativelanguage.SafetySetting {
	out := make([]*generativelanguage.SafetySetting, 0, len(harmCategories))
	for _, category := range harmCategories {
		out = append(out, &generativelanguage.SafetySetting{Category: category, Threshold: blockThreshold})
	}
	return out
}

// retryable reports whether err is a rate limit or a temporary outage.
func retryable(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusTooManyRequests || gErr.Code == http.StatusServiceUnavailable
	}
	return false
}

func replyText(resp *generativelanguage.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("model returned no candidates")
	}

	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("model returned an empty candidate (finish reason %s)", cand.FinishReason)
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// parseReply strips markdown fences and checks that the reply is a JSON object.
func parseReply(text string) (json.RawMessage, error) {
	text = stripFences(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoJSON, err)
	}
	if obj == nil {
		return nil, ErrNoJSON
	}
	return json.RawMessage(text), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the info string, e.g. "json".
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// apiKeyTransport authenticates requests with the x-goog-api-key header.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("x-goog-api-key", t.key)
	return t.base.RoundTrip(req)
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
