// Package supabase implements identity.Provider on top of Supabase Auth
// anonymous sign-ins.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

const (
	signupPath = "/auth/v1/signup"
	tokenPath  = "/auth/v1/token"
	userPath   = "/auth/v1/user"

	// expiryDelta refreshes tokens slightly before they expire.
	expiryDelta = 30 * time.Second
)

// HTTPError is a non-2xx reply from Supabase Auth.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("supabase auth returned %d: %s", e.StatusCode, e.Message)
}

// Options configures a Provider.
type Options struct {
	// URL is the project URL, e.g. https://xyzcompany.supabase.co.
	URL string
	// AnonKey is the project's public anon key.
	AnonKey string
	// SessionPath is where the session is persisted. Empty keeps it in memory.
	SessionPath string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Provider talks to the Supabase Auth REST API.
type Provider struct {
	baseURL    *url.URL
	anonKey    string
	path       string
	httpClient *http.Client
	logger     *slog.Logger
	notifier   identity.Notifier

	mu      sync.Mutex
	loaded  bool
	session *identity.Session
}

var _ identity.Provider = (*Provider)(nil)

// New creates a Supabase identity provider.
func New(opts Options) (*Provider, error) {
	if opts.URL == "" || opts.AnonKey == "" {
		return nil, errors.New("supabase url and anon key are required")
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing supabase url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = client.NewHTTP(0)
	}

	return &Provider{
		baseURL:    base,
		anonKey:    opts.AnonKey,
		path:       opts.SessionPath,
		httpClient: httpClient,
		logger:     logging.OrDefault(opts.Logger).With("component", "identity", "provider", "supabase"),
	}, nil
}

// Name implements identity.Provider.
func (p *Provider) Name() string { return "supabase" }

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID          string `json:"id"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type errorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (r errorResponse) text() string {
	for _, s := range []string{r.Msg, r.Message, r.ErrorDescription, r.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (t tokenResponse) session() *identity.Session {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
	switch {
	case t.ExpiresAt > 0:
		tok.Expiry = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return &identity.Session{
		User:  identity.User{ID: t.User.ID, Anonymous: t.User.IsAnonymous},
		Token: tok,
	}
}

// GetSession returns the persisted session, refreshing its token when it has
// expired. A refresh token the server rejects ends the session.
func (p *Provider) GetSession(ctx context.Context) (*identity.Session, error) {
	sess, err := p.load()
	if err != nil || sess == nil {
		return nil, err
	}
	if tokenFresh(sess.Token) {
		return sess, nil
	}

	refreshed, err := p.refresh(ctx, sess)
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.StatusCode >= 400 && herr.StatusCode < 500 {
			p.logger.Warn("refresh token rejected, session ended", "error", err)
			p.end(ctx)
			return nil, nil
		}
		// Transient failure: keep the identity, GetUser will report the problem.
		p.logger.Warn("refreshing session failed", "error", err)
		return sess, nil
	}
	return refreshed, nil
}

// SignInAnonymously implements identity.Provider.
func (p *Provider) SignInAnonymously(ctx context.Context) (*identity.Session, error) {
	var tr tokenResponse
	if err := p.post(ctx, signupPath, nil, map[string]any{}, &tr); err != nil {
		return nil, fmt.Errorf("anonymous sign-in: %w", err)
	}
	if tr.AccessToken == "" || tr.User.ID == "" {
		return nil, errors.New("anonymous sign-in: response has no session")
	}

	sess := tr.session()
	if err := p.store(sess); err != nil {
		return nil, err
	}

	p.logger.Info("signed in anonymously", "user_id", sess.User.ID)
	p.notifier.Emit(ctx, identity.SignedIn, sess)
	return sess, nil
}

// GetUser asks Supabase Auth who the current token belongs to.
func (p *Provider) GetUser(ctx context.Context) (*identity.User, error) {
	sess, err := p.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Token == nil {
		return nil, identity.ErrNoUser
	}

	authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), oauth2.StaticTokenSource(sess.Token))
	authed.Timeout = p.httpClient.Timeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL.JoinPath(userPath).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating user request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)

	resp, err := authed.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.logger.Warn("access token rejected, session ended", "status", resp.StatusCode)
		p.end(ctx)
		return nil, identity.ErrNoUser
	}
	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	var ur userResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	if ur.ID == "" {
		return nil, identity.ErrNoUser
	}
	return &identity.User{ID: ur.ID, Anonymous: ur.IsAnonymous}, nil
}

// OnAuthStateChange implements identity.Provider.
func (p *Provider) OnAuthStateChange(l identity.Listener) identity.Subscription {
	return p.notifier.Subscribe(l)
}

func (p *Provider) refresh(ctx context.Context, sess *identity.Session) (*identity.Session, error) {
	if sess.Token == nil || sess.Token.RefreshToken == "" {
		return nil, &HTTPError{StatusCode: http.StatusUnauthorized, Message: "no refresh token"}
	}

	var tr tokenResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	if err := p.post(ctx, tokenPath, q, map[string]string{"refresh_token": sess.Token.RefreshToken}, &tr); err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	if tr.User.ID == "" {
		tr.User = userResponse{ID: sess.User.ID, IsAnonymous: sess.User.Anonymous}
	}

	refreshed := tr.session()
	if err := p.store(refreshed); err != nil {
		return nil, err
	}

	p.logger.Debug("token refreshed", "user_id", refreshed.User.ID)
	if refreshed.User.ID != sess.User.ID {
		p.notifier.Emit(ctx, identity.SignedIn, refreshed)
	} else {
		p.notifier.Emit(ctx, identity.TokenRefreshed, refreshed)
	}
	return refreshed, nil
}

func (p *Provider) load() (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded || p.path == "" {
		return p.session, nil
	}
	sess, err := client.SessionFromFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	p.session = sess
	p.loaded = true
	return sess, nil
}

func (p *Provider) store(sess *identity.Session) error {
	if p.path != "" {
		if err := client.SaveSession(p.path, sess); err != nil {
			return fmt.Errorf("persisting session: %w", err)
		}
	}
	p.mu.Lock()
	p.session = sess
	p.loaded = true
	p.mu.Unlock()
	return nil
}

// end discards the session and tells listeners.
func (p *Provider) end(ctx context.Context) {
	p.mu.Lock()
	p.session = nil
	p.loaded = true
	p.mu.Unlock()

	if p.path != "" {
		if err := client.RemoveSession(p.path); err != nil {
			p.logger.Warn("removing session file failed", "error", err)
		}
	}
	p.notifier.Emit(ctx, identity.SignedOut, nil)
}

func (p *Provider) post(ctx context.Context, path string, query url.Values, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	u := p.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.anonKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er errorResponse
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &er) == nil && er.text() != "" {
		msg = er.text()
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

func tokenFresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(expiryDelta).Before(tok.Expiry)
}
