package dracoon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Public client credentials for the dracoon-go CLI, embedded at build time.
// Overridable via `-ldflags "-X .../internal/dracoon.buildClientID=... -X .../internal/dracoon.buildClientSecret=..."`
// for downstream packagers.
var (
	buildClientID     = "dracoon-go-public-client"
	buildClientSecret = ""
)

// refreshMargin is how far ahead of expiry AuthHeader proactively refreshes.
const refreshMargin = 60 * time.Second

// FlowKind distinguishes the three supported OAuth2 grant types.
type FlowKind int

const (
	flowPassword FlowKind = iota
	flowAuthCode
	flowRefreshToken
)

// Flow describes how to acquire a session. Construct with PasswordFlow,
// AuthCodeFlow, or RefreshTokenFlow.
type Flow struct {
	kind         FlowKind
	username     string
	password     string
	code         string
	refreshToken string
}

// PasswordFlow authenticates with a username and password (resource owner
// password credentials grant).
func PasswordFlow(username, password string) Flow {
	return Flow{kind: flowPassword, username: username, password: password}
}

// AuthCodeFlow exchanges an authorization code obtained via AuthorizeURL.
func AuthCodeFlow(code string) Flow {
	return Flow{kind: flowAuthCode, code: code}
}

// RefreshTokenFlow resumes a session from a previously persisted refresh token.
func RefreshTokenFlow(refreshToken string) Flow {
	return Flow{kind: flowRefreshToken, refreshToken: refreshToken}
}

// DisconnectedSession is the OAuth2 session machine before a successful
// connect. It exposes a disjoint method set from *Session so no
// authenticated call can be issued before Connect succeeds.
type DisconnectedSession struct {
	baseURL      string
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewDisconnectedSession builds the pre-connect session handle. baseURL must
// be a normalized "https://<host>" TargetUrl. clientID/clientSecret default
// to the build-time public client constants when empty.
func NewDisconnectedSession(
	baseURL, clientID, clientSecret, redirectURI string, httpClient *http.Client, logger *slog.Logger,
) (*DisconnectedSession, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	if clientID == "" {
		clientID = buildClientID
	}

	if clientSecret == "" {
		clientSecret = buildClientSecret
	}

	if clientID == "" {
		return nil, ErrMissingClientID
	}

	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &DisconnectedSession{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// oauthConfig builds the golang.org/x/oauth2 config pointed at this target's
// /oauth/token and /oauth/authorize endpoints.
func (d *DisconnectedSession) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.clientID,
		ClientSecret: d.clientSecret,
		RedirectURL:  d.redirectURI,
		Scopes:       []string{"all"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.baseURL + APIPrefix + "/oauth/authorize",
			TokenURL: d.baseURL + APIPrefix + "/oauth/token",
		},
	}
}

// AuthorizeURL builds the browser-facing authorization URL for AuthCodeFlow.
func (d *DisconnectedSession) AuthorizeURL(state string) string {
	cfg := d.oauthConfig()

	return cfg.AuthCodeURL(state)
}

// Connect exchanges the given flow for tokens and returns a Connected
// Session. On success the typed state transitions Disconnected -> Connected.
func (d *DisconnectedSession) Connect(ctx context.Context, flow Flow) (*Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	cfg := d.oauthConfig()

	var (
		tok *oauth2.Token
		err error
	)

	switch flow.kind {
	case flowPassword:
		tok, err = cfg.PasswordCredentialsToken(ctx, flow.username, flow.password)
	case flowAuthCode:
		tok, err = cfg.Exchange(ctx, flow.code)
	case flowRefreshToken:
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: flow.refreshToken})

		tok, err = src.Token()
	default:
		return nil, fmt.Errorf("dracoon: unknown flow kind %d", flow.kind)
	}

	if err != nil {
		return nil, classifyOAuthError(err)
	}

	d.logger.Info("session connected", slog.Time("expires_at", tok.Expiry))

	return &Session{
		baseURL:    d.baseURL,
		httpClient: d.httpClient,
		cfg:        cfg,
		tok:        tok,
		logger:     d.logger,
	}, nil
}

// classifyOAuthError maps an x/oauth2 RetrieveError to AuthError,
// falling back to ErrConnectionFailed for transport failures.
func classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if ok := asRetrieveError(err, &retrieveErr); ok {
		return &AuthError{ErrorCode: retrieveErr.ErrorCode, ErrorDescription: retrieveErr.ErrorDescription}
	}

	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	for err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok { //nolint:errorlint // oauth2 does not implement Unwrap reliably across versions
			*target = re
			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}

// Session is the connected state: it owns the current access/refresh
// token pair and guards proactive, coalesced refresh. Safe for concurrent use.
type Session struct {
	baseURL    string
	httpClient *http.Client
	cfg        *oauth2.Config
	logger     *slog.Logger

	mu           sync.Mutex
	tok          *oauth2.Token
	refreshing   bool
	refreshDone  chan struct{}
	refreshErr   error
}

// BaseURL returns this session's normalized target URL.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// HTTPClient returns the underlying transport, shared across all components.
func (s *Session) HTTPClient() *http.Client {
	return s.httpClient
}

// AuthHeader returns "Bearer <access_token>", refreshing synchronously under
// a mutex if the token is within refreshMargin of expiry. Concurrent callers
// coalesce onto a single in-flight refresh.
func (s *Session) AuthHeader(ctx context.Context) (string, error) {
	tok, err := s.currentToken(ctx)
	if err != nil {
		return "", err
	}

	return "Bearer " + tok.AccessToken, nil
}

// currentToken returns a non-expired token, refreshing (and coalescing
// concurrent refreshers) if necessary.
func (s *Session) currentToken(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()

	if s.tok.Valid() && time.Until(s.tok.Expiry) > refreshMargin {
		tok := s.tok
		s.mu.Unlock()

		return tok, nil
	}

	if s.refreshing {
		done := s.refreshDone
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		s.mu.Lock()
		tok, err := s.tok, s.refreshErr
		s.mu.Unlock()

		return tok, err
	}

	s.refreshing = true
	s.refreshDone = make(chan struct{})
	s.mu.Unlock()

	s.logger.Debug("refreshing access token")

	src := s.cfg.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient), s.tok)
	newTok, err := src.Token()

	s.mu.Lock()

	if err != nil {
		s.refreshErr = classifyOAuthError(err)
	} else {
		s.tok = newTok
		s.refreshErr = nil
	}

	done := s.refreshDone
	tok, refreshErr := s.tok, s.refreshErr
	s.refreshing = false
	s.refreshDone = nil

	s.mu.Unlock()
	close(done)

	return tok, refreshErr
}

// RefreshToken exposes the current opaque refresh token so the CLI can
// persist it after first login.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tok.RefreshToken
}

// Revoke best-effort posts to /oauth/revoke. Errors are
// returned but callers typically log and ignore them — revocation failure
// does not prevent local logout.
func (s *Session) Revoke(ctx context.Context) error {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("token", tok.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+APIPrefix+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("dracoon: building revoke request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("revoke request failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeHTTPError(resp.StatusCode, resp.Body)
	}

	return nil
}
