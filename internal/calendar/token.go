package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

var ErrNotAuthorized = errors.New("calendar: not authorized")

// Authorizer owns the OAuth2 credential for the calendar. The token file is
// treated as an opaque cache: loaded lazily, refreshed when expired and
// replaced through an interactive consent when it cannot be refreshed.
type Authorizer struct {
	config    *oauth2.Config
	tokenPath string

	// OpenURL presents the consent URL to the operator.
	OpenURL func(url string)
	// ConsentTimeout bounds the wait for the browser redirect.
	ConsentTimeout time.Duration

	mu    sync.Mutex
	token *oauth2.Token
}

// NewAuthorizer reads OAuth client secrets downloaded from the Google Cloud
// console.
func NewAuthorizer(credentialsPath, tokenPath string) (*Authorizer, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading client secrets: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing client secrets: %w", err)
	}
	return newAuthorizer(cfg, tokenPath), nil
}

func newAuthorizer(cfg *oauth2.Config, tokenPath string) *Authorizer {
	return &Authorizer{
		config:         cfg,
		tokenPath:      tokenPath,
		ConsentTimeout: 5 * time.Minute,
		OpenURL: func(url string) {
			log.Warn("Calendar access needs authorization, open this URL in a browser", "url", url)
		},
	}
}

// Client returns an HTTP client that authorizes requests and persists
// refreshed tokens.
func (a *Authorizer) Client(ctx context.Context) (*http.Client, error) {
	tok, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}

	src := &persistingSource{
		auth: a,
		base: a.config.TokenSource(context.Background(), tok),
		last: tok.AccessToken,
	}
	return oauth2.NewClient(context.Background(), oauth2.ReuseTokenSource(tok, src)), nil
}

// Token returns a valid token, refreshing or re-authorizing as needed.
func (a *Authorizer) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		if tok, err := a.load(); err == nil {
			a.token = tok
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Ignoring unreadable token file", "path", a.tokenPath, "err", err)
		}
	}

	if a.token != nil && a.token.Valid() {
		return a.token, nil
	}

	if a.token != nil && a.token.RefreshToken != "" {
		tok, err := a.config.TokenSource(ctx, a.token).Token()
		if err == nil {
			a.store(tok)
			return tok, nil
		}
		log.Warn("Token refresh failed, re-authorizing", "err", err)
	}

	tok, err := a.consent(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	a.store(tok)
	return tok, nil
}

// consent runs the installed-app loopback flow: a one-shot HTTP listener on
// 127.0.0.1 receives the authorization code.
func (a *Authorizer) consent(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for redirect: %w", err)
	}
	defer ln.Close()

	cfg := *a.config
	cfg.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr())
	state := uuid.NewString()

	type result struct {
		code string
		err  error
	}
	ch := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var res result
			switch {
			case q.Get("state") != state:
				res.err = errors.New("state mismatch")
			case q.Get("error") != "":
				res.err = fmt.Errorf("consent denied: %s", q.Get("error"))
			case q.Get("code") == "":
				res.err = errors.New("missing code")
			default:
				res.code = q.Get("code")
			}

			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
			} else {
				fmt.Fprintln(w, "Authorization complete. You can close this window.")
			}
			select {
			case ch <- res:
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	a.OpenURL(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	wait, cancel := context.WithTimeout(ctx, a.ConsentTimeout)
	defer cancel()

	var res result
	select {
	case res = <-ch:
	case <-wait.Done():
		return nil, fmt.Errorf("waiting for consent: %w", wait.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return tok, nil
}

func (a *Authorizer) load() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// store keeps tok in memory and on disk. Callers hold a.mu.
func (a *Authorizer) store(tok *oauth2.Token) {
	a.token = tok

	if err := os.MkdirAll(filepath.Dir(a.tokenPath), 0o700); err != nil {
		log.Error("Failed to save token", "err", err)
		return
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		log.Error("Failed to save token", "err", err)
		return
	}
	if err := os.WriteFile(a.tokenPath, data, 0o600); err != nil {
		log.Error("Failed to save token", "err", err)
	}
}

// persistingSource writes every newly minted access token back to disk.
type persistingSource struct {
	auth *Authorizer
	base oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		p.auth.mu.Lock()
		p.auth.store(tok)
		p.auth.mu.Unlock()
	}
	return tok, nil
}
