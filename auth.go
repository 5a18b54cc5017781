package goclient

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// AuthStrategy injects credentials into an outbound request. Strategies
// are state-bearing and must be safe under concurrent use by the
// engine, matching spec.md §4.2.
type AuthStrategy interface {
	// Apply stamps credentials onto req (typically as headers). It may
	// perform I/O (token fetch) and may fail with *AuthError or
	// *ConfigError.
	Apply(ctx context.Context, req *OutboundRequest) error
}

// NoAuthStrategy is the identity strategy: it stamps nothing.
type NoAuthStrategy struct{}

func (NoAuthStrategy) Apply(context.Context, *OutboundRequest) error { return nil }

// StaticBearerStrategy sets Authorization: Bearer <token> using a token
// supplied explicitly at construction. There is no constructor that
// reads the token from configuration; the caller passes the value.
type StaticBearerStrategy struct {
	token string
}

// NewStaticBearerStrategy constructs a StaticBearerStrategy from an
// explicit token. It is a *ConfigError for the token to be empty — per
// spec.md §4.2, the strategy must have a token from somewhere.
func NewStaticBearerStrategy(token string) (*StaticBearerStrategy, error) {
	if token == "" {
		return nil, NewConfigError("static bearer token is required")
	}
	return &StaticBearerStrategy{token: token}, nil
}

func (s *StaticBearerStrategy) Apply(_ context.Context, req *OutboundRequest) error {
	req.Header.Set("Authorization", "Bearer "+s.token)
	return nil
}

// OAuth2Strategy implements the client-credentials grant. Refreshes are
// coalesced through a golang.org/x/sync/singleflight.Group keyed on a
// constant, giving the one-in-flight-fetch semantics spec.md §4.2 and §8
// require, while each caller's own ctx — not a context fixed at
// construction — bounds the exchange: Apply races the coalesced fetch
// against ctx.Done() so a caller can still abort on cancellation/timeout
// even if it isn't the goroutine that triggered the HTTP round trip
// (spec.md §5 suspension point (b)). This replaces the teacher's
// hand-rolled RWMutex-guarded Authenticator with the same shape, built
// from library primitives instead of bespoke locking.
type OAuth2Strategy struct {
	cfg   *clientcredentials.Config
	group singleflight.Group

	mu    sync.Mutex
	token *oauth2.Token
}

// OAuth2Config describes an OAuth2 client-credentials binding.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// NewOAuth2Strategy constructs an OAuth2Strategy. ConfigError is
// returned when required fields are missing.
func NewOAuth2Strategy(cfg OAuth2Config) (*OAuth2Strategy, error) {
	if cfg.ClientID == "" {
		return nil, NewConfigError("OAuth2 ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, NewConfigError("OAuth2 ClientSecret is required")
	}
	if cfg.TokenURL == "" {
		return nil, NewConfigError("OAuth2 TokenURL is required")
	}

	ccCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return newOAuth2StrategyFromConfig(ccCfg), nil
}

// newOAuth2StrategyFromConfig lets tests (and clients wanting a custom
// HTTP client on the token exchange) inject the clientcredentials.Config
// directly.
func newOAuth2StrategyFromConfig(cfg *clientcredentials.Config) *OAuth2Strategy {
	return &OAuth2Strategy{cfg: cfg}
}

const oauth2RefreshKey = "token"

func (s *OAuth2Strategy) cachedToken() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *OAuth2Strategy) Apply(ctx context.Context, req *OutboundRequest) error {
	if token := s.cachedToken(); token != nil && token.Valid() {
		return stampBearerToken(req, token)
	}

	ch := s.group.DoChan(oauth2RefreshKey, func() (any, error) {
		if token := s.cachedToken(); token != nil && token.Valid() {
			return token, nil
		}
		token, err := s.cfg.Token(ctx)
		if err != nil {
			return nil, err
		}
		if token != nil && token.AccessToken != "" {
			s.mu.Lock()
			s.token = token
			s.mu.Unlock()
		}
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return NewAuthError("failed to obtain OAuth2 token: "+res.Err.Error(), nil, nil, 0)
		}
		token, _ := res.Val.(*oauth2.Token)
		if token == nil || token.AccessToken == "" {
			return NewAuthError("OAuth2 token source returned an empty access token", nil, nil, 0)
		}
		return stampBearerToken(req, token)
	case <-ctx.Done():
		return NewTimeoutError(nil, 0)
	}
}

func stampBearerToken(req *OutboundRequest, token *oauth2.Token) error {
	tokenType := token.Type()
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+token.AccessToken)
	return nil
}
