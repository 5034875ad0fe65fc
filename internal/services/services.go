// package services defines interface Remote for reading playlists from music streaming APIs
//
// Spotify, Yandex Music
package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
)

// Remote defines the read-only interface a music service provider exposes to the refresh cycle.
type Remote interface {
	// Name returns the provider identifier (e.g. "spotify", "yandex").
	Name() string

	// Authenticate validates the credential against the service.
	// Fails with [shared.ErrAuth] when the token is missing, malformed or rejected.
	Authenticate(ctx context.Context, cred Credential) (*Session, error)

	// FetchAllPlaylists returns every playlist of account with its tracks in remote order.
	// Transport and decoding failures are reported as [shared.ErrRemote].
	FetchAllPlaylists(ctx context.Context, s *Session, account string) ([]models.Playlist, error)
}

// Credential is an opaque bearer token. It is passed by value and never kept in package state.
type Credential struct {
	Token string
}

// String hides the token so a credential can be logged safely.
func (c Credential) String() string {
	if c.Token == "" {
		return "Credential(empty)"
	}
	return "Credential(***)"
}

// Validate rejects empty tokens and tokens carrying whitespace or control characters.
func (c Credential) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: no token provided", shared.ErrAuth)
	}
	for _, r := range c.Token {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: token is malformed", shared.ErrAuth)
		}
	}
	return nil
}

// Session is the result of a successful [Remote.Authenticate].
// Login is a unique handle the provider also accepts as an account name.
// DisplayName is free text and never identifies an account.
type Session struct {
	Provider    string
	UserID      string
	Login       string
	DisplayName string
	Client      *http.Client
}

// IsAccount reports whether account names the authenticated user.
// "me" always refers to the session user.
func (s *Session) IsAccount(account string) bool {
	if s == nil {
		return false
	}
	account = strings.TrimSpace(account)
	return account == "me" ||
		strings.EqualFold(account, s.UserID) ||
		(s.Login != "" && strings.EqualFold(account, s.Login))
}

type providerOptions struct {
	logger *log.Logger
}

// ProviderOption configures [New].
type ProviderOption func(*providerOptions)

// WithLogger sets the logger used by the provider and its transport.
func WithLogger(l *log.Logger) ProviderOption {
	return func(o *providerOptions) { o.logger = l }
}

// New builds the provider named in cfg. The credential is bound later, in Authenticate.
func New(cfg *shared.Config, opts ...ProviderOption) (Remote, error) {
	o := providerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	transport, err := TransportOptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	transport.Logger = o.logger

	switch cfg.Remote.Provider {
	case shared.ProviderSpotify:
		return NewSpotifyService(SpotifyOptions{
			BaseURL:     cfg.Remote.BaseURL,
			Concurrency: cfg.HTTP.Concurrency,
			Likes:       cfg.Run.Likes,
			Transport:   transport,
			Logger:      o.logger,
		}), nil
	case shared.ProviderYandex:
		return NewYandexService(YandexOptions{
			BaseURL:     cfg.Remote.BaseURL,
			Concurrency: cfg.HTTP.Concurrency,
			Likes:       cfg.Run.Likes,
			Transport:   transport,
			Logger:      o.logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", shared.ErrInvalidConfig, cfg.Remote.Provider)
	}
}
