// Spotify Web API implementation of [Remote]
//
// Built on github.com/zmb3/spotify/v2. Response types are documented at https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/sync/errgroup"
)

const (
	spotifyBaseURL   = "https://api.spotify.com/v1/"
	spotifyPageSize  = 50
	spotifyItemsPage = 100
	likedSongsName   = "Liked Songs"
)

// SpotifyOptions configures [SpotifyService].
type SpotifyOptions struct {
	BaseURL     string
	Concurrency int
	Likes       bool
	Transport   TransportOptions
	Logger      *log.Logger
}

// SpotifyService implements [Remote] for Spotify.
type SpotifyService struct {
	baseURL     string
	concurrency int
	likes       bool
	transport   TransportOptions
	logger      *log.Logger
}

// NewSpotifyService creates a Spotify provider. The token is supplied to Authenticate.
func NewSpotifyService(opts SpotifyOptions) *SpotifyService {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 4
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &SpotifyService{
		baseURL:     baseURL,
		concurrency: concurrency,
		likes:       opts.Likes,
		transport:   opts.Transport,
		logger:      logger,
	}
}

func (s *SpotifyService) Name() string {
	return shared.ProviderSpotify
}

// Authenticate checks the token by reading the current user's profile.
func (s *SpotifyService) Authenticate(ctx context.Context, cred Credential) (*Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	httpClient := NewHTTPClient(cred.Token, tokenTypeBearer, s.transport)
	user, err := s.client(httpClient).CurrentUser(ctx)
	if err != nil {
		return nil, spotifyError(err, "failed to read current user")
	}

	s.logger.Debug("authenticated", "provider", s.Name(), "user", user.ID)
	return &Session{
		Provider:    s.Name(),
		UserID:      user.ID,
		Login:       user.ID,
		DisplayName: user.DisplayName,
		Client:      httpClient,
	}, nil
}

// FetchAllPlaylists lists the playlists of account and fetches their items concurrently.
// The account's saved tracks are appended as the "liked" playlist when account is the
// authenticated user.
func (s *SpotifyService) FetchAllPlaylists(ctx context.Context, sess *Session, account string) ([]models.Playlist, error) {
	if sess == nil || sess.Client == nil {
		return nil, fmt.Errorf("%w: not authenticated", shared.ErrAuth)
	}
	if account == "" || account == "me" {
		account = sess.UserID
	}

	client := s.client(sess.Client)

	simple, err := s.listPlaylists(ctx, client, account)
	if err != nil {
		return nil, err
	}

	playlists := make([]models.Playlist, len(simple))
	var liked *models.Playlist

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, sp := range simple {
		g.Go(func() error {
			tracks, err := s.playlistTracks(gctx, client, sp.ID)
			if err != nil {
				return err
			}
			playlists[i] = models.Playlist{
				ID:       string(sp.ID),
				Name:     sp.Name,
				Owner:    sp.Owner.ID,
				Revision: sp.SnapshotID,
				Tracks:   tracks,
			}
			return nil
		})
	}

	if s.likes && sess.IsAccount(account) {
		g.Go(func() error {
			tracks, err := s.savedTracks(gctx, client)
			if err != nil {
				return err
			}
			liked = &models.Playlist{
				ID:     models.LikedPlaylistID,
				Name:   likedSongsName,
				Owner:  sess.UserID,
				Tracks: tracks,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if liked != nil {
		playlists = append(playlists, *liked)
	}

	s.logger.Debug("fetched playlists", "account", account, "count", len(playlists))
	return playlists, nil
}

func (s *SpotifyService) client(httpClient *http.Client) *spotify.Client {
	return spotify.New(httpClient, spotify.WithBaseURL(s.baseURL))
}

// listPlaylists pages through the account's playlists, keeping the first occurrence of each id.
func (s *SpotifyService) listPlaylists(ctx context.Context, client *spotify.Client, account string) ([]spotify.SimplePlaylist, error) {
	page, err := client.GetPlaylistsForUser(ctx, account, spotify.Limit(spotifyPageSize))
	if err != nil {
		return nil, spotifyError(err, "failed to list playlists of %s", account)
	}

	seen := make(map[spotify.ID]bool)
	var out []spotify.SimplePlaylist
	for {
		for _, p := range page.Playlists {
			if p.ID == "" || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}

		err := client.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, spotifyError(err, "failed to list playlists of %s", account)
		}
	}
	return out, nil
}

func (s *SpotifyService) playlistTracks(ctx context.Context, client *spotify.Client, id spotify.ID) ([]models.Track, error) {
	page, err := client.GetPlaylistItems(ctx, id, spotify.Limit(spotifyItemsPage), spotify.Market("from_token"))
	if err != nil {
		return nil, spotifyError(err, "failed to fetch items of playlist %s", id)
	}

	var tracks []models.Track
	for {
		for _, item := range page.Items {
			t, ok := playlistItemTrack(item)
			if !ok {
				s.logger.Debug("skipping playlist item", "playlist", id, "added_at", item.AddedAt)
				continue
			}
			tracks = append(tracks, t)
		}

		err := client.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, spotifyError(err, "failed to fetch items of playlist %s", id)
		}
	}
	return dedupeTracks(tracks), nil
}

func (s *SpotifyService) savedTracks(ctx context.Context, client *spotify.Client) ([]models.Track, error) {
	page, err := client.CurrentUsersTracks(ctx, spotify.Limit(spotifyPageSize), spotify.Market("from_token"))
	if err != nil {
		return nil, spotifyError(err, "failed to fetch saved tracks")
	}

	var tracks []models.Track
	for {
		for _, saved := range page.Tracks {
			if saved.ID == "" {
				continue
			}
			t := fullTrack(&saved.FullTrack)
			t.AddedAt = parseSpotifyTime(saved.AddedAt)
			tracks = append(tracks, t)
		}

		err := client.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, spotifyError(err, "failed to fetch saved tracks")
		}
	}
	return dedupeTracks(tracks), nil
}

// playlistItemTrack converts a playlist item. Episodes and items without a track are skipped.
// Local files have no catalogue id and are keyed by their URI.
func playlistItemTrack(item spotify.PlaylistItem) (models.Track, bool) {
	ft := item.Track.Track
	if ft == nil {
		return models.Track{}, false
	}

	t := fullTrack(ft)
	if item.IsLocal || t.ID == "" {
		if ft.URI == "" {
			return models.Track{}, false
		}
		t.ID = "local:" + string(ft.URI)
		t.Available = true
	}
	t.AddedAt = parseSpotifyTime(item.AddedAt)
	return t, true
}

func fullTrack(ft *spotify.FullTrack) models.Track {
	artists := make([]string, 0, len(ft.Artists))
	for _, a := range ft.Artists {
		artists = append(artists, a.Name)
	}

	return models.Track{
		ID:         string(ft.ID),
		Title:      ft.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      ft.Album.Name,
		DurationMS: int(ft.Duration),
		Available:  ft.IsPlayable == nil || *ft.IsPlayable,
	}
}

func parseSpotifyTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// dedupeTracks keeps the first occurrence of every track id.
func dedupeTracks(tracks []models.Track) []models.Track {
	seen := make(map[string]bool, len(tracks))
	out := make([]models.Track, 0, len(tracks))
	for _, t := range tracks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

// spotifyError classifies errors coming out of the spotify client. Transport errors
// already carry their class; API errors are mapped from their status.
func spotifyError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, shared.ErrAuth) || errors.Is(err, shared.ErrRemote) {
		return fmt.Errorf("%s: %w", msg, err)
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		return fmt.Errorf("%w: %s: %v", shared.ErrAuth, msg, err)
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrRemote, msg, err)
}
