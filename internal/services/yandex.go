// Yandex Music API implementation of [Remote]
//
// Talks to the unofficial api.music.yandex.net JSON API. Every response is wrapped in
// {"result": ...} or {"error": {...}}.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
	"golang.org/x/sync/errgroup"
)

const (
	yandexBaseURL    = "https://api.music.yandex.net"
	yandexTrackBatch = 100
	yandexLikedName  = "Liked tracks"
)

// yandexID decodes ids the API sends either as numbers or as strings.
type yandexID string

func (id *yandexID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = yandexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = yandexID(n.String())
	return nil
}

type yandexAccount struct {
	UID   yandexID `json:"uid"`
	Login string   `json:"login"`
}

type yandexAccountStatus struct {
	Account yandexAccount `json:"account"`
}

type yandexArtist struct {
	Name string `json:"name"`
}

type yandexAlbum struct {
	ID    yandexID `json:"id"`
	Title string   `json:"title"`
}

// YandexTrack is a full track object as returned by POST /tracks.
type YandexTrack struct {
	ID         yandexID       `json:"id"`
	Title      string         `json:"title"`
	Available  *bool          `json:"available"`
	DurationMS int            `json:"durationMs"`
	Artists    []yandexArtist `json:"artists"`
	Albums     []yandexAlbum  `json:"albums"`
}

// yandexTrackShort is a track reference inside a playlist or the likes library.
type yandexTrackShort struct {
	ID        yandexID     `json:"id"`
	AlbumID   yandexID     `json:"albumId"`
	Timestamp string       `json:"timestamp"`
	Track     *YandexTrack `json:"track"`
}

type yandexOwner struct {
	UID   yandexID `json:"uid"`
	Login string   `json:"login"`
}

// YandexPlaylist is a user playlist. Tracks are only present on the single-playlist endpoint.
type YandexPlaylist struct {
	Kind     yandexID           `json:"kind"`
	Title    string             `json:"title"`
	Revision yandexID           `json:"revision"`
	Modified string             `json:"modified"`
	Owner    yandexOwner        `json:"owner"`
	Tracks   []yandexTrackShort `json:"tracks"`
}

type yandexLibrary struct {
	Library struct {
		UID      yandexID           `json:"uid"`
		Revision yandexID           `json:"revision"`
		Tracks   []yandexTrackShort `json:"tracks"`
	} `json:"library"`
}

type yandexAPIError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type yandexEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *yandexAPIError `json:"error"`
}

// YandexOptions configures [YandexService].
type YandexOptions struct {
	BaseURL     string
	Concurrency int
	Likes       bool
	Transport   TransportOptions
	Logger      *log.Logger
}

// YandexService implements [Remote] for Yandex Music.
type YandexService struct {
	baseURL     string
	concurrency int
	likes       bool
	transport   TransportOptions
	logger      *log.Logger
}

// NewYandexService creates a Yandex Music provider.
func NewYandexService(opts YandexOptions) *YandexService {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = yandexBaseURL
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 4
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &YandexService{
		baseURL:     baseURL,
		concurrency: concurrency,
		likes:       opts.Likes,
		transport:   opts.Transport,
		logger:      logger,
	}
}

func (y *YandexService) Name() string {
	return shared.ProviderYandex
}

// Authenticate checks the token against /account/status. An answer without an account
// uid means the token was not accepted.
func (y *YandexService) Authenticate(ctx context.Context, cred Credential) (*Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	httpClient := NewHTTPClient(cred.Token, tokenTypeOAuth, y.transport)

	var status yandexAccountStatus
	if err := y.doRequest(ctx, httpClient, http.MethodGet, "/account/status", nil, &status); err != nil {
		return nil, err
	}
	if status.Account.UID == "" {
		return nil, fmt.Errorf("%w: token not accepted by yandex", shared.ErrAuth)
	}

	y.logger.Debug("authenticated", "provider", y.Name(), "uid", status.Account.UID, "login", status.Account.Login)
	return &Session{
		Provider: y.Name(),
		UserID:   string(status.Account.UID),
		Login:    status.Account.Login,
		Client:   httpClient,
	}, nil
}

// FetchAllPlaylists returns the user playlists of account followed by its liked tracks.
func (y *YandexService) FetchAllPlaylists(ctx context.Context, sess *Session, account string) ([]models.Playlist, error) {
	if sess == nil || sess.Client == nil {
		return nil, fmt.Errorf("%w: not authenticated", shared.ErrAuth)
	}
	if account == "" || account == "me" {
		account = sess.UserID
	}

	var listed []YandexPlaylist
	if err := y.doRequest(ctx, sess.Client, http.MethodGet, "/users/"+url.PathEscape(account)+"/playlists/list", nil, &listed); err != nil {
		return nil, err
	}

	seen := make(map[yandexID]bool, len(listed))
	kinds := make([]yandexID, 0, len(listed))
	for _, p := range listed {
		if p.Kind == "" || seen[p.Kind] {
			continue
		}
		seen[p.Kind] = true
		kinds = append(kinds, p.Kind)
	}

	playlists := make([]models.Playlist, len(kinds))
	var liked *models.Playlist

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(y.concurrency)

	for i, kind := range kinds {
		g.Go(func() error {
			p, err := y.playlist(gctx, sess.Client, account, kind)
			if err != nil {
				return err
			}
			playlists[i] = p
			return nil
		})
	}

	if y.likes {
		g.Go(func() error {
			p, err := y.likedTracks(gctx, sess.Client, account)
			if err != nil {
				return err
			}
			liked = &p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if liked != nil {
		playlists = append(playlists, *liked)
	}

	y.logger.Debug("fetched playlists", "account", account, "count", len(playlists))
	return playlists, nil
}

func (y *YandexService) playlist(ctx context.Context, client *http.Client, account string, kind yandexID) (models.Playlist, error) {
	var p YandexPlaylist
	path := fmt.Sprintf("/users/%s/playlists/%s", url.PathEscape(account), url.PathEscape(string(kind)))
	if err := y.doRequest(ctx, client, http.MethodGet, path, nil, &p); err != nil {
		return models.Playlist{}, err
	}

	tracks, err := y.resolveTracks(ctx, client, p.Tracks)
	if err != nil {
		return models.Playlist{}, err
	}

	revision := string(p.Revision)
	if revision == "" {
		revision = p.Modified
	}

	return models.Playlist{
		ID:       string(kind),
		Name:     p.Title,
		Owner:    ownerName(p.Owner, account),
		Revision: revision,
		Tracks:   tracks,
	}, nil
}

func (y *YandexService) likedTracks(ctx context.Context, client *http.Client, account string) (models.Playlist, error) {
	var lib yandexLibrary
	if err := y.doRequest(ctx, client, http.MethodGet, "/users/"+url.PathEscape(account)+"/likes/tracks", nil, &lib); err != nil {
		return models.Playlist{}, err
	}

	tracks, err := y.resolveTracks(ctx, client, lib.Library.Tracks)
	if err != nil {
		return models.Playlist{}, err
	}

	return models.Playlist{
		ID:       models.LikedPlaylistID,
		Name:     yandexLikedName,
		Owner:    account,
		Revision: string(lib.Library.Revision),
		Tracks:   tracks,
	}, nil
}

// resolveTracks turns track references into full tracks, fetching the ones that were not
// embedded in batches. References the service no longer resolves are kept as unavailable.
func (y *YandexService) resolveTracks(ctx context.Context, client *http.Client, refs []yandexTrackShort) ([]models.Track, error) {
	full := make(map[yandexID]*YandexTrack, len(refs))
	var missing []string
	for _, r := range refs {
		if r.ID == "" {
			continue
		}
		if r.Track != nil {
			full[r.ID] = r.Track
			continue
		}
		if _, queued := full[r.ID]; !queued {
			full[r.ID] = nil
			missing = append(missing, trackRef(r))
		}
	}

	for start := 0; start < len(missing); start += yandexTrackBatch {
		end := min(start+yandexTrackBatch, len(missing))

		form := url.Values{}
		form.Set("track-ids", strings.Join(missing[start:end], ","))

		var batch []YandexTrack
		if err := y.doRequest(ctx, client, http.MethodPost, "/tracks", form, &batch); err != nil {
			return nil, err
		}
		for i := range batch {
			full[batch[i].ID] = &batch[i]
		}
		y.logger.Debug("resolved track batch", "requested", end-start, "returned", len(batch))
	}

	tracks := make([]models.Track, 0, len(refs))
	for _, r := range refs {
		if r.ID == "" {
			continue
		}
		t := yandexTrack(r.ID, full[r.ID])
		t.AddedAt = parseYandexTime(r.Timestamp)
		tracks = append(tracks, t)
	}
	return dedupeTracks(tracks), nil
}

func yandexTrack(id yandexID, yt *YandexTrack) models.Track {
	if yt == nil {
		return models.Track{ID: string(id)}
	}

	artists := make([]string, 0, len(yt.Artists))
	for _, a := range yt.Artists {
		artists = append(artists, a.Name)
	}

	var album string
	if len(yt.Albums) > 0 {
		album = yt.Albums[0].Title
	}

	return models.Track{
		ID:         string(id),
		Title:      yt.Title,
		Artist:     strings.Join(artists, ", "),
		Album:      album,
		DurationMS: yt.DurationMS,
		Available:  yt.Available == nil || *yt.Available,
	}
}

// trackRef formats the id accepted by POST /tracks.
func trackRef(r yandexTrackShort) string {
	if r.AlbumID != "" {
		return string(r.ID) + ":" + string(r.AlbumID)
	}
	return string(r.ID)
}

func ownerName(o yandexOwner, fallback string) string {
	if o.Login != "" {
		return o.Login
	}
	if o.UID != "" {
		return string(o.UID)
	}
	return fallback
}

func parseYandexTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// doRequest performs a request against the Yandex API and decodes the "result" member into result.
func (y *YandexService) doRequest(ctx context.Context, client *http.Client, method, endpoint string, form url.Values, result any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", shared.ErrRemote, err)
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, shared.ErrAuth) || errors.Is(err, shared.ErrRemote) {
			return fmt.Errorf("yandex %s %s: %w", method, endpoint, err)
		}
		return fmt.Errorf("%w: yandex %s %s: %w", shared.ErrRemote, method, endpoint, err)
	}
	defer resp.Body.Close()

	var envelope yandexEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && envelope.Error != nil {
			return fmt.Errorf("%w: yandex %s %s: status %d: %s: %s",
				shared.ErrRemote, method, endpoint, resp.StatusCode, envelope.Error.Name, envelope.Error.Message)
		}
		return fmt.Errorf("%w: yandex %s %s: status %d", shared.ErrRemote, method, endpoint, resp.StatusCode)
	}

	if decodeErr != nil {
		return fmt.Errorf("%w: yandex %s %s: failed to decode response: %v", shared.ErrRemote, method, endpoint, decodeErr)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%w: yandex %s %s: %s: %s", shared.ErrRemote, method, endpoint, envelope.Error.Name, envelope.Error.Message)
	}
	if len(envelope.Result) == 0 || bytes.Equal(envelope.Result, []byte("null")) {
		return fmt.Errorf("%w: yandex %s %s: empty result", shared.ErrRemote, method, endpoint)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%w: yandex %s %s: failed to decode result: %v", shared.ErrRemote, method, endpoint, err)
		}
	}
	return nil
}
