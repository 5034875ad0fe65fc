// Package services defines the [Remote] interface for music streaming providers and implements it for Spotify and Yandex Music.
//
// # Remote Interface
//
// A provider authenticates a [Credential] into a [Session] and reads every playlist of an
// account, tracks included, in the order the service returns them. Providers are read-only.
//
// # Transport
//
// Both providers share the stack built by [NewHTTPClient]:
//   - oauth2.Transport with a static token source ("Bearer" for Spotify, "OAuth" for Yandex)
//   - retryTransport: rate limiter wait, per-attempt timeout, exponential backoff on network
//     errors, 5xx and 429 (Retry-After honoured)
//   - http.Transport with the configured proxy
//
// # Spotify Implementation
//
// [SpotifyService] uses github.com/zmb3/spotify/v2 for paging. Episodes are skipped and local
// files are keyed by their URI. Saved tracks become the "liked" playlist when the account
// being backed up is the authenticated user.
//
// # Yandex Implementation
//
// [YandexService] talks to api.music.yandex.net directly. Playlists and the likes library
// only carry track references, which are resolved through POST /tracks in batches of 100.
//
// # Error Handling
//
// Errors are classified with the sentinels of the shared package:
//   - [shared.ErrAuth] : empty or malformed token, 401/403 answers
//   - [shared.ErrRemote] : exhausted retries, unexpected statuses, undecodable responses
//
// Track listings of different playlists are fetched concurrently with a bounded errgroup;
// results are placed by index so the merged order never depends on scheduling.
package services
