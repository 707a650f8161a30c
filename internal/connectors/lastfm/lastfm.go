// package lastfm implements the Last.fm connector over
// github.com/go-resty/resty/v2, the HTTP client kirbs-btw-spotify-playlist-dataset
// uses for its own scraping against third-party music APIs.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/desertthunder/narada/internal/shared"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const baseURL = "https://ws.audioscrobbler.com/2.0/"

// TrackInfo is the subset of track.getInfo that feeds the matcher and
// metric resolver.
type TrackInfo struct {
	MBID          string
	UserPlayCount *int
	GlobalPlayCount int
	Listeners     int
}

// RecentTrack is one scrobble returned by user.getRecentTracks.
type RecentTrack struct {
	Artist   string
	Title    string
	PlayedAt time.Time
}

// RecentTracksPage is one page of incremental play history, with a cursor
// for resuming (§4.J SyncCheckpoint).
type RecentTracksPage struct {
	Tracks     []RecentTrack
	NextPage   int
	TotalPages int
}

// Connector wraps the Last.fm Audioscrobbler API.
type Connector struct {
	http     *resty.Client
	apiKey   string
	secret   string
	username string
	limiter  *rate.Limiter
}

// NewConnector builds a Connector rate-limited to cfg.RateLimit requests
// per second (default 5, per spec §4.D and §6 LASTFM_API_RATE_LIMIT).
func NewConnector(cfg shared.LastFMConfig) (*Connector, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: lastfm api key is required", shared.ErrMissingCredentials)
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5.0
	}

	return &Connector{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		apiKey:   cfg.Key,
		secret:   cfg.Secret,
		username: cfg.Username,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Name identifies this connector for ConnectorTrackIDs/ConnectorMetadata keys.
func (c *Connector) Name() string { return "lastfm" }

// GetTrackInfo queries track.getInfo for the first artist in artists that
// returns a match, generalizing matcher.py's single-artist lookup to a
// full fallback list (spec §4.D).
func (c *Connector) GetTrackInfo(ctx context.Context, title string, artists []string, mbid, user *string) (TrackInfo, error) {
	for _, artist := range artists {
		info, err := c.getTrackInfoFor(ctx, title, artist, mbid, user)
		if err == nil {
			return info, nil
		}
	}
	return TrackInfo{}, fmt.Errorf("%w: no last.fm match for %q by any of %v", shared.ErrNotFound, title, artists)
}

func (c *Connector) getTrackInfoFor(ctx context.Context, title, artist string, mbid, user *string) (TrackInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return TrackInfo{}, err
	}

	req := c.http.R().SetContext(ctx).
		SetQueryParam("method", "track.getInfo").
		SetQueryParam("api_key", c.apiKey).
		SetQueryParam("artist", artist).
		SetQueryParam("track", title).
		SetQueryParam("format", "json")
	if mbid != nil {
		req.SetQueryParam("mbid", *mbid)
	}
	if user != nil {
		req.SetQueryParam("username", *user)
	}

	var body struct {
		Track struct {
			MBID      string `json:"mbid"`
			Listeners string `json:"listeners"`
			Playcount string `json:"playcount"`
			UserPlaycount string `json:"userplaycount"`
		} `json:"track"`
		Error   int    `json:"error"`
		Message string `json:"message"`
	}

	resp, err := req.SetResult(&body).Get("")
	if err != nil {
		return TrackInfo{}, fmt.Errorf("%w: last.fm request failed: %v", shared.ErrTransientExternal, err)
	}
	if resp.IsError() || body.Error != 0 {
		return TrackInfo{}, fmt.Errorf("%w: last.fm error %d: %s", shared.ErrPermanentExternal, body.Error, body.Message)
	}

	info := TrackInfo{MBID: body.Track.MBID}
	fmt.Sscanf(body.Track.Listeners, "%d", &info.Listeners)
	fmt.Sscanf(body.Track.Playcount, "%d", &info.GlobalPlayCount)
	if body.Track.UserPlaycount != "" {
		var upc int
		fmt.Sscanf(body.Track.UserPlaycount, "%d", &upc)
		info.UserPlayCount = &upc
	}

	return info, nil
}

// RecentTracks fetches one page of user.getRecentTracks for incremental
// play-history sync (§4.J), windowed by [from, to] when given.
func (c *Connector) RecentTracks(ctx context.Context, user string, from, to *time.Time, page, limit int) (RecentTracksPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return RecentTracksPage{}, err
	}

	req := c.http.R().SetContext(ctx).
		SetQueryParam("method", "user.getrecenttracks").
		SetQueryParam("api_key", c.apiKey).
		SetQueryParam("user", user).
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetQueryParam("format", "json")
	if from != nil {
		req.SetQueryParam("from", fmt.Sprintf("%d", from.Unix()))
	}
	if to != nil {
		req.SetQueryParam("to", fmt.Sprintf("%d", to.Unix()))
	}

	var body struct {
		RecentTracks struct {
			Track []struct {
				Artist struct {
					Text string `json:"#text"`
				} `json:"artist"`
				Name string `json:"name"`
				Date struct {
					UTS string `json:"uts"`
				} `json:"date"`
			} `json:"track"`
			Attr struct {
				Page       string `json:"page"`
				TotalPages string `json:"totalPages"`
			} `json:"@attr"`
		} `json:"recenttracks"`
	}

	resp, err := req.SetResult(&body).Get("")
	if err != nil {
		return RecentTracksPage{}, fmt.Errorf("%w: last.fm recent tracks request failed: %v", shared.ErrTransientExternal, err)
	}
	if resp.IsError() {
		return RecentTracksPage{}, fmt.Errorf("%w: last.fm recent tracks returned %d", shared.ErrTransientExternal, resp.StatusCode())
	}

	var out RecentTracksPage
	for _, t := range body.RecentTracks.Track {
		if t.Date.UTS == "" {
			continue // the "now playing" entry has no timestamp
		}
		var uts int64
		fmt.Sscanf(t.Date.UTS, "%d", &uts)
		out.Tracks = append(out.Tracks, RecentTrack{
			Artist:   t.Artist.Text,
			Title:    t.Name,
			PlayedAt: time.Unix(uts, 0).UTC(),
		})
	}
	fmt.Sscanf(body.RecentTracks.Attr.TotalPages, "%d", &out.TotalPages)
	fmt.Sscanf(body.RecentTracks.Attr.Page, "%d", &out.NextPage)
	out.NextPage++

	return out, nil
}

// LoveTrack marks a track as loved on the authenticated user's account.
// Requires a session key derived from LASTFM_PASSWORD via auth.getMobileSession
// (omitted here — callers supply sessionKey directly once obtained).
func (c *Connector) LoveTrack(ctx context.Context, artist, title, sessionKey string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params := map[string]string{
		"method": "track.love",
		"api_key": c.apiKey,
		"artist":  artist,
		"track":   title,
		"sk":      sessionKey,
	}
	params["api_sig"] = c.sign(params)

	resp, err := c.http.R().SetContext(ctx).SetFormData(params).SetQueryParam("format", "json").Post("")
	if err != nil {
		return fmt.Errorf("%w: last.fm love request failed: %v", shared.ErrTransientExternal, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: last.fm love returned %d", shared.ErrPermanentExternal, resp.StatusCode())
	}
	return nil
}

// sign computes the Last.fm API method signature: sorted param concat plus
// the shared secret, MD5-hashed.
func (c *Connector) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "format" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var raw string
	for _, k := range keys {
		raw += k + params[k]
	}
	raw += c.secret

	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
