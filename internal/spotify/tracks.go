package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// maxTracksPerRequest is the Web API cap for batch track lookups.
const maxTracksPerRequest = 50

// SearchTracks runs a track search. Market may be empty.
func (c *Client) SearchTracks(ctx context.Context, query, market string, limit, offset int) ([]Track, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	api, err := c.appClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching tracks: %w", err)
	}

	opts := []spotify.RequestOption{spotify.Limit(limit), spotify.Offset(offset)}
	if market != "" {
		opts = append(opts, spotify.Market(market))
	}

	res, err := api.Search(ctx, query, spotify.SearchTypeTrack, opts...)
	if err != nil {
		return nil, fmt.Errorf("searching tracks: %w", c.classify(err))
	}
	if res.Tracks == nil {
		return []Track{}, nil
	}

	tracks := make([]Track, 0, len(res.Tracks.Tracks))
	for _, ft := range res.Tracks.Tracks {
		tracks = append(tracks, convertFullTrack(ft))
	}
	return tracks, nil
}

// Tracks looks up tracks by id, batching 50 ids per request.
// Results keep the order of ids; ids the catalog does not know are skipped.
func (c *Client) Tracks(ctx context.Context, ids []string) ([]Track, error) {
	if len(ids) == 0 {
		return []Track{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	spotifyIDs := make([]spotify.ID, len(ids))
	for i, id := range ids {
		spotifyIDs[i] = spotify.ID(id)
	}

	tracks := make([]Track, 0, len(ids))

	// Batch in chunks of 50
	for i := 0; i < len(spotifyIDs); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(spotifyIDs))
		batch := spotifyIDs[i:end]

		api, err := c.appClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching tracks (batch %d-%d): %w", i+1, end, err)
		}

		found, err := api.GetTracks(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("fetching tracks (batch %d-%d): %w", i+1, end, c.classify(err))
		}

		for _, ft := range found {
			if ft == nil {
				continue
			}
			tracks = append(tracks, convertFullTrack(*ft))
		}
	}

	return tracks, nil
}

// convertFullTrack converts a Spotify FullTrack to the normalized Track.
func convertFullTrack(ft spotify.FullTrack) Track {
	artists := make([]string, len(ft.Artists))
	for i, a := range ft.Artists {
		artists[i] = a.Name
	}

	images := make([]Image, len(ft.Album.Images))
	for i, img := range ft.Album.Images {
		images[i] = Image{
			URL:    img.URL,
			Height: int(img.Height),
			Width:  int(img.Width),
		}
	}

	return Track{
		ID:          ft.ID.String(),
		Name:        ft.Name,
		Artists:     artists,
		PreviewURL:  ft.PreviewURL,
		ExternalURL: ft.ExternalURLs["spotify"],
		URI:         string(ft.URI),
		Album: Album{
			ID:     ft.Album.ID.String(),
			Name:   ft.Album.Name,
			Images: images,
		},
	}
}
