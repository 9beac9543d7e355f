package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// PlaylistTracks returns up to limit tracks from a playlist, skipping
// episodes and unavailable items. Market may be empty.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID, market string, limit int) ([]Track, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	api, err := c.appClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist %s: %w", playlistID, err)
	}

	opts := []spotify.RequestOption{spotify.Limit(limit)}
	if market != "" {
		opts = append(opts, spotify.Market(market))
	}

	page, err := api.GetPlaylistItems(ctx, spotify.ID(playlistID), opts...)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist %s: %w", playlistID, c.classify(err))
	}

	tracks := make([]Track, 0, len(page.Items))
	for _, item := range page.Items {
		if item.Track.Track == nil {
			continue
		}
		tracks = append(tracks, convertFullTrack(*item.Track.Track))
		if len(tracks) == limit {
			break
		}
	}
	return tracks, nil
}
