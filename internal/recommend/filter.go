package recommend

import "github.com/justestif/go-spotify-mood-recommender/internal/spotify"

// MinViable is the smallest filtered result kept; below it the unfiltered
// candidates are used instead.
const MinViable = 5

// FilterSeen removes candidates whose id is in seen. If fewer than
// MinViable candidates would remain, candidates is returned unchanged.
func FilterSeen(candidates []spotify.Track, seen []string) []spotify.Track {
	if len(seen) == 0 || len(candidates) == 0 {
		return candidates
	}

	exclude := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		exclude[id] = struct{}{}
	}

	kept := make([]spotify.Track, 0, len(candidates))
	for _, t := range candidates {
		if _, ok := exclude[t.ID]; ok {
			continue
		}
		kept = append(kept, t)
	}

	if len(kept) < MinViable {
		return candidates
	}
	return kept
}
