package recommend

import "strings"

// DefaultEmotion is the seed entry used for unrecognized labels.
const DefaultEmotion = "CALM"

// seedGenres maps a normalized emotion label to catalog search terms.
// New emotions are added here; DefaultEmotion must always be present.
var seedGenres = map[string][]string{
	"HAPPY":    {"pop", "dance", "happy"},
	"SAD":      {"sad", "acoustic", "piano"},
	"ANGRY":    {"metal", "rock", "hard-rock"},
	"SURPRISE": {"edm", "electronic", "indie"},
	"FEAR":     {"ambient", "chill", "classical"},
	"DISGUST":  {"punk", "grunge", "alt-rock"},
	"CALM":     {"lo-fi", "chill", "indie-pop"},
}

// Normalize case-folds and trims an emotion label.
func Normalize(emotion string) string {
	return strings.ToUpper(strings.TrimSpace(emotion))
}

// Seeds returns a copy of the seed terms for emotion, falling back to the
// DefaultEmotion entry. It never returns an empty slice.
func Seeds(emotion string) []string {
	seeds, ok := seedGenres[Normalize(emotion)]
	if !ok {
		seeds = seedGenres[DefaultEmotion]
	}
	return append([]string(nil), seeds...)
}

// Known reports whether emotion has its own seed entry.
func Known(emotion string) bool {
	_, ok := seedGenres[Normalize(emotion)]
	return ok
}

// query builds the catalog search string for an emotion and its seeds.
func query(emotion string, seeds []string) string {
	return strings.TrimSpace(emotion + " " + strings.Join(seeds, " "))
}
