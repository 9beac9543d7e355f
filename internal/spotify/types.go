package spotify

// Track is the normalized track shape returned to callers.
type Track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	PreviewURL  string   `json:"previewUrl,omitempty"`
	ExternalURL string   `json:"externalUrl,omitempty"`
	URI         string   `json:"uri,omitempty"`
	Album       Album    `json:"album"`
}

// Album carries the album reference and its cover art.
type Album struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name,omitempty"`
	Images []Image `json:"images"`
}

// Image is one size of album art.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// Profile is the subset of the provider's user profile the service needs.
// Email is empty when the provider withholds it.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
}
