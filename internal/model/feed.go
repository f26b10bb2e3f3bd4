package model

// Feed describes one followed feed. The ID is an opaque string assigned by
// the data store on creation and never changes afterwards.
type Feed struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
