package regraph

import "time"

// FetchedResource is the input unit of the pipeline: one fetched URL with
// its response body. Fetching itself happens upstream; the pipeline only
// consumes the result.
type FetchedResource struct {
	URL         string    `json:"url"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentType string    `json:"content_type"`
	HTTPStatus  int       `json:"http_status"`
	Body        []byte    `json:"body"`
}
