package ingest

import "fmt"

// HTTPError is returned for non-success HTTP responses.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// TransientSourceError reports a whole-feed failure (network error, timeout,
// non-success status or unparseable payload) after retries ran out.
type TransientSourceError struct {
	SourceID string
	URL      string
	Attempts int
	Err      error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("source %s: fetch failed after %d attempt(s): %v", e.SourceID, e.Attempts, e.Err)
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// MalformedEntryError reports a single feed item that was skipped.
type MalformedEntryError struct {
	SourceID string
	Index    int // position of the item in the feed
	Link     string
	Reason   string
}

func (e *MalformedEntryError) Error() string {
	if e.Link != "" {
		return fmt.Sprintf("source %s: item %d (%s) skipped: %s", e.SourceID, e.Index, e.Link, e.Reason)
	}
	return fmt.Sprintf("source %s: item %d skipped: %s", e.SourceID, e.Index, e.Reason)
}
