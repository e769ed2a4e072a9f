// Package fetch retrieves page content with rotating request profiles,
// optional proxying and automatic render-to-HTTP transport fallback.
package fetch

import (
	"errors"
	"fmt"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// StatusError reports a non-success HTTP status from the plain transport.
// It is distinguishable from transport failures so callers can surface the
// code, and carries a hint for 403 since that commonly means bot blocking.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	if e.Code == 403 {
		return fmt.Sprintf("http status 403 fetching %s (likely bot blocking; consider proxy or profile rotation)", e.URL)
	}
	return fmt.Sprintf("http status %d fetching %s", e.Code, e.URL)
}

// AsStatusError unwraps err to a StatusError when one is present.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}
