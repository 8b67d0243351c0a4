package listing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPage is returned when a page > 1 is requested and no
	// resumable cursor exists for the request's signature.
	ErrInvalidPage = errors.New("invalid page request")

	// ErrInvalidRequest is returned for malformed listing parameters.
	ErrInvalidRequest = errors.New("invalid listing request")
)

// FetchError wraps a backend failure observed while building a page.
// No partial page is ever returned alongside it.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err carries a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
