package board

import "errors"

var (
	// ErrFetch marks a transport failure for a work item. Recoverable.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks a payload that could not be decoded. Recoverable.
	ErrParse = errors.New("unparsable payload")
	// ErrCrossReference means an ambiguous post could not be located in the
	// markup fallback. Fatal for the run unless configured otherwise.
	ErrCrossReference = errors.New("malformed post header cross-reference")
	// ErrCorruptStore means the store file exists but is not a valid store.
	ErrCorruptStore = errors.New("store is not a valid database")
)

// IsFatal reports whether err must stop the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCrossReference) || errors.Is(err, ErrCorruptStore)
}
