// Package bioerr defines the error kinds enumerated in spec.md §7.
// Every internal package wraps these sentinels with the teacher's
// local handle-closure idiom (see e.g.
// jgbaldwinbrown-pairviz/informative_cut_sites/cutsite_dists.go's
// handle(format string) func(...any) error), rather than reaching for
// github.com/pkg/errors — no package in the retrieved corpus imports
// it, and stdlib errors.Is/errors.As cover the same need.
package bioerr

import "errors"

var (
	ErrInvalidMask            = errors.New("invalid mask")
	ErrInvalidReference       = errors.New("invalid reference")
	ErrMissingMappability     = errors.New("missing mappability")
	ErrMalformedAlignment     = errors.New("malformed alignment")
	ErrIO                     = errors.New("io error")
	ErrFingerprintMismatch    = errors.New("fingerprint mismatch")
	ErrInconsistentReadLength = errors.New("inconsistent read length")
	ErrEmptyExpectedCounts    = errors.New("empty expected counts")
)

// Handle returns a closure in the teacher's idiom: wrap an underlying
// error with a contextual prefix and a sentinel kind via %w-chaining,
// so callers can errors.Is() against both the sentinel and inspect the
// originating detail.
func Handle(prefix string, kind error) func(error) error {
	return func(e error) error {
		if e == nil {
			return nil
		}
		return &wrapped{prefix: prefix, kind: kind, err: e}
	}
}

type wrapped struct {
	prefix string
	kind   error
	err    error
}

func (w *wrapped) Error() string {
	return w.prefix + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.err}
}
