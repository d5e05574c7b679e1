package dedup

import (
	"fmt"
	"strings"

	"github.com/hashget/hashget/internal/errors"
)

// ErrLocale is returned when file names cannot be restored in the
// character encoding of the current locale.
var ErrLocale = errors.New("file names with non-ASCII characters need a UTF-8 locale (e.g. LC_ALL=C.UTF-8)")

// IncompleteError lists the manifest entries that were not recovered.
type IncompleteError struct {
	Files []string

	// Recursive is set if nested archives were already unpacked.
	Recursive bool
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("%d files not recovered", len(e.Files))
	if len(e.Files) > 0 {
		shown := e.Files
		if len(shown) > 5 {
			shown = shown[:5]
		}
		msg += ": " + strings.Join(shown, ", ")
		if len(e.Files) > len(shown) {
			msg += ", ..."
		}
	}
	if !e.Recursive {
		msg += " (maybe retry with --recursive)"
	}
	return msg
}
