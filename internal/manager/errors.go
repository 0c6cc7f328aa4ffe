package manager

import "github.com/ysm446/sd-to-wan-prompt/internal/errs"

// ErrPresetNotFound returns the error for a preset id absent from the catalog.
func ErrPresetNotFound(id string) error { return errs.NotFound("preset", id) }

// IsPresetNotFound reports whether err names an unknown preset or request.
func IsPresetNotFound(err error) bool { return errs.IsNotFound(err) }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool { return errs.IsBusy(err) }

// IsNotReady reports whether no resident backend could serve the request.
func IsNotReady(err error) bool { return errs.IsNotReady(err) }

// asKinded gives an error from a collaborator a kind when it has none, so
// callers can always branch on errs.KindOf.
func asKinded(op, subject string, err error) error {
	if err == nil || errs.KindOf(err) != "" {
		return err
	}
	return errs.Transient(op, subject, err)
}

func kindOf(err error) string { return string(errs.KindOf(err)) }
