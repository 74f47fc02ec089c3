package license

import (
	"errors"
	"time"

	"smallbiznis-licensing/pkg/errutil"
)

// ToError converts a lookup or usability failure into the API error callers
// see. Revoked licenses are reported as not found so a revoked key leaks no
// more than an unknown one; the revocation time is still attached.
func ToError(err error, l *License) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return errutil.NotFound("license not found", err)
	case errors.Is(err, ErrRevoked):
		meta := map[string]any{}
		if l != nil && l.RevokedAt != nil {
			meta["revokedAt"] = l.RevokedAt.UTC().Format(time.RFC3339)
		}
		return errutil.NotFound("license has been revoked", err, errutil.WithMeta(meta))
	case errors.Is(err, ErrExpired):
		meta := map[string]any{}
		if l != nil && l.ExpiresAt != nil {
			meta["expiresAt"] = l.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return errutil.BadRequest("license has expired", err, errutil.WithMeta(meta))
	}

	if _, ok := errutil.As(err); ok {
		return err
	}
	return errutil.Internal("license storage failure", err)
}

// Reason is the short machine readable reason a license is unusable.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrExpired):
		return "expired"
	}
	return "unavailable"
}
