package http

import (
	"errors"
	"net/http"

	"numtrack/internal/auth"
	"numtrack/internal/core"
	"numtrack/internal/ledger"
	applog "numtrack/internal/log"
	"numtrack/internal/snapshots"
)

// writeError maps domain errors onto status codes. Unknown errors are
// logged and reported as 500 without their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		invalidLabels *core.InvalidLabelsError
		indexErr      *ledger.IndexError
		validation    *auth.ValidationError
		cooldown      *auth.CooldownError
	)

	switch {
	case errors.As(err, &validation):
		NewJSONResponse().Status(http.StatusBadRequest).
			Body(ErrorBody{Error: "invalid request", Fields: validation.Fields}).Write(w)
	case errors.As(err, &invalidLabels),
		errors.Is(err, core.ErrNoValidLabels),
		errors.Is(err, core.ErrNotANumber),
		errors.Is(err, ledger.ErrInvalidLabel),
		errors.Is(err, ledger.ErrNoLabels):
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.As(err, &indexErr):
		// Len 0 means the label has no entries at all.
		status := http.StatusConflict
		if indexErr.Len == 0 {
			status = http.StatusNotFound
		}
		ErrorResponse(status, err.Error()).Write(w)
	case errors.As(err, &cooldown):
		ErrorResponse(http.StatusTooManyRequests, err.Error()).RetryAfter(cooldown.RetryAfter).Write(w)
	case errors.Is(err, auth.ErrTooManyAttempts),
		errors.Is(err, auth.ErrInvalidOTP),
		errors.Is(err, auth.ErrNoPendingLogin),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken):
		ErrorResponse(http.StatusUnauthorized, err.Error()).Write(w)
	case errors.Is(err, snapshots.ErrInvalidOwner):
		BadRequestError(err.Error()).Write(w)
	case ledger.IsSyncError(err):
		// Only reachable when hydration failed; mutations report sync
		// failures through mutationResponse instead.
		s.structured.LogError(r.Context(), "Ledger storage unavailable", err, applog.ComponentStorage, op, nil)
		ServiceUnavailableError("ledger storage is unavailable, please retry").Write(w)
	default:
		s.structured.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, op, nil)
		InternalServerError("internal error").Write(w)
	}
}

func labelStrings(labels []core.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}
