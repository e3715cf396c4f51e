package httpserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wisbric/siemgate/internal/apierr"
)

// readLimitedBody reads r.Body up to maxBytes+1, returning a PAYLOAD_TOO_LARGE
// error via apierr.New(CodePayloadTooLarge, ...) if the body was truncated.
func readLimitedBody(r *http.Request, maxBytes int64) ([]byte, error) {
	limited := http.MaxBytesReader(nil, r.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apierr.New(apierr.CodePayloadTooLarge, "request body exceeds the maximum allowed size")
	}
	if int64(len(body)) > maxBytes {
		return nil, apierr.New(apierr.CodePayloadTooLarge, "request body exceeds the maximum allowed size")
	}
	return body, nil
}

// respondAPIErr writes err as the standard {error:{code,message,status}}
// envelope when it's an *apierr.Error, falling back to a generic 500 for
// anything else, logging the cause either way.
func respondAPIErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ae, ok := apierr.As(err); ok {
		if ae.Status() >= http.StatusInternalServerError {
			logger.Error("request failed", "code", ae.Code, "error", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if ae.RetryAfter != nil {
			w.Header().Set("Retry-After", strconv.Itoa(*ae.RetryAfter))
		}
		w.WriteHeader(ae.Status())
		body, marshalErr := ae.MarshalJSON()
		if marshalErr != nil {
			logger.Error("encoding error response", "error", marshalErr)
			return
		}
		_, _ = w.Write(body)
		return
	}

	logger.Error("request failed", "error", err)
	RespondError(w, http.StatusInternalServerError, string(apierr.CodeInternal), "internal error")
}

// parsePositiveInt parses s as a positive integer, rejecting zero,
// negative, and non-numeric input.
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errNotPositive
	}
	return n, nil
}

var errNotPositive = errors.New("value must be positive")
