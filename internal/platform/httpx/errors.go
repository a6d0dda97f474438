// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Rule maps a domain sentinel error to a problem status.
type Rule struct {
	Target error
	Status int
	Title  string
}

// ErrBadRequest marks malformed request bodies and parameters.
var ErrBadRequest = errors.New("bad request")

// RespondError maps err onto the first matching rule and writes an RFC7807
// problem. Unmatched errors are logged and reported as 500 without detail.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error, rules ...Rule) {
	if errors.Is(err, ErrBadRequest) {
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	for _, rule := range rules {
		if errors.Is(err, rule.Target) {
			title := rule.Title
			if title == "" {
				title = http.StatusText(rule.Status)
			}
			Problem(w, rule.Status, title, err.Error())
			return
		}
	}
	if logger != nil {
		logger.Error("http: unhandled error", slog.Any("error", err))
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
