package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100

	// maxJSONBody caps every JSON request body.
	maxJSONBody = 10 << 10

	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"

	genericErrorMessage = "Something went very wrong!"
)

type contextKey string

const contextUserKey contextKey = "user"

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// CurrentUser returns the user authenticated by Protect.
func CurrentUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

// DataResponse is the success envelope for a single resource.
type DataResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ListResponse is the success envelope for a page of resources.
type ListResponse struct {
	Status  string `json:"status"`
	Results int    `json:"results"`
	Page    int    `json:"page,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Total   int    `json:"total"`
	Data    any    `json:"data"`
}

// ErrorResponse is the failure envelope. Status is "fail" for client errors
// and "error" for server errors.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, DataResponse{Status: statusSuccess, Data: data})
}

// writeError maps err onto the failure envelope. Client errors show their
// message. Server errors are logged and show a generic message unless they
// carry no cause.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.WithError(err).Error("unhandled error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Status: statusError, Message: genericErrorMessage})
		return
	}

	status := apperr.Status(appErr.Kind)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		message := genericErrorMessage
		if appErr.Err == nil && appErr.Message != "" {
			message = appErr.Message
		}
		writeJSON(w, status, ErrorResponse{Status: statusError, Message: message})
		return
	}
	writeJSON(w, status, ErrorResponse{Status: statusFail, Message: appErr.Message})
}

// decodeJSON reads a JSON body of at most maxJSONBody bytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.BadRequest(fmt.Sprintf("Request body must not exceed %dkb", maxJSONBody>>10))
		case errors.Is(err, io.EOF):
			return apperr.BadRequest("Request body must not be empty")
		default:
			return apperr.BadRequest("Invalid JSON in request body")
		}
	}
	return nil
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, apperr.BadRequest("Invalid page")
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, 0, apperr.BadRequest("Invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

// Healthz reports that the process is serving requests.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound answers requests that match no route.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Status:  statusFail,
		Message: fmt.Sprintf("Can't find %s on this server!", r.URL.RequestURI()),
	})
}

// TooManyRequests answers requests rejected by the rate limiter.
func TooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Status:  statusFail,
		Message: "Too many request from this IP, please try again in 1hr!",
	})
}
