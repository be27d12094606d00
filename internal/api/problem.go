package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/dashsync/internal/store"
	dashsync "github.com/hyperengineering/dashsync/internal/sync"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://dashsync.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://dashsync.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://dashsync.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://dashsync.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://dashsync.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusConflict: {
		typeURI: "https://dashsync.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusBadGateway: {
		typeURI: "https://dashsync.dev/errors/remote-unavailable",
		title:   "Bad Gateway",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://dashsync.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapStoreError converts local store errors to Problem Details responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	default:
		slog.Error("store request failed",
			"component", "api",
			"action", "store_failed",
			"path", r.URL.Path,
			"error", err,
		)
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

// MapSyncError converts a failed sync cycle to a Problem Details response.
// Fetch failures are the server's fault and map to 502.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dashsync.ErrSyncInProgress):
		WriteProblem(w, r, http.StatusConflict, "A sync cycle is already running")
	case errors.Is(err, dashsync.ErrRemoteFetch), dashsync.PhaseOf(err) == dashsync.PhaseFetch:
		WriteProblem(w, r, http.StatusBadGateway, "Fetching from the remote server failed")
	default:
		slog.Error("triggered sync failed",
			"component", "api",
			"action", "sync_failed",
			"phase", dashsync.PhaseOf(err),
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Sync failed")
	}
}
