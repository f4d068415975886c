package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chat"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/crypto"
	"github.com/onnwee/roombot/store"
)

// Ingester is the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, ev chat.InboundEvent) (chat.Result, error)
}

// Sender posts literal text to a room.
type Sender interface {
	SendMessage(ctx context.Context, roomID, body string) (string, error)
}

// Ranker exposes today's tally of a room.
type Ranker interface {
	Ranking(room string) counter.Ranking
}

// TallyReconciler rebuilds a room's tally from history when it is empty.
type TallyReconciler interface {
	EnsureTally(ctx context.Context, room string)
}

// JobRunner runs a scheduled job on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Pipeline Ingester
	Sender   Sender
	Counter  Ranker
	// Tally runs before a ranking is read; nil skips reconciliation.
	Tally TallyReconciler
	Store store.Store
	Jobs  JobRunner
	// Verifier authenticates webhook bodies; nil accepts everything.
	Verifier crypto.Verifier
	// TokenConfigured feeds the readiness check.
	TokenConfigured bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

// statusFor maps an error kind to the response status of operator endpoints.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindMalformed:
		return http.StatusBadRequest
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNetworkFailure:
		return http.StatusBadGateway
	case apperr.KindPersistenceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
