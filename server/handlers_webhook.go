package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chat"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/crypto"
	"github.com/onnwee/roombot/telemetry"
)

const (
	maxPayloadBytes = 1 << 20
	// ingestTimeout bounds one event end to end, governor waits included.
	ingestTimeout = 45 * time.Second
)

type ingestResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   string `json:"ignored,omitempty"`
}

// HandleWebhook accepts Chatwork's webhook deliveries (or the normalized
// payload). 2xx means accepted, including re-deliveries; 4xx means the
// request will never succeed; 5xx is worth a retry.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "webhook"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.Verifier != nil {
		sig := r.Header.Get(crypto.SignatureHeader)
		if sig == "" {
			sig = r.URL.Query().Get(crypto.SignatureQueryParam)
		}
		if err := h.Verifier.Verify(body, sig); err != nil {
			telemetry.Inc(telemetry.EventsRejected, "signature")
			log.Warn("webhook signature rejected", slog.String("remote_addr", r.RemoteAddr), slog.Any("err", err))
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}
	ev, err := chat.ParsePayload(body)
	if err != nil {
		telemetry.Inc(telemetry.EventsRejected, "malformed")
		log.Warn("webhook payload rejected", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.Source = chat.SourceWebhook
	h.ingest(w, r, ev, false)
}

// HandleTrigger injects a synthetic event, for manual testing of the command
// router. Missing ids and timestamps are filled in; the response lists the
// drafts the router produced and what happened to each.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	ev, err := chat.ParsePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(ev.MessageID) == "" {
		ev.MessageID = "trigger-" + uuid.NewString()
	}
	if ev.SendTime.IsZero() {
		ev.SendTime = time.Now()
	}
	ev.Source = chat.SourceTrigger
	h.ingest(w, r, ev, true)
}

func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request, ev chat.InboundEvent, detailed bool) {
	// the reply must go out even if the caller hangs up
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ingestTimeout)
	defer cancel()

	res, err := h.Pipeline.Ingest(ctx, ev)
	if err != nil {
		if apperr.Is(err, apperr.KindMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		telemetry.LoggerWithCorr(ctx).Error("ingest failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if detailed {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "ok", Duplicate: res.Duplicate, Ignored: res.Ignored})
}

type sendRequest struct {
	RoomID string `json:"room_id"`
	Body   string `json:"body"`
}

// HandleSend posts literal text to a room and returns the platform message id.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.RoomID = strings.TrimSpace(req.RoomID)
	if req.RoomID == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "room_id and body are required")
		return
	}
	id, err := h.Sender.SendMessage(r.Context(), req.RoomID, req.Body)
	if err != nil {
		status, msg := statusFor(err), err.Error()
		switch {
		case errors.Is(err, chatwork.ErrUnauthorized):
			status, msg = http.StatusBadGateway, "chat platform rejected the api token"
		case errors.Is(err, chatwork.ErrNotMember):
			msg = "not a member of that room"
		}
		telemetry.LoggerWithCorr(r.Context()).Warn("send failed", slog.String("room", req.RoomID), slog.Any("err", err))
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
}
