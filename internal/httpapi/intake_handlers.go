package httpapi

import (
	"net/http"
	"strings"
	"time"

	"relaygate.org/internal/events"
	"relaygate.org/internal/intake"
	"relaygate.org/internal/obs"
)

type recordMessageRequest struct {
	GrantID     string         `json:"grant_id"`
	RequestText string         `json:"request_text"`
	Payload     intake.Payload `json:"payload"`
}

type recordMessageResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

type transitionRequest struct {
	ResponseText string `json:"response_text"`
	ErrorText    string `json:"error_text"`
}

func (a *API) handleMessagesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req recordMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.intake.RecordIfNew(r.Context(), req.GrantID, req.RequestText, req.Payload)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if res.Duplicate {
		obs.ObserveIntake("duplicate")
		a.stream.Publish(events.Event{
			Type:      events.TypeDuplicate,
			MessageID: res.MessageID,
			GrantID:   req.GrantID,
			Platform:  req.Payload.Platform,
			Timestamp: time.Now().UTC(),
		})
		writeJSON(w, http.StatusOK, recordMessageResponse{
			MessageID: res.MessageID,
			Duplicate: true,
		})
		return
	}
	obs.ObserveIntake("recorded")
	a.stream.Publish(events.Event{
		Type:      events.TypeRecorded,
		MessageID: res.MessageID,
		GrantID:   req.GrantID,
		Platform:  req.Payload.Platform,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusCreated, recordMessageResponse{MessageID: res.MessageID})
}

func (a *API) handleMessageResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/messages/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if id, ok := strings.CutSuffix(path, "/complete"); ok && id != "" && !strings.Contains(id, "/") {
		a.completeMessage(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/fail"); ok && id != "" && !strings.Contains(id, "/") {
		a.failMessage(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	msg, err := a.intake.Get(r.Context(), path)
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) completeMessage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.intake.Complete(r.Context(), id, req.ResponseText); err != nil {
		storeError(w, r, err)
		return
	}
	obs.ObserveIntake("completed")
	a.stream.Publish(events.Event{
		Type:      events.TypeCompleted,
		MessageID: id,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) failMessage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.intake.Fail(r.Context(), id, req.ErrorText); err != nil {
		storeError(w, r, err)
		return
	}
	obs.ObserveIntake("failed")
	a.stream.Publish(events.Event{
		Type:      events.TypeFailed,
		MessageID: id,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
