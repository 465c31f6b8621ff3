package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"relaygate.org/internal/access"
	"relaygate.org/internal/audit"
	"relaygate.org/internal/obs"
)

type resolveRequest struct {
	Application string `json:"application"`
	StableID    *int64 `json:"stable_id"`
	Handle      string `json:"handle"`
}

type setStatusRequest struct {
	Status       string     `json:"status"`
	ReactivateAt *time.Time `json:"reactivate_at"`
}

type createGrantRequest struct {
	AccountID     string `json:"account_id"`
	ApplicationID string `json:"application_id"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.resolver.Resolve(r.Context(), req.Application, req.StableID, req.Handle)
	if err != nil {
		storeError(w, r, err)
		return
	}
	obs.ObserveDecision(string(res.Decision))
	// Every decision code is a 200: callers branch on the value.
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req access.RegisterAccountInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.accessSvc.RegisterAccount(r.Context(), req)
	if err != nil {
		storeError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventAccountRegister, "account", acct.ID, map[string]any{
		"handle":    acct.Handle,
		"stable_id": acct.StableID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/accounts/%s", acct.ID))
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if id, ok := strings.CutSuffix(path, "/status"); ok && id != "" && !strings.Contains(id, "/") {
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.setAccountStatus(w, r, id)
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) setAccountStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := access.AccountStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err := a.accessSvc.SetAccountStatus(r.Context(), id, status, req.ReactivateAt); err != nil {
		storeError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventAccountStatus, "account", id, map[string]any{
		"status":        string(status),
		"reactivate_at": req.ReactivateAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.accessSvc.GrantAccess(r.Context(), req.AccountID, req.ApplicationID)
	if err != nil {
		storeError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventGrantCreate, "grant", grant.ID, map[string]any{
		"account_id":     grant.AccountID,
		"application_id": grant.ApplicationID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", grant.ID))
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.accessSvc.RevokeGrant(r.Context(), id); err != nil {
		storeError(w, r, err)
		return
	}
	// Revocation owns the messages: drop whatever the store did not cascade.
	dropped, err := a.intake.DropGrantMessages(r.Context(), id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventGrantRevoke, "grant", id, map[string]any{
		"messages_dropped": dropped,
	})
	w.WriteHeader(http.StatusNoContent)
}
