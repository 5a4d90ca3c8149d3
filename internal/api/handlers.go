package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pandora-cas/pandora-cloud-client/internal/account"
	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/device"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// HandleHealth reports process liveness.
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"accounts": len(s.registry.All()),
	})
}

// HandleLogin exchanges the operator password for a token pair.
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	accessToken, refreshToken, err := s.auth.Authenticate(req.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.API.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.API.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleListAccounts lists hosted accounts and their status.
func (s *RESTServer) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.registry.All()
	out := make([]map[string]interface{}, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView(a))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": out,
		"total":    len(out),
	})
}

// HandleGetAccount returns one account's status.
func (s *RESTServer) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "account not found")
		return
	}
	s.respondJSON(w, http.StatusOK, accountView(a))
}

// HandleListDevices lists every device across all accounts.
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	var out []map[string]interface{}
	for _, a := range s.registry.All() {
		for _, m := range a.Devices() {
			out = append(out, deviceView(a, m))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": out,
		"total":   len(out),
	})
}

// HandleGetDevice returns the merged view of one device.
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	a, m, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, deviceView(a, m))
}

// HandleCommand submits a remote command on a device.
func (s *RESTServer) HandleCommand(w http.ResponseWriter, r *http.Request) {
	a, m, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Command        json.RawMessage `json:"command" validate:"required"`
		EnsureComplete bool            `json:"ensure_complete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	commandID, ok := parseCommand(req.Command)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "unknown command")
		return
	}

	future, err := a.SubmitCommand(r.Context(), m.ID(), commandID, req.EnsureComplete)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	if !req.EnsureComplete {
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"device_id": m.ID(),
			"command":   commandID.String(),
			"status":    "submitted",
		})
		return
	}

	result, err := future.Wait(r.Context())
	if err != nil {
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": m.ID(),
		"command":   commandID.String(),
		"result":    string(result.Kind),
		"reply":     result.Reply,
	})
}

// HandleWakeUp sends the wake-up request to a device.
func (s *RESTServer) HandleWakeUp(w http.ResponseWriter, r *http.Request) {
	a, m, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	if err := a.WakeUp(r.Context(), m.ID()); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// HandleAccountLog returns the locally persisted event log of one account.
// Only available when the warm-start store is configured.
func (s *RESTServer) HandleAccountLog(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusNotImplemented, "no store configured")
		return
	}
	a, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "account not found")
		return
	}

	deviceID, _ := strconv.ParseInt(r.URL.Query().Get("device_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.store.ListEvents(r.Context(), a.Name(), deviceID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// HandleGetEvents fetches the upstream event feed for a device.
func (s *RESTServer) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	a, m, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	events, err := a.FetchEvents(ctx, from, to, limit, m.ID())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

func (s *RESTServer) deviceFromPath(w http.ResponseWriter, r *http.Request) (*account.Account, *device.Model, bool) {
	deviceID, err := strconv.ParseInt(chi.URLParam(r, "device_id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return nil, nil, false
	}
	a, m, ok := s.registry.FindDevice(deviceID)
	if !ok {
		s.respondError(w, http.StatusNotFound, "device not found")
		return nil, nil, false
	}
	return a, m, true
}

func accountView(a *account.Account) map[string]interface{} {
	status, reason := a.Status()
	view := map[string]interface{}{
		"name":    a.Name(),
		"status":  string(status),
		"devices": len(a.Devices()),
	}
	if reason != "" {
		view["reason"] = reason
	}
	return view
}

func deviceView(a *account.Account, m *device.Model) map[string]interface{} {
	state := m.Snapshot()
	view := map[string]interface{}{
		"account": a.Name(),
		"info":    m.Info(),
		"state":   state,
	}
	if state.BitState != nil {
		view["flags"] = codec.ExpandBits(*state.BitState, codec.StateBits)
	}
	if state.CANBitState != nil {
		view["can_flags"] = codec.ExpandBits(uint64(*state.CANBitState), codec.CANBits)
	}
	if state.Rotation != nil {
		view["direction"] = state.Direction()
	}
	return view
}

func parseCommand(raw json.RawMessage) (models.CommandID, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 {
			return 0, false
		}
		return models.CommandID(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return models.ParseCommandID(s)
	}
	return 0, false
}
