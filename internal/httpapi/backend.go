package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/backend"
)

// Register creates a card holder from the registration screen.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var u backend.NewUser
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	res, err := a.backend.CreateUser(r.Context(), u)
	if err != nil {
		a.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) DashboardData(w http.ResponseWriter, r *http.Request) {
	a.passThrough(w, r, a.backend.DashboardData)
}

func (a *API) BinStatus(w http.ResponseWriter, r *http.Request) {
	a.passThrough(w, r, a.backend.BinStatus)
}

func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	a.passThrough(w, r, a.backend.Leaderboard)
}

func (a *API) UpdateBin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     string   `json:"status"`
		DistanceCM *float64 `json:"distance_cm"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DistanceCM == nil {
		writeError(w, http.StatusBadRequest, "status and distance_cm required")
		return
	}
	raw, err := a.backend.UpdateBin(r.Context(), req.Status, *req.DistanceCM)
	if err != nil {
		a.writeBackendError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	if !a.chat.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many chat requests")
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}
	raw, err := a.backend.Chat(r.Context(), req.Question)
	if err != nil {
		a.writeBackendError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (a *API) passThrough(w http.ResponseWriter, r *http.Request, call func(context.Context) (json.RawMessage, error)) {
	raw, err := call(r.Context())
	if err != nil {
		a.writeBackendError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}
