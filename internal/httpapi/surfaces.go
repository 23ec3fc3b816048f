package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/journal"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/surface"
)

type createSurfaceRequest struct {
	ID          string `json:"id,omitempty"`
	InitialPath string `json:"initial_path,omitempty"`
}

type syncView struct {
	Redirected     bool            `json:"redirected"`
	RedirectTarget engine.Location `json:"redirect_target,omitempty"`
	LogoutArmed    bool            `json:"logout_armed"`
	LogoutDeadline *time.Time      `json:"logout_deadline,omitempty"`
	InFlight       bool            `json:"in_flight"`
	Polls          uint64          `json:"polls"`
	Skipped        uint64          `json:"skipped"`
	Failures       uint64          `json:"failures"`
}

type surfaceView struct {
	ID         string           `json:"id"`
	Version    int              `json:"version"`
	Clients    int              `json:"clients"`
	Path       string           `json:"path"`
	Session    *engine.Snapshot `json:"session,omitempty"`
	Timer      string           `json:"timer,omitempty"`
	LoggingOut bool             `json:"logging_out"`
	Sync       *syncView        `json:"sync,omitempty"`
}

func (a *API) CreateSurface(w http.ResponseWriter, r *http.Request) {
	var req createSurfaceRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}
	if req.InitialPath != "" {
		req.InitialPath = engine.NormalizePath(req.InitialPath)
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	sf, err := a.hub.Create(ctx, strings.TrimSpace(req.ID), req.InitialPath)
	if err != nil || sf == nil {
		writeError(w, http.StatusServiceUnavailable, "failed to create surface")
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{ID: sf.ID()})
}

func (a *API) ListSurfaces(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ids, err := a.hub.List(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Surfaces []string `json:"surfaces"`
	}{Surfaces: ids})
}

func (a *API) GetSurface(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	sf, ok := a.lookup(ctx, w, r)
	if !ok {
		return
	}
	v, err := sf.State(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	out := surfaceView{
		ID:         v.ID,
		Version:    v.Version,
		Clients:    v.NumClients,
		Path:       v.Path,
		Session:    v.Session,
		Timer:      string(v.Timer),
		LoggingOut: v.LoggingOut,
	}
	if sv, err := sf.SyncView(); err == nil {
		out.Sync = &syncView{
			Redirected:     sv.State.Redirected,
			RedirectTarget: sv.State.RedirectTarget,
			LogoutArmed:    sv.State.LogoutArmed(),
			InFlight:       sv.InFlight,
			Polls:          sv.Polls,
			Skipped:        sv.Skipped,
			Failures:       sv.Failures,
		}
		if sv.State.LogoutArmed() {
			d := sv.State.LogoutDeadline()
			out.Sync.LogoutDeadline = &d
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) DeleteSurface(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ok, err := a.hub.Remove(ctx, chi.URLParam(r, "id"))
	switch {
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case !ok:
		writeError(w, http.StatusNotFound, ErrSurfaceNotFound.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Logout runs the logout flow for the surface, as the logout button does.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "http"
	}
	a.deliver(w, r, surface.Logout{Reason: req.Reason})
}

// ReportPath records navigation a display performed on its own.
func (a *API) ReportPath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}
	a.deliver(w, r, surface.PathReport{Path: req.Path})
}

// Scan forwards a camera frame to the classifier. A successful scan arms
// the surface's post-scan auto logout.
func (a *API) Scan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	sf, ok := a.lookup(ctx, w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image required")
		return
	}
	defer file.Close()

	res, err := a.backend.ScanTrash(r.Context(), file)
	if err != nil {
		a.writeBackendError(w, r, err)
		return
	}
	if res.OK() {
		if err := sf.Send(ctx, surface.ScanCompleted{}); err != nil {
			a.log.Warn("scan completed but surface unavailable", zap.String("surface", sf.ID()), zap.Error(err))
		}
	}
	writeRaw(w, http.StatusOK, res.Raw)
}

// Journal lists the most recent journal records for a surface.
func (a *API) Journal(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}
	recs, err := a.journal.Recent(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.log.Warn("journal read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Records []journal.Record `json:"records"`
	}{Records: recs})
}

func (a *API) deliver(w http.ResponseWriter, r *http.Request, m surface.Msg) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	sf, ok := a.lookup(ctx, w, r)
	if !ok {
		return
	}
	if err := sf.Send(ctx, m); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) lookup(ctx context.Context, w http.ResponseWriter, r *http.Request) (*surface.Surface, bool) {
	sf, err := a.hub.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	if sf == nil {
		writeError(w, http.StatusNotFound, ErrSurfaceNotFound.Error())
		return nil, false
	}
	return sf, true
}
