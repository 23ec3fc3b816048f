package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/backend"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/hub"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/journal"
)

var ErrSurfaceNotFound = errors.New("surface not found")

// Backend is the part of the EcoSmart backend the HTTP surface exposes.
type Backend interface {
	CreateUser(ctx context.Context, u backend.NewUser) (backend.CreateUserResult, error)
	DashboardData(ctx context.Context) (json.RawMessage, error)
	BinStatus(ctx context.Context) (json.RawMessage, error)
	UpdateBin(ctx context.Context, status string, distanceCM float64) (json.RawMessage, error)
	Chat(ctx context.Context, question string) (json.RawMessage, error)
	Leaderboard(ctx context.Context) (json.RawMessage, error)
	ScanTrash(ctx context.Context, image io.Reader) (backend.ScanResult, error)
}

// Journal reads back recorded navigation decisions and faults.
type Journal interface {
	Recent(ctx context.Context, surfaceID string, limit int) ([]journal.Record, error)
}

type API struct {
	hub     *hub.Hub
	backend Backend
	journal Journal
	chat    *rate.Limiter
	log     *zap.Logger
}

type Options struct {
	// ChatRate is the sustained chat requests per second across all displays.
	ChatRate float64
	// Journal is optional; without it the journal route answers 404.
	Journal Journal
	Logger  *zap.Logger
}

func New(h *hub.Hub, be Backend, opts Options) *API {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if opts.ChatRate > 0 {
		limit = rate.Limit(opts.ChatRate)
	}
	return &API{
		hub:     h,
		backend: be,
		journal: opts.Journal,
		chat:    rate.NewLimiter(limit, 2),
		log:     log.Named("http"),
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Status: "error", Message: msg})
}

// writeBackendError maps backend failures onto gateway responses.
func (a *API) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrInvalidRegistration), errors.Is(err, backend.ErrInvalidBinUpdate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, backend.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backend timed out")
	case errors.As(err, &se) && se.Code < 500:
		writeError(w, se.Code, se.Message)
	default:
		a.log.Warn("backend call failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "backend unavailable")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

// requestTimeout bounds handlers that wait on actors.
const requestTimeout = 5 * time.Second
