package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/hub"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/surface"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/types"
)

const (
	writeTimeout        = 3 * time.Second
	defaultPingInterval = 30 * time.Second
)

type Options struct {
	// OriginPatterns loosens origin checks, e.g. "localhost:*" in development.
	OriginPatterns []string
	// PingInterval is how often an idle display is pinged. Reads carry no
	// deadline, so a peer that stops answering pings is what gets dropped.
	PingInterval time.Duration
	Logger       *zap.Logger
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")
	pingEvery := opts.PingInterval
	if pingEvery <= 0 {
		pingEvery = defaultPingInterval
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("surface")
		if id == "" {
			http.Error(w, "missing surface", http.StatusBadRequest)
			return
		}

		sf, err := h.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		if sf == nil {
			http.Error(w, "surface not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan surface.Update, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("surface", id), zap.String("client", clientID))

		if err := sf.Send(r.Context(), surface.Join{ClientID: clientID, Outbox: out}); err != nil {
			return
		}
		defer sf.Send(context.Background(), surface.Leave{ClientID: clientID})
		clog.Info("display connected")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case upd, ok := <-out:
					if !ok {
						// The surface dropped us or shut down.
						_ = conn.Close(websocket.StatusGoingAway, "surface closed")
						return
					}
					if err := writeJSON(writeCtx, conn, toServerMessage(upd, time.Now())); err != nil {
						clog.Debug("write failed", zap.Error(err))
					}
				case <-ping.C:
					ctx, cancel := context.WithTimeout(writeCtx, pingEvery)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						clog.Info("display stopped answering pings", zap.Error(err))
						_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
						return
					}
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop. Pongs are only processed while a read is pending.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					clog.Info("display disconnected")
				default:
					clog.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeJSON(r.Context(), conn, types.ErrorMessage("bad json"))
				continue
			}

			m, err := toSurfaceMsg(cm)
			if err != nil {
				_ = writeJSON(r.Context(), conn, types.ErrorMessage(err.Error()))
				continue
			}
			if err := sf.Send(r.Context(), m); err != nil {
				return
			}
		}
	}
}

var errUnknownType = errors.New("unknown type")
var errMissingPath = errors.New("missing path")

func toSurfaceMsg(m types.ClientMessage) (surface.Msg, error) {
	switch m.Type {
	case types.MsgPathChanged:
		if m.Path == "" {
			return nil, errMissingPath
		}
		return surface.PathReport{Path: m.Path}, nil
	case types.MsgLogout:
		reason := m.Reason
		if reason == "" {
			reason = "display"
		}
		return surface.Logout{Reason: reason}, nil
	case types.MsgScanCompleted:
		return surface.ScanCompleted{}, nil
	default:
		return nil, errUnknownType
	}
}

func toServerMessage(u surface.Update, now time.Time) types.ServerMessage {
	msg := types.ServerMessage{
		Version: u.Version,
		Path:    u.Path,
		Target:  u.Target,
		Session: u.Session,
	}
	switch u.Kind {
	case surface.UpdNavigate:
		msg.Type = types.MsgNavigate
	case surface.UpdCountdown:
		msg.Type = types.MsgCountdown
	default:
		msg.Type = types.MsgSession
	}
	if c := u.Countdown; c != nil {
		cd := &types.Countdown{Reason: string(c.Reason), Armed: c.Armed}
		if c.Armed {
			deadline := c.Deadline
			cd.Deadline = &deadline
			cd.RemainingMS = max(c.Deadline.Sub(now).Milliseconds(), 0)
		}
		msg.Countdown = cd
	}
	return msg
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
