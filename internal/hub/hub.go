// Package hub owns every kiosk surface the server drives, keyed by id.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/surface"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// CreateSurface starts a surface. An empty ID gets a generated one; an ID
// already in use returns the existing surface.
type CreateSurface struct {
	ID          string
	InitialPath string
	Reply       chan *surface.Surface
}

type GetSurface struct {
	ID    string
	Reply chan *surface.Surface
}

// EnsureSurface returns the surface, creating it if needed.
type EnsureSurface struct {
	ID    string
	Reply chan *surface.Surface
}

type RemoveSurface struct {
	ID    string
	Reply chan bool
}

type ListSurfaces struct {
	Reply chan []string
}

type ShutdownHub struct {
	Reply chan error
}

func (CreateSurface) isHubMsg() {}
func (GetSurface) isHubMsg()    {}
func (EnsureSurface) isHubMsg() {}
func (RemoveSurface) isHubMsg() {}
func (ListSurfaces) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

// StopTimeout bounds how long shutdown waits for each surface.
const StopTimeout = 3 * time.Second

type Hub struct {
	inbox    chan HubMsg
	surfaces map[string]*surface.Surface
	backend  surface.Backend
	opts     surface.Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub starts the registry. opts is the template every new surface starts
// from.
func NewHub(parent context.Context, be surface.Backend, opts surface.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		surfaces: make(map[string]*surface.Surface),
		backend:  be,
		opts:     opts,
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// Get is a blocking convenience over GetSurface.
func (h *Hub) Get(ctx context.Context, id string) (*surface.Surface, error) {
	reply := make(chan *surface.Surface, 1)
	if err := h.send(ctx, GetSurface{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, h.done, reply)
}

func (h *Hub) Ensure(ctx context.Context, id string) (*surface.Surface, error) {
	reply := make(chan *surface.Surface, 1)
	if err := h.send(ctx, EnsureSurface{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, h.done, reply)
}

func (h *Hub) Create(ctx context.Context, id, initialPath string) (*surface.Surface, error) {
	reply := make(chan *surface.Surface, 1)
	if err := h.send(ctx, CreateSurface{ID: id, InitialPath: initialPath, Reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, h.done, reply)
}

// Remove stops the surface and reports whether it existed.
func (h *Hub) Remove(ctx context.Context, id string) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(ctx, RemoveSurface{ID: id, Reply: reply}); err != nil {
		return false, err
	}
	return recv(ctx, h.done, reply)
}

func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, ListSurfaces{Reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, h.done, reply)
}

// Shutdown stops every surface and the hub itself.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	err := h.send(ctx, ShutdownHub{Reply: reply})
	if err == nil {
		var res error
		res, err = recv(ctx, h.done, reply)
		if err == nil {
			return res
		}
	}
	if errors.Is(err, ErrHubClosed) {
		return nil
	}
	return err
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-done:
		select {
		case v := <-ch:
			return v, nil
		default:
			return zero, ErrHubClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			_ = h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSurface:
				msg.Reply <- h.create(msg.ID, msg.InitialPath)

			case GetSurface:
				msg.Reply <- h.surfaces[msg.ID] // May be nil

			case EnsureSurface:
				msg.Reply <- h.create(msg.ID, "")

			case RemoveSurface:
				sf, ok := h.surfaces[msg.ID]
				if ok {
					delete(h.surfaces, msg.ID)
					stop(sf)
					h.log.Info("surface removed", zap.String("surface", msg.ID))
				}
				if msg.Reply != nil {
					msg.Reply <- ok
				}

			case ListSurfaces:
				ids := make([]string, 0, len(h.surfaces))
				for id := range h.surfaces {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				msg.Reply <- ids

			case ShutdownHub:
				err := h.shutdown()
				h.cancel()
				if msg.Reply != nil {
					msg.Reply <- err
				}
				return
			}
		}
	}
}

func (h *Hub) create(id, initialPath string) *surface.Surface {
	if id == "" {
		id = uuid.NewString()
	}
	if sf := h.surfaces[id]; sf != nil {
		return sf
	}
	opts := h.opts
	if initialPath != "" {
		opts.InitialPath = initialPath
	}
	sf := surface.New(h.ctx, id, h.backend, opts)
	h.surfaces[id] = sf
	h.log.Info("surface created", zap.String("surface", id))
	return sf
}

func stop(sf *surface.Surface) {
	select {
	case sf.Inbox() <- surface.Shutdown{}:
	case <-sf.Done():
	}
}

// shutdown stops all surfaces and reports the ones that did not stop in time.
func (h *Hub) shutdown() error {
	for _, sf := range h.surfaces {
		stop(sf)
	}
	var err error
	deadline := time.Now().Add(StopTimeout)
	for id, sf := range h.surfaces {
		t := time.NewTimer(time.Until(deadline))
		select {
		case <-sf.Done():
		case <-t.C:
			err = multierr.Append(err, fmt.Errorf("surface %s did not stop within %v", id, StopTimeout))
		}
		t.Stop()
	}
	clear(h.surfaces)
	return err
}
