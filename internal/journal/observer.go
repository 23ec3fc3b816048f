package journal

import (
	"time"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/synchronizer"
)

// Observer writes one surface's synchronizer outcomes to a Sink.
type Observer struct {
	sink    Sink
	surface string
	now     func() time.Time
}

func NewObserver(sink Sink, surfaceID string) *Observer {
	return &Observer{sink: sink, surface: surfaceID, now: time.Now}
}

func (o *Observer) record(kind Kind, target, path, detail string) {
	o.sink.Enqueue(Record{
		SurfaceID: o.surface,
		Kind:      kind,
		Target:    target,
		Path:      path,
		Detail:    detail,
		CreatedAt: o.now(),
	})
}

func (o *Observer) FetchFailed(err error) {
	o.record(KindFetchFailed, "", "", err.Error())
}

// TickSkipped is not journaled; a hung fetch shows up as a gap instead.
func (o *Observer) TickSkipped() {}

func (o *Observer) GhostSuppressed(reason string) {
	o.record(KindGhost, "", "", reason)
}

func (o *Observer) Inconsistent(err error) {
	o.record(KindInconsistent, "", "", err.Error())
}

func (o *Observer) Navigated(nav synchronizer.Navigation) {
	o.record(KindNavigated, string(nav.Target), nav.Path, "")
}

var _ synchronizer.Observer = (*Observer)(nil)
