package synchronizer

import "go.uber.org/zap"

// Observer is the observability sink for poll outcomes that never reach the
// display: fetch failures, skipped ticks, ghosts and inconsistent snapshots.
type Observer interface {
	FetchFailed(err error)
	TickSkipped()
	GhostSuppressed(reason string)
	Inconsistent(err error)
	Navigated(nav Navigation)
}

type LogObserver struct {
	log *zap.Logger
}

func NewLogObserver(log *zap.Logger) *LogObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogObserver{log: log.Named("session")}
}

func (o *LogObserver) FetchFailed(err error) {
	o.log.Warn("session poll failed", zap.Error(err))
}

func (o *LogObserver) TickSkipped() {
	o.log.Debug("poll skipped, previous fetch still in flight")
}

func (o *LogObserver) GhostSuppressed(reason string) {
	o.log.Info("skipping stale session", zap.String("reason", reason))
}

func (o *LogObserver) Inconsistent(err error) {
	o.log.Warn("ignoring inconsistent session", zap.Error(err))
}

func (o *LogObserver) Navigated(nav Navigation) {
	o.log.Info("redirecting",
		zap.String("target", string(nav.Target)),
		zap.String("path", nav.Path),
	)
}

// Observers fans every call out to each member in order.
type Observers []Observer

func (os Observers) FetchFailed(err error) {
	for _, o := range os {
		o.FetchFailed(err)
	}
}

func (os Observers) TickSkipped() {
	for _, o := range os {
		o.TickSkipped()
	}
}

func (os Observers) GhostSuppressed(reason string) {
	for _, o := range os {
		o.GhostSuppressed(reason)
	}
}

func (os Observers) Inconsistent(err error) {
	for _, o := range os {
		o.Inconsistent(err)
	}
}

func (os Observers) Navigated(nav Navigation) {
	for _, o := range os {
		o.Navigated(nav)
	}
}
