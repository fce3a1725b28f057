package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// channels is the fixed set of Postgres notification channels the
// registry monitor subscribes to.
var channels = []string{"jobsets_added", "jobsets_deleted", "jobset_scheduling_changed"}

// PQListener adapts a *pq.Listener to the Notifier interface.
type PQListener struct {
	listener *pq.Listener
	out      chan string
	logger   *slog.Logger
}

// NewPQListener opens a dedicated LISTEN connection against dsn and
// subscribes to every jobset change channel.
func NewPQListener(dsn string, logger *slog.Logger) (*PQListener, error) {
	logger = logger.With("component", "listener")
	eventCb := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", "error", err)
		}
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, eventCb)
	for _, ch := range channels {
		if err := l.Listen(ch); err != nil {
			l.Close()
			return nil, fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	pl := &PQListener{listener: l, out: make(chan string, 16), logger: logger}
	go pl.pump()
	return pl, nil
}

func (p *PQListener) pump() {
	defer close(p.out)
	for n := range p.listener.Notify {
		if n == nil {
			// A nil notification means the connection was lost and
			// pq has re-established it. Changes made in between were
			// not notified, so surface a synthetic wake and let the
			// caller re-sync.
			p.out <- ""
			continue
		}
		p.out <- n.Channel
	}
}

func (p *PQListener) Notifications() <-chan string { return p.out }

func (p *PQListener) Close() error {
	return p.listener.Close()
}
