package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gustycube/skywatch/internal/emit"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/natsctx"
	"github.com/gustycube/skywatch/internal/types"
)

// Connect dials NATS with reconnects enabled.
func Connect(url, name string, log *logging.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
}

// NATS consumes events from a subject. Messages are JSON events or plain
// text.
type NATS struct {
	nc      *nats.Conn
	subject string
	log     *logging.Logger
}

func NewNATS(nc *nats.Conn, subject string, log *logging.Logger) *NATS {
	if log == nil {
		log = logging.Nop()
	}
	return &NATS{nc: nc, subject: subject, log: log}
}

func (n *NATS) Run(ctx context.Context, h Handler) error {
	sub, err := natsctx.Subscribe(n.nc, n.subject, func(mctx context.Context, m *nats.Msg) {
		ev, ok := decodeEvent(m.Data)
		if !ok {
			return
		}
		if ev.Channel == "" {
			ev.Channel = m.Subject
		}
		if err := h(mctx, ev); err != nil {
			n.log.Warnw("event handling failed", "id", ev.MessageID, "err", err)
		}
	})
	if err != nil {
		return err
	}
	n.log.Infow("nats source subscribed", "subject", n.subject)
	<-ctx.Done()
	return sub.Unsubscribe()
}

// NATSPublisher publishes snapshots and live changes.
type NATSPublisher struct {
	nc       *nats.Conn
	snapshot string
	changes  string
	log      *logging.Logger
}

func NewNATSPublisher(nc *nats.Conn, subjectPrefix string, log *logging.Logger) *NATSPublisher {
	if log == nil {
		log = logging.Nop()
	}
	return &NATSPublisher{nc: nc, snapshot: subjectPrefix + ".snapshot", changes: subjectPrefix + ".changes", log: log}
}

func (p *NATSPublisher) Persist(ctx context.Context, records []emit.Record) error {
	if records == nil {
		records = []emit.Record{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return natsctx.Publish(ctx, p.nc, p.snapshot, b)
}

// PublishChange is a tracker subscriber; errors are logged only.
func (p *NATSPublisher) PublishChange(c types.Change) {
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := natsctx.Publish(context.Background(), p.nc, p.changes, b); err != nil {
		p.log.Debugw("change publish failed", "kind", c.Kind, "err", err)
	}
}
