// unadulting/realtime/nats.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	streamName    = "FORUM"
	subjectPrefix = "forum."
)

// NATSFeed implements Feed over NATS JetStream so change events survive a
// single process and reach every running instance.
type NATSFeed struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewNATSFeed connects to NATS and ensures the FORUM stream exists.
func NewNATSFeed(natsURL string, logger *slog.Logger) (*NATSFeed, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		logger.Warn("Failed to create NATS stream (may already exist)", "error", err)
	}

	logger.Info("NATS change feed initialised", "stream", streamName)
	return &NATSFeed{nc: nc, js: js, logger: logger}, nil
}

func (f *NATSFeed) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	subject := subjectPrefix + ev.Table + "." + string(ev.Action)
	if _, err := f.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

func (f *NATSFeed) Subscribe(table string) (<-chan Event, func()) {
	// Callbacks can still be in flight when the subscriber cancels, so
	// delivery goes through the close-tolerant channel wrapper.
	sc := newSubscriberChan()
	sub, err := f.nc.Subscribe(subjectPrefix+table+".*", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			f.logger.Error("Failed to decode change event", "subject", msg.Subject, "error", err)
			return
		}
		if !sc.send(ev) {
			f.logger.Warn("Dropping realtime event for slow subscriber", "subject", msg.Subject)
		}
	})
	if err != nil {
		f.logger.Error("Failed to subscribe to change feed", "table", table, "error", err)
		sc.close()
		return sc.ch, func() {}
	}

	cancel := func() {
		if err := sub.Unsubscribe(); err != nil {
			f.logger.Warn("Failed to unsubscribe from change feed", "table", table, "error", err)
		}
		sc.close()
	}
	return sc.ch, cancel
}

// Close drains the underlying connection.
func (f *NATSFeed) Close() {
	f.nc.Close()
}
