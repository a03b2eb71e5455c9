package notify

import (
	"context"
	"time"

	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/logging"
)

// Message kinds
const (
	KindChange   = "change"
	KindKeyword  = "keyword"
	KindDowntime = "downtime"
	KindRepair   = "repair"
)

// Message is one notification. HTML, DiffText and DiffImagePath are optional.
type Message struct {
	Kind          string
	MonitorID     int64
	RunID         string
	URL           string
	Subject       string
	Text          string
	HTML          string
	DiffText      string
	DiffImagePath string
}

// Transport delivers a message over one channel
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// TransportSource returns the transports configured right now
type TransportSource func(ctx context.Context) []Transport

// Sender is what the pipeline uses to notify
type Sender interface {
	Send(ctx context.Context, msg Message)
}

// Dispatcher fans a message out to every configured transport. Delivery is
// best effort: failures are logged, never returned.
type Dispatcher struct {
	transports TransportSource
	timeout    time.Duration
}

// NewDispatcher creates a dispatcher
func NewDispatcher(transports TransportSource) *Dispatcher {
	return &Dispatcher{transports: transports, timeout: 30 * time.Second}
}

// Send delivers msg on every transport
func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	transports := d.transports(ctx)
	if len(transports) == 0 {
		logging.Info("Notification (no transport configured): %s", msg.Subject)
		return
	}

	for _, t := range transports {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := t.Send(sendCtx, msg)
		cancel()

		if err != nil {
			logging.Error("Monitor %d: %s notification via %s failed: %v", msg.MonitorID, msg.Kind, t.Name(), err)
			continue
		}
		logging.Info("Monitor %d: %s notification sent via %s", msg.MonitorID, msg.Kind, t.Name())
	}
}

// BuildTransports creates the transports enabled in cfg
func BuildTransports(cfg config.NotificationsConfig) []Transport {
	var transports []Transport
	if cfg.Email.Enabled {
		transports = append(transports, NewEmailTransport(cfg.Email))
	}
	if cfg.Webhook.Enabled {
		transports = append(transports, NewWebhookTransport(cfg.Webhook))
	}
	if cfg.Push.Enabled {
		transports = append(transports, NewPushTransport(cfg.Push))
	}
	return transports
}
