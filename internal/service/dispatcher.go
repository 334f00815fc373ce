package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bark-labs/pushdispatch/internal/credential"
	"github.com/bark-labs/pushdispatch/internal/fcm"
	"github.com/bark-labs/pushdispatch/internal/metrics"
	"github.com/bark-labs/pushdispatch/internal/model"
)

// Gateway sends one message to one registration and returns the gateway's
// message id.
type Gateway interface {
	Send(ctx context.Context, accessToken string, msg *fcm.Message) (string, error)
}

var _ Gateway = (*fcm.Client)(nil)

// DispatcherOptions tunes the fan-out.
type DispatcherOptions struct {
	Workers     int
	SendTimeout time.Duration
	Envelope    fcm.EnvelopeOptions
}

// Dispatcher fans a payload out to resolved tokens over a bounded worker pool.
type Dispatcher struct {
	gateway Gateway
	opts    DispatcherOptions
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewDispatcher builds a Dispatcher. metrics may be nil.
func NewDispatcher(gateway Gateway, opts DispatcherOptions, reg *metrics.Registry, logger *slog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{gateway: gateway, opts: opts, metrics: reg, logger: logger}
}

// Dispatch sends to every token and returns one outcome per token, in input
// order. Per-token failures are recorded, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, payload model.NotificationPayload, cred credential.Credential) model.DispatchResult {
	outcomes := make([]model.DispatchOutcome, len(tokens))

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for i, token := range tokens {
		g.Go(func() error {
			outcomes[i] = d.send(ctx, token, payload, cred)
			return nil
		})
	}
	_ = g.Wait()

	return model.NewDispatchResult(outcomes)
}

func (d *Dispatcher) send(ctx context.Context, token string, payload model.NotificationPayload, cred credential.Credential) model.DispatchOutcome {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	msg := fcm.BuildMessage(token, payload, d.opts.Envelope)
	id, err := d.gateway.Send(ctx, cred.AccessToken, msg)
	if err == nil && id == "" {
		err = fcm.ErrMissingMessageID
	}

	outcome := model.DispatchOutcome{Token: token}
	if err != nil {
		outcome.ErrorKind = fcm.Classify(err)
		outcome.RawMessage = err.Error()
		d.logger.Debug("send failed",
			slog.String("token", model.MaskValue(token)),
			slog.String("kind", string(outcome.ErrorKind)),
			slog.Any("error", err))
	} else {
		outcome.Success = true
		outcome.ErrorKind = model.ErrorKindNone
		outcome.MessageID = id
	}
	d.metrics.ObserveSend(outcome.ErrorKind)
	return outcome
}
