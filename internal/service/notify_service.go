package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bark-labs/pushdispatch/internal/credential"
	"github.com/bark-labs/pushdispatch/internal/metrics"
	"github.com/bark-labs/pushdispatch/internal/model"
)

// CredentialSource hands out gateway bearer tokens.
type CredentialSource interface {
	GetCredential(ctx context.Context) (credential.Credential, error)
}

var _ CredentialSource = (*credential.Manager)(nil)

// NotifyOptions tunes one invocation.
type NotifyOptions struct {
	// PrefetchCredential resolves recipients and fetches the credential in
	// parallel. An empty resolution then still costs a credential lookup.
	PrefetchCredential bool
	ReconcileTimeout   time.Duration
	AuditTimeout       time.Duration
}

// NotifyService runs one dispatch invocation end to end.
type NotifyService struct {
	resolver    *RecipientResolver
	credentials CredentialSource
	dispatcher  *Dispatcher
	lifecycle   *TokenLifecycleManager
	audit       *AuditLogger
	opts        NotifyOptions
	metrics     *metrics.Registry
	logger      *slog.Logger
	newID       func() string
}

// NewNotifyService wires the dispatch pipeline.
func NewNotifyService(
	resolver *RecipientResolver,
	credentials CredentialSource,
	dispatcher *Dispatcher,
	lifecycle *TokenLifecycleManager,
	audit *AuditLogger,
	opts NotifyOptions,
	reg *metrics.Registry,
	logger *slog.Logger,
) *NotifyService {
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 10 * time.Second
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = 5 * time.Second
	}
	return &NotifyService{
		resolver:    resolver,
		credentials: credentials,
		dispatcher:  dispatcher,
		lifecycle:   lifecycle,
		audit:       audit,
		opts:        opts,
		metrics:     reg,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// Notify validates req, resolves its recipients, sends to each of them and
// reconciles dead registrations. The error is non-nil only when the
// invocation aborted before any send: ErrValidation, ErrResolution or
// credential.ErrCredential.
func (s *NotifyService) Notify(ctx context.Context, req model.NotificationRequest) (model.NotifyResponse, error) {
	s.metrics.IncInvocation()

	target, payload, err := ValidateRequest(req)
	if err != nil {
		s.metrics.IncInvocationFailure()
		return model.NotifyFailure(err.Error()), err
	}

	id := s.newID()
	log := s.logger.With(slog.String("invocation_id", id))

	tokens, cred, err := s.prepare(ctx, target)
	if err != nil {
		s.metrics.IncInvocationFailure()
		log.Error("invocation aborted", slog.Any("error", err))
		return model.NotifyFailure(err.Error()), err
	}

	var result model.DispatchResult
	if len(tokens) == 0 {
		s.metrics.IncEmptyResolution()
		log.Info("no active recipients")
		result = model.NewDispatchResult(nil)
	} else {
		result = s.dispatcher.Dispatch(ctx, tokens, payload, cred)
		log.Info("dispatch finished",
			slog.Int("count", result.RequestedTokenCount),
			slog.Int("sent", result.SuccessCount),
			slog.Int("failed", result.FailureCount))
	}

	s.finish(ctx, log, id, target, payload, result)
	return model.ResponseFromResult(result), nil
}

// prepare resolves the recipients and, when there are any, the credential.
func (s *NotifyService) prepare(ctx context.Context, target model.TargetSpec) ([]string, credential.Credential, error) {
	if !s.opts.PrefetchCredential {
		tokens, err := s.resolver.Resolve(ctx, target)
		if err != nil || len(tokens) == 0 {
			return nil, credential.Credential{}, err
		}
		cred, err := s.credential(ctx)
		return tokens, cred, err
	}

	var (
		g                   errgroup.Group
		tokens              []string
		cred                credential.Credential
		resolveErr, credErr error
	)
	g.Go(func() error {
		tokens, resolveErr = s.resolver.Resolve(ctx, target)
		return nil
	})
	g.Go(func() error {
		cred, credErr = s.credential(ctx)
		return nil
	})
	_ = g.Wait()

	if resolveErr != nil {
		return nil, credential.Credential{}, resolveErr
	}
	if len(tokens) == 0 {
		return nil, credential.Credential{}, nil
	}
	return tokens, cred, credErr
}

func (s *NotifyService) credential(ctx context.Context) (credential.Credential, error) {
	cred, err := s.credentials.GetCredential(ctx)
	if err != nil && !errors.Is(err, credential.ErrCredential) {
		err = fmt.Errorf("%w: %w", credential.ErrCredential, err)
	}
	return cred, err
}

// finish runs reconciliation and the audit insert side by side and waits for
// both. Neither is bound to the caller's context; each has its own timeout.
func (s *NotifyService) finish(ctx context.Context, log *slog.Logger, id string, target model.TargetSpec, payload model.NotificationPayload, result model.DispatchResult) {
	base := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rctx, cancel := context.WithTimeout(base, s.opts.ReconcileTimeout)
		defer cancel()
		if _, err := s.lifecycle.ReconcileFailures(rctx, result); err != nil {
			s.metrics.IncReconcileFailure()
			log.Error("reconcile failures", slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		actx, cancel := context.WithTimeout(base, s.opts.AuditTimeout)
		defer cancel()
		s.audit.Record(actx, id, target, payload, result)
	}()
	wg.Wait()
}
