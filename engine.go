package identityflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/identityflow/internal/audit"
	"github.com/MrEthical07/identityflow/internal/flows"
	"github.com/MrEthical07/identityflow/internal/limiters"
)

type issuanceLimiter interface {
	Check(ctx context.Context, purpose, identity, ip string) error
}

// Engine runs the account workflows: identity confirmation, password
// recovery, registration and credential change. Build it with [New].
//
// An Engine holds no per-request state. All mutable state lives in the
// UserDirectory and TokenStore, so one Engine serves concurrent callers.
type Engine struct {
	config    Config
	tokens    *TokenService
	directory UserDirectory
	hasher    CredentialHasher
	notifier  NotificationSender
	limiter   issuanceLimiter
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped for backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters. It is empty when
// metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// TokenService exposes the engine's token service for callers that issue or
// check tokens outside the built-in workflows.
func (e *Engine) TokenService() *TokenService {
	if e == nil {
		return nil
	}
	return e.tokens
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) ready() error {
	if e == nil || e.tokens == nil || e.directory == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.tokens != nil && e.tokens.now != nil {
		return e.tokens.now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) log() *slog.Logger {
	if e == nil || e.logger == nil {
		return discardLogger
	}
	return e.logger
}

// findUser resolves identity, mapping ErrUserNotFound to flows.ErrNotFound and
// wrapping every other failure as ErrUserDirectoryUnavailable.
func (e *Engine) findUser(ctx context.Context, identity string) (User, error) {
	if identity == "" {
		return User{}, flows.ErrNotFound
	}
	user, err := e.directory.FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("%w: %w", flows.ErrNotFound, err)
		}
		return User{}, wrapDirectoryError(err)
	}
	return user, nil
}

func (e *Engine) lookup(identity string) func(context.Context) (User, error) {
	return func(ctx context.Context) (User, error) {
		return e.findUser(ctx, identity)
	}
}

// resolve looks up identity for the request flows. found is false for an
// unknown identity; err is set only for directory faults.
func (e *Engine) resolve(ctx context.Context, identity, op string, purpose Purpose) (User, bool, error) {
	user, err := e.findUser(ctx, identity)
	if err == nil {
		return user, true, nil
	}
	if errors.Is(err, flows.ErrNotFound) {
		return User{}, false, nil
	}
	e.fault(ctx, op, purpose, "", err)
	return User{}, false, err
}

// consumeToken checks and consumes value, feeding the latency histogram and
// replay counters.
func (e *Engine) consumeToken(ctx context.Context, user User, value string, purpose Purpose) (bool, error) {
	start := time.Now()
	verdict, err := e.tokens.check(ctx, user, value, purpose, true)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricCheckTokenLatency, time.Since(start))
	}
	if err != nil {
		return false, err
	}
	if verdict == verdictValid {
		return true, nil
	}

	e.metricInc(MetricTokenInvalid)
	if verdict.replay() {
		e.metricInc(MetricTokenReplayDetected)
		e.emitAudit(ctx, auditEventTokenReplay, false, user.ID, purpose, TokenInvalid.String(), nil, nil)
	}
	return false, nil
}

// checkIssuance applies the issuance limiter to (purpose, identity) and the
// client IP from ctx.
func (e *Engine) checkIssuance(ctx context.Context, purpose Purpose, identity string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.Check(ctx, string(purpose), identity, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrIssuanceRateLimited):
		e.emitRateLimit(ctx, purpose, func() map[string]string {
			return map[string]string{"identity": identity}
		})
		return ErrIssuanceRateLimited
	default:
		e.log().WarnContext(ctx, "issuance limiter unavailable",
			slog.String("purpose", string(purpose)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", ErrIssuanceUnavailable, err)
	}
}

// fault logs and audits an infrastructure error before it is returned.
func (e *Engine) fault(ctx context.Context, op string, purpose Purpose, userID string, err error) {
	e.log().ErrorContext(ctx, "workflow infrastructure failure",
		slog.String("op", op),
		slog.String("purpose", string(purpose)),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
	e.emitAudit(ctx, auditEventInfrastructureFailed, false, userID, purpose, "", err, func() map[string]string {
		return map[string]string{"op": op}
	})
}

func wrapDirectoryError(err error) error {
	if errors.Is(err, ErrUserDirectoryUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUserDirectoryUnavailable, err)
}

var discardLogger = slog.New(slog.DiscardHandler)
