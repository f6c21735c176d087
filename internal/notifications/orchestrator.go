package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	"github.com/eternisai/push-relay/internal/logger"
)

var errTokenRevoked = errors.New("token invalidated between attempts")

// OrchestratorConfig wires the collaborators of an Orchestrator.
type OrchestratorConfig struct {
	Store     TokenStore
	Gateway   Gateway
	Log       DeliveryLog
	Escalator Escalator // optional
	Retry     RetryPolicy
	// GatewayTimeout bounds every gateway call.
	GatewayTimeout time.Duration
	Metrics        *Metrics
	Logger         *logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator drives one logical send: lookup, validation, gateway call, retry,
// token invalidation and escalation.
type Orchestrator struct {
	store          TokenStore
	gateway        Gateway
	log            DeliveryLog
	escalator      Escalator
	policy         RetryPolicy
	gatewayTimeout time.Duration
	metrics        *Metrics
	logger         *logger.Logger
	now            func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New(logger.Config{Level: slog.LevelInfo})
	}

	return &Orchestrator{
		store:          cfg.Store,
		gateway:        cfg.Gateway,
		log:            cfg.Log,
		escalator:      cfg.Escalator,
		policy:         cfg.Retry.normalized(),
		gatewayTimeout: cfg.GatewayTimeout,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
}

// Send delivers msg and returns its terminal result. It never returns an error:
// every failure is expressed in the Result.
func (o *Orchestrator) Send(ctx context.Context, submissionID string, msg NotificationMessage) Result {
	ctx = logger.WithRecipientID(ctx, msg.RecipientID)
	ctx = logger.WithMessageID(ctx, msg.ID)
	if submissionID != "" {
		ctx = logger.WithSubmissionID(ctx, submissionID)
	}

	d := &delivery{
		o:   o,
		msg: msg,
		log: o.logger.WithContext(ctx).WithComponent("delivery-orchestrator"),
		result: Result{
			SubmissionID: submissionID,
			MessageID:    msg.ID,
			RecipientID:  msg.RecipientID,
		},
		submissionID: submissionID,
	}

	start := time.Now()
	res := d.run(ctx)
	o.metrics.observeResult(res, time.Since(start))

	d.log.Debug("delivery finished",
		slog.String("status", string(res.Status)),
		slog.String("kind", string(res.Kind)),
		slog.Int("attempts", res.Attempts),
		slog.Duration("duration", time.Since(start)))

	return res
}

// delivery holds the state of one logical send.
type delivery struct {
	o            *Orchestrator
	msg          NotificationMessage
	submissionID string
	log          *logger.Logger
	result       Result
}

func (d *delivery) run(ctx context.Context) Result {
	// Pending: a caller may cancel before anything happens.
	if ctx.Err() != nil {
		return d.cancelled()
	}

	// An oversized payload fails the message, never the token.
	if size := d.msg.PayloadSize(); size > MaxPayloadBytes {
		d.log.Warn("notification payload too large",
			slog.Int("payload_bytes", size),
			slog.Int("max_bytes", MaxPayloadBytes))
		d.recordLocal(ctx, DeviceToken{}, KindPayloadTooLarge, ErrPayloadTooLarge.Error())
		return d.fail(ctx, KindPayloadTooLarge)
	}

	token, found, err := d.o.store.Lookup(ctx, d.msg.RecipientID)
	if err != nil {
		if ctx.Err() != nil {
			return d.cancelled()
		}
		d.log.Error("token lookup failed", slog.String("error", err.Error()))
		d.recordLocal(ctx, DeviceToken{}, KindUnknown, "token lookup failed: "+err.Error())
		return d.fail(ctx, KindUnknown)
	}
	if !found || !token.State.Usable() {
		d.log.Info("no usable push token for recipient")
		d.recordLocal(ctx, token, KindNoToken, "no usable token registered")
		return d.fail(ctx, KindNoToken)
	}

	// Validating: a malformed token never costs a network call.
	if _, ok := Validate(token.Value); !ok {
		d.log.Warn("stored token failed validation",
			slog.String("token_prefix", tokenPrefix(token.Value)))
		d.invalidate(ctx, token, KindInvalidTokenFormat, ErrInvalidTokenFormat)
		d.recordLocal(ctx, token, KindInvalidTokenFormat, ErrInvalidTokenFormat.Error())
		return d.fail(ctx, KindInvalidTokenFormat)
	}

	return d.send(ctx, token)
}

// send runs the Sending/Retrying loop.
func (d *delivery) send(ctx context.Context, token DeviceToken) Result {
	var (
		attempt   int
		lastErr   error
		gatewayID string
	)

	err := retry.Do(ctx, d.o.policy.backoff(), func(ctx context.Context) error {
		if attempt > 0 {
			current, ok := d.revalidate(ctx, token)
			if !ok {
				return errTokenRevoked
			}
			token = current
		}

		attempt++
		id, sendErr := d.o.sendOnce(ctx, token, d.msg)
		kind := KindOf(sendErr)
		final := sendErr == nil || kind.Permanent() || attempt >= d.o.policy.MaxAttempts

		outcome := OutcomeSuccess
		switch {
		case sendErr == nil:
		case final:
			outcome = OutcomePermanentFailure
		default:
			outcome = OutcomeTransientFailure
		}
		d.record(ctx, DeliveryAttempt{
			TokenValue:       token.Value,
			AttemptNumber:    attempt,
			Outcome:          outcome,
			Kind:             kind,
			Platform:         token.Platform,
			GatewayMessageID: id,
			Error:            errString(sendErr),
		})

		if sendErr == nil {
			gatewayID = id
			return nil
		}

		lastErr = sendErr
		if kind.Permanent() {
			return sendErr
		}

		d.log.Warn("transient gateway failure",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.o.policy.MaxAttempts),
			slog.String("kind", string(kind)),
			slog.String("error", sendErr.Error()))
		return retry.RetryableError(sendErr)
	})
	d.result.Attempts = attempt

	switch {
	case err == nil:
		d.result.Status = StatusDelivered
		d.result.GatewayMessageID = gatewayID
		if _, touchErr := d.o.store.Touch(context.WithoutCancel(ctx), d.msg.RecipientID, token.Value); touchErr != nil {
			d.log.Error("failed to mark token validated", slog.String("error", touchErr.Error()))
		}
		d.log.Info("push delivered",
			slog.String("platform", string(token.Platform)),
			slog.Int("attempts", attempt),
			slog.String("gateway_message_id", gatewayID))
		return d.result

	case errors.Is(err, errTokenRevoked):
		d.log.Info("token was invalidated concurrently, stopping retries")
		d.recordLocal(ctx, token, KindTokenRevoked, err.Error())
		return d.fail(ctx, KindTokenRevoked)

	case (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil:
		// Cancelled before the first send or while waiting to retry.
		return d.cancelled()
	}

	kind := KindOf(lastErr)
	if kind.InvalidatesToken() {
		d.invalidate(ctx, token, kind, lastErr)
		return d.fail(ctx, kind)
	}
	if kind.Permanent() {
		d.log.Warn("gateway rejected the message, token kept",
			slog.String("kind", string(kind)),
			slog.String("error", errString(lastErr)))
		return d.fail(ctx, kind)
	}

	// Transient exhaustion fails this submission only: the failure may be
	// environmental, so the token stays usable.
	d.log.Warn("retries exhausted",
		slog.Int("attempts", attempt),
		slog.String("kind", string(kind)))
	return d.fail(ctx, kind)
}

// revalidate re-reads the token before a retry. A changed value follows the new
// registration; an invalidated or removed token stops the send.
func (d *delivery) revalidate(ctx context.Context, token DeviceToken) (DeviceToken, bool) {
	current, found, err := d.o.store.Lookup(ctx, d.msg.RecipientID)
	if err != nil {
		d.log.Warn("token re-check failed, retrying with previous snapshot",
			slog.String("error", err.Error()))
		return token, true
	}
	if !found || !current.State.Usable() {
		return DeviceToken{}, false
	}
	if current.Value != token.Value {
		if _, ok := Validate(current.Value); !ok {
			return DeviceToken{}, false
		}
		d.log.Info("token re-registered during retries, following new value",
			slog.String("token_prefix", tokenPrefix(current.Value)))
	}
	return current, true
}

// sendOnce performs a single gateway call. The call is detached from caller
// cancellation so an in-flight outcome can still update token state.
func (o *Orchestrator) sendOnce(ctx context.Context, token DeviceToken, msg NotificationMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.gatewayTimeout)
	defer cancel()

	id, err := o.gateway.Send(callCtx, token, msg)
	if err == nil {
		return id, nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && KindOf(err) == KindUnknown {
		return "", NewDeliveryError(KindTimeout, err)
	}
	var de *DeliveryError
	if !errors.As(err, &de) {
		return "", NewDeliveryError(KindUnknown, err)
	}
	return "", err
}

func (d *delivery) invalidate(ctx context.Context, token DeviceToken, kind ErrorKind, cause error) {
	changed, err := d.o.store.Invalidate(context.WithoutCancel(ctx), d.msg.RecipientID, InvalidationReason{
		Kind:       kind,
		TokenValue: token.Value,
		Detail:     errString(cause),
	})
	if err != nil {
		d.log.Error("failed to invalidate token",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}
	if changed {
		d.o.metrics.observeInvalidation(kind)
		d.log.Info("token invalidated",
			slog.String("kind", string(kind)),
			slog.String("token_prefix", tokenPrefix(token.Value)))
	}
}

// fail moves the send to its terminal failed state, escalating Important messages.
func (d *delivery) fail(ctx context.Context, kind ErrorKind) Result {
	d.result.Status = StatusFailed
	d.result.Kind = kind

	if d.msg.Importance != ImportanceImportant || d.o.escalator == nil {
		return d.result
	}

	handedOff := d.o.escalator.Escalate(context.WithoutCancel(ctx), d.msg.RecipientID, d.msg, kind)
	d.o.metrics.observeEscalation(handedOff)
	if handedOff {
		d.result.Status = StatusEscalated
	}
	d.log.Info("escalation finished",
		slog.String("reason", string(kind)),
		slog.Bool("handed_off", handedOff))

	return d.result
}

func (d *delivery) cancelled() Result {
	d.result.Status = StatusCancelled
	d.result.Kind = KindCancelled
	d.log.Info("delivery cancelled", slog.Int("attempts", d.result.Attempts))
	return d.result
}

// recordLocal logs a terminal outcome that was decided without a gateway call.
func (d *delivery) recordLocal(ctx context.Context, token DeviceToken, kind ErrorKind, detail string) {
	d.record(ctx, DeliveryAttempt{
		TokenValue:    token.Value,
		AttemptNumber: 0,
		Outcome:       OutcomePermanentFailure,
		Kind:          kind,
		Platform:      token.Platform,
		Error:         detail,
	})
}

func (d *delivery) record(ctx context.Context, a DeliveryAttempt) {
	a.MessageID = d.msg.ID
	a.SubmissionID = d.submissionID
	a.RecipientID = d.msg.RecipientID
	a.Timestamp = d.o.now()
	if a.Platform == "" {
		a.Platform = PlatformUnknown
	}

	d.o.metrics.observeAttempt(a)
	if err := d.o.log.Record(context.WithoutCancel(ctx), a); err != nil {
		d.log.Error("failed to record delivery attempt",
			slog.Int("attempt", a.AttemptNumber),
			slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// String is used in logs.
func (r Result) String() string {
	return fmt.Sprintf("%s/%s attempts=%d", r.Status, r.Kind, r.Attempts)
}
