// Package gateway relays single logical operations to remote services,
// retrying transient overload with a bounded backoff schedule and
// normalizing failures into the model error taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/metrics"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/tracing"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Operation describes one forwarded call. Payload is encoded once and the
// same bytes are sent on every attempt.
type Operation struct {
	Name    string
	Method  string
	URL     string
	Payload any
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Body   []byte
}

// Config configures a Gateway.
type Config struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	Policy     Policy
	Logger     *logger.Logger

	// Headers are sent with every request, e.g. an Authorization bearer.
	Headers map[string]string
}

// Gateway forwards operations with retry. It keeps no state between
// calls and is safe for concurrent use.
type Gateway struct {
	httpClient *http.Client
	clock      clock.Clock
	policy     Policy
	logger     *logger.Logger
	headers    map[string]string
	tracer     trace.Tracer
}

// New creates a gateway. Zero-valued config fields get defaults.
func New(cfg Config) *Gateway {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	policy := cfg.Policy
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	if policy.Retryable == nil {
		policy.Retryable = OverloadOnly
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Gateway{
		httpClient: httpClient,
		clock:      clk,
		policy:     policy,
		logger:     logger.OrNop(cfg.Logger).Named("gateway"),
		headers:    headers,
		tracer:     tracing.Tracer("gateway"),
	}
}

// Policy returns the retry policy in effect.
func (g *Gateway) Policy() Policy {
	return g.policy
}

// Call performs op and decodes the response envelope into out. out may be
// nil when the caller does not need the body.
func (g *Gateway) Call(ctx context.Context, op Operation, out any) error {
	resp, err := g.Do(ctx, op)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := DecodeEnvelope(resp.Body, out); err != nil {
		return &model.Error{Kind: model.KindMalformedResponse, Op: op.Name, Status: resp.Status, Err: err}
	}
	return nil
}

// Do performs op, retrying transport failures and retryable statuses.
// Fatal statuses are returned on first occurrence; exhausting the policy
// yields a ServiceUnavailable error.
func (g *Gateway) Do(ctx context.Context, op Operation) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway."+op.Name, trace.WithAttributes(
		attribute.String("http.method", op.Method),
		attribute.String("gateway.operation", op.Name),
	))
	defer span.End()

	var payload []byte
	if op.Payload != nil {
		encoded, err := json.Marshal(op.Payload)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("gateway: encoding %s payload: %w", op.Name, err)
		}
		payload = encoded
	}

	log := g.logger.With(zap.String("operation", op.Name))

	var lastReason string
	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		span.SetAttributes(attribute.Int("gateway.attempts", attempt))

		status, body, err := g.send(ctx, op, payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "canceled")
				return nil, ctx.Err()
			}
			metrics.RecordAttempt(op.Name, "transport")
			lastErr, lastStatus, lastReason = err, 0, err.Error()
			log.Warn("transport failure",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.policy.MaxAttempts),
				zap.Error(err),
			)

		case status >= 200 && status < 300:
			metrics.RecordAttempt(op.Name, "ok")
			span.SetAttributes(attribute.Int("http.status_code", status))
			return &Response{Status: status, Body: body}, nil

		case g.policy.Retryable(status):
			metrics.RecordAttempt(op.Name, "retryable")
			lastErr, lastStatus = nil, status
			lastReason = fmt.Sprintf("service temporarily unavailable (attempt %d/%d)", attempt, g.policy.MaxAttempts)
			log.Warn("transient overload",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.policy.MaxAttempts),
				zap.Int("status", status),
				zap.String("body", truncate(string(body), 256)),
			)

		default:
			metrics.RecordAttempt(op.Name, "fatal")
			kind := model.KindRequestRejected
			if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
				kind = model.KindInvalidInput
			}
			reason := failureReason(body)
			log.Error("request failed",
				zap.Int("status", status),
				zap.String("reason", reason),
			)
			span.SetStatus(codes.Error, reason)
			return nil, &model.Error{Kind: kind, Op: op.Name, Status: status, Reason: reason}
		}

		if attempt == g.policy.MaxAttempts {
			break
		}

		delay := g.policy.Delay(attempt)
		metrics.RecordRetry(op.Name)
		log.Info("backing off", zap.Duration("delay", delay), zap.Int("next_attempt", attempt+1))

		select {
		case <-g.clock.After(delay):
		case <-ctx.Done():
			span.SetStatus(codes.Error, "canceled")
			return nil, ctx.Err()
		}
	}

	log.Error("retries exhausted", zap.Int("attempts", g.policy.MaxAttempts), zap.String("reason", lastReason))
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, &model.Error{
		Kind:   model.KindServiceUnavailable,
		Op:     op.Name,
		Status: lastStatus,
		Reason: lastReason,
		Err:    lastErr,
	}
}

// send performs a single attempt. A non-nil error means the transport
// failed and no status was received.
func (g *Gateway) send(ctx context.Context, op Operation, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, op.URL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range g.headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// failureReason extracts {"error": ..., "details": ...} from a failure body,
// falling back to the raw text.
func failureReason(body []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		parts := make([]string, 0, 2)
		if envelope.Error != "" {
			parts = append(parts, envelope.Error)
		} else if envelope.Message != "" {
			parts = append(parts, envelope.Message)
		}
		if envelope.Details != "" {
			parts = append(parts, envelope.Details)
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	return truncate(strings.TrimSpace(string(body)), 512)
}

// truncate keeps at most n bytes of s, cut on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// IsRetryExhausted reports whether err is the gateway's exhaustion failure.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, model.ErrServiceUnavailable)
}
