// Package provider implements the Provider Adapter: a uniform generate/tool_call contract over
// concrete LLM backends, with centralized timeout, retry, and backoff policy applied identically
// regardless of which backend is in play.
package provider

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
)

// Backend is the minimal capability set every concrete adapter (ollama, openai, anthropic, mlx)
// implements. Backends are not responsible for timeout or retry; Adapter.invoke owns that centrally so
// every adapter gets identical behavior "for free".
type Backend interface {
	Tag() string
	Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error)
	ToolCall(ctx context.Context, req models.ToolCallRequest) (models.ToolCallResponse, error)
}

// EventEmitter is the subset of the Event Log the provider layer needs.
type EventEmitter interface {
	Emit(e models.Event) error
}

// Adapter wraps a Backend with the centralized timeout/retry/backoff policy and llm.request /
// llm.response event emission described in the provider contract.
type Adapter struct {
	backend Backend
	events  EventEmitter
	jobID   string
	clock   clock.Clock
	backoff BackoffAlgorithm
	log     logger.Log
}

// NewAdapter wraps backend with the shared policy.
func NewAdapter(backend Backend, events EventEmitter, jobID string, clk clock.Clock, log logger.Log) *Adapter {
	return &Adapter{
		backend: backend,
		events:  events,
		jobID:   jobID,
		clock:   clk,
		backoff: DefaultBackoff(),
		log:     log,
	}
}

func (a *Adapter) Tag() string { return a.backend.Tag() }

// WithBackoff overrides the adapter's retry backoff policy, chiefly so tests can run retry
// scenarios without real or simulated wall-clock delays.
func (a *Adapter) WithBackoff(b BackoffAlgorithm) *Adapter {
	a.backoff = b
	return a
}

// Generate performs a generate() call under the centralized timeout/retry policy.
func (a *Adapter) Generate(ctx context.Context, step string, req models.GenerateRequest) (models.GenerateResponse, int, error) {
	req.Options = req.Options.WithDefaults()
	var resp models.GenerateResponse
	retries, err := a.invoke(ctx, step, req.Options, func(ctx context.Context) error {
		r, err := a.backend.Generate(ctx, req)
		resp = r
		return err
	})
	return resp, retries, err
}

// ToolCall performs a tool_call() call under the centralized timeout/retry policy.
func (a *Adapter) ToolCall(ctx context.Context, step string, req models.ToolCallRequest) (models.ToolCallResponse, int, error) {
	req.Options = req.Options.WithDefaults()
	var resp models.ToolCallResponse
	retries, err := a.invoke(ctx, step, req.Options, func(ctx context.Context) error {
		r, err := a.backend.ToolCall(ctx, req)
		resp = r
		return err
	})
	return resp, retries, err
}

// invoke runs attemptFn under opts' timeout, retrying on retryable failures with the shared
// backoff policy, and emits llm.request/llm.response around every attempt. It returns the number
// of retries actually performed (0 on a first-attempt success).
func (a *Adapter) invoke(ctx context.Context, step string, opts models.Options, attemptFn func(ctx context.Context) error) (int, error) {
	maxAttempts := opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptStart := a.clock.Now()
		a.emitRequest(step, attempt)

		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.TimeoutS)*time.Second)
		err := a.runWithDeadline(attemptCtx, attemptFn)
		cancel()

		duration := a.clock.Now().Sub(attemptStart)
		a.emitResponse(step, attempt, duration, err)

		if err == nil {
			return attempt - 1, nil
		}
		lastErr = err

		failure := models.NewFailureFromError(err)
		if !failure.Kind.Retryable() {
			return attempt - 1, err
		}
		delay, retry := a.backoff(attempt, maxAttempts)
		if !retry {
			return attempt - 1, err
		}
		a.log.WithField("step", step).WithField("attempt", attempt).WithField("delay", delay).
			Debugf("Retrying provider %s after failure: %v", a.backend.Tag(), err)
		select {
		case <-ctx.Done():
			return attempt - 1, gerror.NewErrCancelled("provider call cancelled while waiting to retry")
		case <-a.clock.After(delay):
		}
	}
	return maxAttempts - 1, lastErr
}

// runWithDeadline invokes fn and converts a context deadline exceeded into provider_timeout,
// since the attempt's own error may otherwise just be "context deadline exceeded".
func (a *Adapter) runWithDeadline(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return gerror.NewErrProviderTimeout(a.backend.Tag(), err)
	}
	return err
}

func (a *Adapter) emitRequest(step string, attempt int) {
	e, _ := models.NewEvent(a.clock.Now(), a.jobID, models.EventLLMRequest, models.SeverityInfo).
		WithStep(step).
		WithData(map[string]interface{}{"provider": a.backend.Tag(), "attempt": attempt})
	_ = a.events.Emit(e)
}

func (a *Adapter) emitResponse(step string, attempt int, duration time.Duration, err error) {
	data := map[string]interface{}{
		"provider":    a.backend.Tag(),
		"attempt":     attempt,
		"duration_ms": duration.Milliseconds(),
		"success":     err == nil,
	}
	level := models.SeverityInfo
	if err != nil {
		data["error"] = err.Error()
		level = models.SeverityWarn
	}
	e, _ := models.NewEvent(a.clock.Now(), a.jobID, models.EventLLMResponse, level).
		WithStep(step).
		WithData(data)
	_ = a.events.Emit(e)
}
