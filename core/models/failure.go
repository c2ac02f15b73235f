package models

import (
	"fmt"

	"github.com/loomforge/loomforge/common/gerror"
)

const (
	FailureKindProviderTimeout         FailureKind = "provider_timeout"
	FailureKindProviderRateLimit       FailureKind = "provider_rate_limit"
	FailureKindProviderInvalidResponse FailureKind = "provider_invalid_response"
	FailureKindValidationError         FailureKind = "validation_error"
	FailureKindIOError                 FailureKind = "io_error"
	FailureKindDependencyFailed        FailureKind = "dependency_failed"
	FailureKindCancelled               FailureKind = "cancelled"
	FailureKindUnknown                 FailureKind = "unknown"
)

// FailureKind is the closed taxonomy of error kinds the orchestration core distinguishes.
type FailureKind string

func (k FailureKind) Retryable() bool {
	switch k {
	case FailureKindProviderTimeout, FailureKindProviderRateLimit, FailureKindIOError:
		return true
	default:
		return false
	}
}

// Failure is a typed error attached to a failed or dependency-skipped StepResult.
type Failure struct {
	Kind         FailureKind `json:"kind"`
	Message      string      `json:"message"`
	RetryCount   int         `json:"retry_count,omitempty"`
	UpstreamStep string      `json:"upstream_step,omitempty"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailureFromError classifies an arbitrary error into a Failure by walking its gerror chain.
// Errors that do not carry a recognized gerror code become FailureKindUnknown, per the taxonomy's
// requirement that unrecognized errors are surfaced with full diagnostic payload, never swallowed.
func NewFailureFromError(err error) Failure {
	switch {
	case err == nil:
		return Failure{Kind: FailureKindUnknown, Message: "nil error classified as failure"}
	case gerror.IsProviderTimeout(err):
		return Failure{Kind: FailureKindProviderTimeout, Message: err.Error()}
	case gerror.IsProviderRateLimit(err):
		return Failure{Kind: FailureKindProviderRateLimit, Message: err.Error()}
	case gerror.IsProviderInvalidResponse(err):
		return Failure{Kind: FailureKindProviderInvalidResponse, Message: err.Error()}
	case gerror.IsValidationFailed(err):
		return Failure{Kind: FailureKindValidationError, Message: err.Error()}
	case gerror.IsIO(err):
		return Failure{Kind: FailureKindIOError, Message: err.Error()}
	case gerror.IsDependencyFailed(err):
		return Failure{Kind: FailureKindDependencyFailed, Message: err.Error()}
	case gerror.IsCancelled(err):
		return Failure{Kind: FailureKindCancelled, Message: err.Error()}
	default:
		return Failure{Kind: FailureKindUnknown, Message: err.Error()}
	}
}

// NewDependencyFailure builds the synthetic Failure attached to a step skipped because one of
// its prerequisites did not reach a success-equivalent terminal state.
func NewDependencyFailure(upstreamStep string) Failure {
	return Failure{
		Kind:         FailureKindDependencyFailed,
		Message:      fmt.Sprintf("upstream step %q did not succeed", upstreamStep),
		UpstreamStep: upstreamStep,
	}
}
