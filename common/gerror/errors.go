package gerror

import (
	"errors"
	"net/http"
)

const (
	ErrCodeInternal                Code = "Internal"
	ErrCodeValidationFailed        Code = "ValidationFailed"
	ErrCodeInvalidQueryParameter   Code = "InvalidQueryParameter"
	ErrCodeNotFound                Code = "NotFound"
	ErrCodeUnauthorized            Code = "Unauthorized"
	ErrCodeAlreadyExists           Code = "AlreadyExists"
	ErrCodeOptimisticLockFailed    Code = "OptimisticLockFailed"
	ErrCodeAccountDisabled         Code = "AccountDisabled"
	ErrCodeRunnerDisabled          Code = "RunnerDisabled"
	ErrCodeTimeout                 Code = "Timeout"
	ErrCodeLogClosed               Code = "LogClosed"
	ErrHttpOperationFailed         Code = "HttpOperationFailed"
	ErrArtifactUploadFailed        Code = "ArtifactUploadFailed"
	ErrCodeProviderTimeout         Code = "ProviderTimeout"
	ErrCodeProviderRateLimit       Code = "ProviderRateLimit"
	ErrCodeProviderInvalidResponse Code = "ProviderInvalidResponse"
	ErrCodeIO                      Code = "IO"
	ErrCodeDependencyFailed        Code = "DependencyFailed"
	ErrCodeCancelled               Code = "Cancelled"
	ErrCodeUnknown                 Code = "Unknown"
)

// ToError locates an Error in the provided error chain and returns it if it
// matches the provided code. Otherwise, returns nil.
func ToError(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var gErr Error
	if errors.As(err, &gErr) && gErr.Code() == code {
		return &gErr
	}
	return nil
}

func NewErrInternal() Error {
	return NewError(
		"An internal server error occurred",
		AudienceExternal,
		ErrCodeInternal,
		http.StatusInternalServerError,
		nil,
	)
}

func ToInternal(err error) *Error {
	return ToError(err, ErrCodeInternal)
}

func IsInternal(err error) bool {
	return ToInternal(err) != nil
}

func NewErrArtifactUploadFailed(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrArtifactUploadFailed, http.StatusInternalServerError, err)
}

func ToArtifactUploadFailed(err error) *Error {
	return ToError(err, ErrArtifactUploadFailed)
}

func IsArtifactUploadFailed(err error) bool {
	return ToArtifactUploadFailed(err) != nil
}

func NewErrValidationFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeValidationFailed, http.StatusBadRequest, nil)
}

func ToValidationFailed(err error) *Error {
	return ToError(err, ErrCodeValidationFailed)
}

func IsValidationFailed(err error) bool {
	return ToValidationFailed(err) != nil
}

func NewErrInvalidQueryParameter(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeInvalidQueryParameter, http.StatusBadRequest, nil)
}

func ToInvalidQueryParameter(err error) *Error {
	return ToError(err, ErrCodeInvalidQueryParameter)
}

func IsInvalidQueryParameter(err error) bool {
	return ToInvalidQueryParameter(err) != nil
}

func NewErrNotFound(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeNotFound, http.StatusNotFound, nil)
}

func ToNotFound(err error) *Error {
	return ToError(err, ErrCodeNotFound)
}

func IsNotFound(err error) bool {
	return ToNotFound(err) != nil
}

func NewErrCodeRunnerDisabled() Error {
	return NewError(
		"Runner disabled; Please enable if you would like this runner to run jobs",
		AudienceExternal,
		ErrCodeRunnerDisabled,
		http.StatusNotFound,
		nil,
	)
}

func ToRunnerDisabled(err error) *Error {
	return ToError(err, ErrCodeRunnerDisabled)
}

func IsRunnerDisabled(err error) bool {
	return ToRunnerDisabled(err) != nil
}

func NewErrUnauthorized(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeUnauthorized, http.StatusUnauthorized, nil)
}

func ToUnauthorized(err error) *Error {
	return ToError(err, ErrCodeUnauthorized)
}

func IsUnauthorized(err error) bool {
	return ToUnauthorized(err) != nil
}

func NewErrAlreadyExists(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeAlreadyExists, http.StatusBadRequest, nil)
}

func ToAlreadyExists(err error) *Error {
	return ToError(err, ErrCodeAlreadyExists)
}

func IsAlreadyExists(err error) bool {
	return ToAlreadyExists(err) != nil
}

func NewErrOptimisticLockFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeOptimisticLockFailed, http.StatusPreconditionFailed, nil)
}
func ToOptimisticLockFailed(err error) *Error {
	return ToError(err, ErrCodeOptimisticLockFailed)
}

func IsOptimisticLockFailed(err error) bool {
	return ToOptimisticLockFailed(err) != nil
}

func NewErrAccountDisabled() Error {
	return NewError(
		"Account disabled; Please contact your administrator",
		AudienceExternal,
		ErrCodeAccountDisabled,
		http.StatusForbidden,
		nil,
	)
}
func ToAccountDisabled(err error) *Error {
	return ToError(err, ErrCodeAccountDisabled)
}

func IsAccountDisabled(err error) bool {
	return ToAccountDisabled(err) != nil
}

func NewErrTimeout(description string) Error {
	return NewError("Timeout: "+description, AudienceInternal, ErrCodeTimeout, http.StatusInternalServerError, nil)
}
func ToTimeout(err error) *Error {
	return ToError(err, ErrCodeTimeout)
}

func IsTimeout(err error) bool {
	return ToTimeout(err) != nil
}

func NewErrLogClosed() Error {
	// http.StatusGone "Indicates that the resource requested was previously in use but is no longer available
	// and will not be available again". This seems appropriate when trying to write to a closed log.
	return NewError("Log is closed", AudienceExternal, ErrCodeLogClosed, http.StatusGone, nil)
}

func ToLogClosed(err error) *Error {
	return ToError(err, ErrCodeLogClosed)
}

func IsLogClosed(err error) bool {
	return ToLogClosed(err) != nil
}

// NewErrProviderTimeout indicates a provider adapter did not respond within its configured timeout.
func NewErrProviderTimeout(provider string, err error) Error {
	return NewError("Provider "+provider+" timed out", AudienceInternal, ErrCodeProviderTimeout, http.StatusGatewayTimeout, err)
}

func ToProviderTimeout(err error) *Error {
	return ToError(err, ErrCodeProviderTimeout)
}

func IsProviderTimeout(err error) bool {
	return ToProviderTimeout(err) != nil
}

// NewErrProviderRateLimit indicates a provider adapter was rate limited by its backend.
func NewErrProviderRateLimit(provider string, err error) Error {
	return NewError("Provider "+provider+" rate limited the request", AudienceInternal, ErrCodeProviderRateLimit, http.StatusTooManyRequests, err)
}

func ToProviderRateLimit(err error) *Error {
	return ToError(err, ErrCodeProviderRateLimit)
}

func IsProviderRateLimit(err error) bool {
	return ToProviderRateLimit(err) != nil
}

// NewErrProviderInvalidResponse indicates a provider adapter returned a response that could not be parsed
// or did not satisfy the expected shape.
func NewErrProviderInvalidResponse(provider string, err error) Error {
	return NewError("Provider "+provider+" returned an invalid response", AudienceInternal, ErrCodeProviderInvalidResponse, http.StatusBadGateway, err)
}

func ToProviderInvalidResponse(err error) *Error {
	return ToError(err, ErrCodeProviderInvalidResponse)
}

func IsProviderInvalidResponse(err error) bool {
	return ToProviderInvalidResponse(err) != nil
}

// NewErrIO indicates a local filesystem operation (reading or writing a run's files) failed.
func NewErrIO(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrCodeIO, http.StatusInternalServerError, err)
}

func ToIO(err error) *Error {
	return ToError(err, ErrCodeIO)
}

func IsIO(err error) bool {
	return ToIO(err) != nil
}

// NewErrDependencyFailed indicates a step was skipped because one of its dependencies did not succeed.
func NewErrDependencyFailed(dependency string) Error {
	return NewError("Dependency "+dependency+" failed", AudienceExternal, ErrCodeDependencyFailed, http.StatusFailedDependency, nil)
}

func ToDependencyFailed(err error) *Error {
	return ToError(err, ErrCodeDependencyFailed)
}

func IsDependencyFailed(err error) bool {
	return ToDependencyFailed(err) != nil
}

// NewErrCancelled indicates a run or step was cancelled before it completed.
func NewErrCancelled(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeCancelled, http.StatusOK, nil)
}

func ToCancelled(err error) *Error {
	return ToError(err, ErrCodeCancelled)
}

func IsCancelled(err error) bool {
	return ToCancelled(err) != nil
}

// NewErrUnknown wraps an error that could not be classified into any other failure kind.
func NewErrUnknown(err error) Error {
	return NewError("An unknown error occurred", AudienceInternal, ErrCodeUnknown, http.StatusInternalServerError, err)
}

func ToUnknown(err error) *Error {
	return ToError(err, ErrCodeUnknown)
}

func IsUnknown(err error) bool {
	return ToUnknown(err) != nil
}
