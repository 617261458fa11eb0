// Package errors provides standardized error handling for the submission pipeline
// and its BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// User input errors: reported inline, fully recoverable by editing.
const (
	ErrCodeNothingToSubmit      ErrorCode = "NOTHING_TO_SUBMIT"
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeImageTooLarge        ErrorCode = "IMAGE_TOO_LARGE"
	ErrCodeTooManyImages        ErrorCode = "TOO_MANY_IMAGES"
	ErrCodeAggregateTooLarge    ErrorCode = "AGGREGATE_TOO_LARGE"
	ErrCodeUnsupportedImageType ErrorCode = "UNSUPPORTED_IMAGE_TYPE"
)

// Extraction and scene errors: reported, submission blocked.
const (
	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrCodeExportFailed     ErrorCode = "EXPORT_FAILED"
	ErrCodeEmptyScene       ErrorCode = "EMPTY_SCENE"
	ErrCodeInvalidScene     ErrorCode = "INVALID_SCENE"
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
)

// Storage errors: absorbed by the uploader's inline fallback.
const (
	ErrCodeUploadFailed       ErrorCode = "UPLOAD_FAILED"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeFileNotFound       ErrorCode = "FILE_NOT_FOUND"
)

// Restore and flow errors.
const (
	ErrCodeRestoreFailed      ErrorCode = "RESTORE_FAILED"
	ErrCodeSubmissionInFlight ErrorCode = "SUBMISSION_IN_FLIGHT"
	ErrCodeAlreadyDispatched  ErrorCode = "ALREADY_DISPATCHED"
	ErrCodeDispatchFailed     ErrorCode = "DISPATCH_FAILED"
	ErrCodeAttemptStoreFailed ErrorCode = "ATTEMPT_STORE_FAILED"
)

// Generic codes shared with infrastructure clients.
const (
	ErrCodeExternalService  ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout          ErrorCode = "TIMEOUT_ERROR"
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeBusinessRule     ErrorCode = "BUSINESS_RULE_VIOLATION"
	ErrCodeAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another StandardError by code, so sentinels like ErrNothingToSubmit
// work with errors.Is regardless of details or timestamp.
func (e *StandardError) Is(target error) bool {
	var other *StandardError
	if stderrors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithMetadata returns the error with a metadata entry set.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNothingToSubmit    = &StandardError{Code: ErrCodeNothingToSubmit, Message: "Nothing to submit"}
	ErrSubmissionInFlight = &StandardError{Code: ErrCodeSubmissionInFlight, Message: "A submission is already in progress"}
	ErrAlreadyDispatched  = &StandardError{Code: ErrCodeAlreadyDispatched, Message: "This answer has already been submitted"}
	ErrEmptyScene         = &StandardError{Code: ErrCodeEmptyScene, Message: "Drawing has no shapes"}
	ErrStorageUnavailable = &StandardError{Code: ErrCodeStorageUnavailable, Message: "Storage backend unavailable"}
	ErrFileNotFound       = &StandardError{Code: ErrCodeFileNotFound, Message: "File not found"}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewNothingToSubmitError reports an empty answer. It is not a system error.
func NewNothingToSubmitError() *StandardError {
	return newError(ErrCodeNothingToSubmit, "Nothing to submit", "response has no text and no drawing", false, nil)
}

// NewValidationFailedError carries every violation message of a rejected batch.
func NewValidationFailedError(messages []string) *StandardError {
	err := newError(ErrCodeValidationFailed, "Image validation failed", strings.Join(messages, "; "), false, nil)
	return err.WithMetadata("violations", messages)
}

// NewExtractionFailedError reports malformed embedded image data.
func NewExtractionFailedError(details string, cause error) *StandardError {
	return newError(ErrCodeExtractionFailed, "Could not read an embedded image", details, false, cause)
}

// NewExportFailedError reports that the drawing surface could not be rasterized.
func NewExportFailedError(details string, cause error) *StandardError {
	return newError(ErrCodeExportFailed, "Drawing export failed", details, false, cause)
}

// NewEmptySceneError reports an export request on a surface without live shapes.
func NewEmptySceneError() *StandardError {
	return newError(ErrCodeEmptyScene, "Drawing has no shapes", "", false, nil)
}

// NewInvalidSceneError reports scene JSON that failed schema or structural checks.
func NewInvalidSceneError(details string, cause error) *StandardError {
	return newError(ErrCodeInvalidScene, "Scene data is invalid", details, false, cause)
}

// NewTemplateNotFoundError creates a non-retryable template error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return newError(ErrCodeTemplateNotFound, "Template not found in library", fmt.Sprintf("templateId: %s", templateID), false, nil)
}

// NewUploadFailedError creates a retryable upload error.
func NewUploadFailedError(details string, cause error) *StandardError {
	return newError(ErrCodeUploadFailed, "Drawing upload failed", details, true, cause)
}

// NewStorageUnavailableError creates a retryable connectivity error.
func NewStorageUnavailableError(backend string, cause error) *StandardError {
	details := fmt.Sprintf("backend: %s", backend)
	if cause != nil {
		details = fmt.Sprintf("backend: %s, error: %s", backend, cause.Error())
	}
	return newError(ErrCodeStorageUnavailable, "Storage backend unavailable", details, true, cause)
}

// NewFileNotFoundError creates a non-retryable lookup error.
func NewFileNotFoundError(fileID string) *StandardError {
	return newError(ErrCodeFileNotFound, "File not found", fmt.Sprintf("fileId: %s", fileID), false, nil)
}

// NewRestoreFailedError reports a cached scene that cannot be restored.
func NewRestoreFailedError(details string, cause error) *StandardError {
	return newError(ErrCodeRestoreFailed, "Previous drawing could not be restored", details, false, cause)
}

// NewSubmissionInFlightError rejects a concurrent submit for the same question instance.
func NewSubmissionInFlightError(key string) *StandardError {
	return newError(ErrCodeSubmissionInFlight, "A submission is already in progress", fmt.Sprintf("question: %s", key), false, nil)
}

// NewAlreadyDispatchedError rejects a submit on a finished question instance.
func NewAlreadyDispatchedError(key string) *StandardError {
	return newError(ErrCodeAlreadyDispatched, "This answer has already been submitted", fmt.Sprintf("question: %s", key), false, nil)
}

// NewDispatchFailedError creates a retryable dispatch error.
func NewDispatchFailedError(transport string, cause error) *StandardError {
	return newError(ErrCodeDispatchFailed, "Submission could not be delivered", fmt.Sprintf("transport: %s", transport), true, cause)
}

// NewAttemptStoreFailedError creates a retryable attempt store error.
func NewAttemptStoreFailedError(backend string, cause error) *StandardError {
	return newError(ErrCodeAttemptStoreFailed, "Attempt store operation failed", fmt.Sprintf("backend: %s", backend), true, cause)
}

// Generic constructors

func NewBusinessRuleError(message, details string) *StandardError {
	return newError(ErrCodeBusinessRule, message, details, false, nil)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true, err)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError(ErrCodeResourceNotFound, fmt.Sprintf("Resource not found in %s", service), details, false, nil)
}

func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthentication, "Authentication failed", details, false, nil)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes where they differ.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeStorageUnavailable: "STORAGE_UNAVAILABLE",
	ErrCodeFileNotFound:       "FILE_NOT_FOUND",
	ErrCodeAttemptStoreFailed: "ATTEMPT_LOOKUP_FAILED",
	ErrCodeRestoreFailed:      "ATTEMPT_LOOKUP_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStorageUnavailable,
		ErrCodeUploadFailed,
		ErrCodeAttemptStoreFailed,
		ErrCodeDispatchFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError unwraps err to a StandardError if it carries one.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsUserInputError reports whether the error is something the student fixes by editing.
func IsUserInputError(err error) bool {
	return GetErrorCategory(CodeOf(err)) == "USER_INPUT"
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeNothingToSubmit, ErrCodeValidationFailed, ErrCodeImageTooLarge,
		ErrCodeTooManyImages, ErrCodeAggregateTooLarge, ErrCodeUnsupportedImageType:
		return "USER_INPUT"
	case ErrCodeExtractionFailed, ErrCodeExportFailed, ErrCodeEmptyScene, ErrCodeInvalidScene:
		return "EXTRACTION"
	case ErrCodeUploadFailed, ErrCodeStorageUnavailable, ErrCodeFileNotFound:
		return "UPLOAD"
	case ErrCodeRestoreFailed:
		return "RESTORE"
	}

	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SUBMISSION") || strings.Contains(codeStr, "DISPATCH"):
		return "SUBMISSION"
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "TIMEOUT") || strings.Contains(codeStr, "EXTERNAL"):
		return "INFRASTRUCTURE"
	default:
		return "OTHER"
	}
}
