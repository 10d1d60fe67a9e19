// Package errors provides the standardized error taxonomy shared by the HTTP
// handler and the Zeebe job worker.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Configuration errors degrade the service to Disabled.
	ErrCodeConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"

	// Client input errors are reported back to the caller.
	ErrCodeMissingField   ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidField   ErrorCode = "INVALID_FIELD"
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// Processing errors come from normalize/predict/decide.
	ErrCodeProcessingFailed ErrorCode = "PROCESSING_FAILED"

	// Collaborator errors never reach the client.
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeCacheFailed              ErrorCode = "CACHE_FAILED"
	ErrCodeAlertPublishFailed       ErrorCode = "ALERT_PUBLISH_FAILED"
	ErrCodeWorkflowEngine           ErrorCode = "WORKFLOW_ENGINE_ERROR"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Field returns the offending input field recorded in metadata, if any.
func (e *StandardError) Field() string {
	if e.Metadata == nil {
		return ""
	}
	field, _ := e.Metadata["field"].(string)
	return field
}

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

// NewConfigurationError marks a startup defect: malformed statistics or an unloadable artifact.
func NewConfigurationError(details string, err error) *StandardError {
	if err != nil {
		details = fmt.Sprintf("%s: %v", details, err)
	}
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   "Inference configuration is invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelUnavailableError is returned for every request while the model is disabled.
func NewModelUnavailableError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelUnavailable,
		Message:   "Model is not available",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingFieldError creates a non-retryable client error naming the absent field.
func NewMissingFieldError(field string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingField,
		Message:   fmt.Sprintf("missing required field %q", field),
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidFieldError creates a non-retryable client error for a value that is not a finite number.
func NewInvalidFieldError(field, value string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidField,
		Message:   fmt.Sprintf("field %q: value %q is not a number", field, value),
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field, "value": value},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidPayloadError covers bodies that cannot be decoded or fail schema validation.
func NewInvalidPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPayload,
		Message:   "invalid request payload",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProcessingError wraps an unexpected failure during normalize/predict/decide.
// The message of the cause is forwarded; stack traces never are.
func NewProcessingError(stage string, err error) *StandardError {
	msg := "prediction failed"
	if err != nil {
		msg = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeProcessingFailed,
		Message:   msg,
		Details:   fmt.Sprintf("stage: %s", stage),
		Retryable: false,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   fmt.Sprintf("Database connection error: %v", err),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable database insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Failed to persist prediction",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheError creates a retryable cache error.
func NewCacheError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheFailed,
		Message:   fmt.Sprintf("Prediction cache %s failed", op),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlertPublishFailedError creates a retryable alert publishing error.
func NewAlertPublishFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlertPublishFailed,
		Message:   "Failed to publish risk alert",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewWorkflowEngineError wraps a failed Zeebe command.
func NewWorkflowEngineError(operation string, retryable bool, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWorkflowEngine,
		Message:   fmt.Sprintf("Zeebe operation %q failed", operation),
		Details:   err.Error(),
		Retryable: retryable,
		Metadata:  map[string]interface{}{"operation": operation},
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Classification
// ==========================

// AsStandardError extracts a StandardError from an error chain. Anything else
// is normalized into an INTERNAL_ERROR.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

// IsClientError reports whether the error was caused by the submitted input.
func IsClientError(err error) bool {
	var stdErr *StandardError
	if !stderrors.As(err, &stdErr) {
		return false
	}
	switch stdErr.Code {
	case ErrCodeMissingField, ErrCodeInvalidField, ErrCodeInvalidPayload:
		return true
	}
	return false
}

// HTTPStatus maps an error code to the status returned to HTTP clients.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeMissingField, ErrCodeInvalidField, ErrCodeInvalidPayload:
		return http.StatusBadRequest
	case ErrCodeModelUnavailable, ErrCodeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeCacheFailed,
		ErrCodeAlertPublishFailed,
		ErrCodeWorkflowEngine:
		return 3
	case ErrCodeProcessingFailed:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if field := stdErr.Field(); field != "" {
		vars["errorField"] = field
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeConfiguration || code == ErrCodeModelUnavailable:
		return "CONFIGURATION"
	case strings.Contains(codeStr, "FIELD") || strings.Contains(codeStr, "PAYLOAD"):
		return "VALIDATION"
	case code == ErrCodeProcessingFailed:
		return "PROCESSING"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "CACHE"):
		return "CACHE"
	case strings.Contains(codeStr, "ALERT"):
		return "NOTIFICATION"
	case code == ErrCodeWorkflowEngine:
		return "INTEGRATION"
	default:
		return "OTHER"
	}
}
