// Package models defines the core data structures for Kiko.
//
// It includes the verdict and reply types produced by the safety pipeline and
// intent engine, the records handed to persistence, and the JSON envelope
// shared by the HTTP API.
package models

import (
	"errors"
)

// Validation constants for input validation
const (
	// DefaultMaxInputLength is the maximum number of characters accepted per message.
	DefaultMaxInputLength = 2000
	// MaxPatientNameLength bounds patient names submitted through the booking API.
	MaxPatientNameLength = 255
	// MaxContactLength bounds contact numbers submitted through the booking API.
	MaxContactLength = 50
)

// Error variables for better error handling and testability
var (
	ErrEmptyIdentity       = errors.New("identity cannot be empty")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrInputTooLong        = errors.New("input exceeds maximum length")
	ErrPromptInjection     = errors.New("prompt injection detected")
	ErrHarmfulContent      = errors.New("harmful content detected")
	ErrUnsafeModelOutput   = errors.New("unsafe model output")
	ErrModelUnavailable    = errors.New("language model unavailable")
	ErrBookingPersistence  = errors.New("failed to persist appointment")
	ErrNotFound            = errors.New("record not found")
	ErrEmptyPatientName    = errors.New("patient name is required")
	ErrPatientNameTooLong  = errors.New("patient name exceeds maximum length")
	ErrEmptyContact        = errors.New("contact is required")
	ErrContactTooLong      = errors.New("contact exceeds maximum length")
	ErrEmptyDoctorRef      = errors.New("doctor reference is required")
	ErrEmptyAppointmentDay = errors.New("appointment date is required")
)

// MessageStatus represents the delivery status of an outbound channel message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery event for a reply sent over a messaging channel.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMessage is a message received from a messaging channel.
// MessageID is the channel's own identifier and is used for redelivery dedup.
type InboundMessage struct {
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
