package models

import (
	"strings"
	"time"
)

// Identity is the stable handle for one conversational participant.
type Identity string

// Validate reports ErrEmptyIdentity for blank identities.
func (id Identity) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrEmptyIdentity
	}
	return nil
}

// PendingIntent is the single slot of conversational memory kept between turns.
type PendingIntent string

const (
	PendingNone       PendingIntent = ""
	PendingBooking    PendingIntent = "book_appointment"
	PendingCounseling PendingIntent = "counseling"
)

// IsValid reports whether p is one of the known pending intents.
func (p PendingIntent) IsValid() bool {
	switch p {
	case PendingNone, PendingBooking, PendingCounseling:
		return true
	default:
		return false
	}
}

// ConversationState carries the pending intent for one identity.
type ConversationState struct {
	Identity  Identity      `json:"identity"`
	Pending   PendingIntent `json:"pending,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// BlockReason tags the pipeline stage that rejected an inbound message.
type BlockReason string

const (
	BlockNone           BlockReason = ""
	BlockRateLimit      BlockReason = "rate_limit"
	BlockLengthExceeded BlockReason = "length_exceeded"
	BlockInjection      BlockReason = "prompt_injection"
	BlockHarmful        BlockReason = "harmful_content"
)

// Err maps a block reason to its sentinel error. BlockNone maps to nil.
func (r BlockReason) Err() error {
	switch r {
	case BlockRateLimit:
		return ErrRateLimitExceeded
	case BlockLengthExceeded:
		return ErrInputTooLong
	case BlockInjection:
		return ErrPromptInjection
	case BlockHarmful:
		return ErrHarmfulContent
	default:
		return nil
	}
}

// PIIKind names a category of personally identifiable information.
type PIIKind string

const (
	PIIEmail      PIIKind = "email"
	PIIPhone      PIIKind = "phone"
	PIIIDNumber   PIIKind = "id_number"
	PIICardNumber PIIKind = "card_number"
)

// SecurityVerdict is the outcome of screening one inbound message.
//
// When Allowed is false, SanitizedText is empty and Response holds the
// user-facing explanation. Detail carries the audit detail for the block
// (pattern, category or limiter reason).
type SecurityVerdict struct {
	Allowed       bool        `json:"allowed"`
	SanitizedText string      `json:"sanitized_text,omitempty"`
	Disclaimer    string      `json:"disclaimer,omitempty"`
	BlockReason   BlockReason `json:"block_reason,omitempty"`
	Response      string      `json:"response,omitempty"`
	Detail        string      `json:"detail,omitempty"`
	PIIFound      []PIIKind   `json:"pii_found,omitempty"`
}

// ModerationCategory is the winning category of a moderation pass.
type ModerationCategory string

const (
	CategoryViolence         ModerationCategory = "violence"
	CategorySexual           ModerationCategory = "sexual"
	CategoryHateSpeech       ModerationCategory = "hate_speech"
	CategoryIllegal          ModerationCategory = "illegal"
	CategorySelfHarm         ModerationCategory = "self_harm"
	CategoryMedicalSensitive ModerationCategory = "medical_sensitive"
	CategoryClean            ModerationCategory = "clean"
)

// ModerationVerdict is the outcome of harmful and sensitive content screening.
type ModerationVerdict struct {
	Safe       bool               `json:"safe"`
	Category   ModerationCategory `json:"category"`
	Keyword    string             `json:"keyword,omitempty"`
	Response   string             `json:"response,omitempty"`
	Disclaimer string             `json:"disclaimer,omitempty"`
}

// Intent tags a reply produced by the intent engine or the chat service.
type Intent string

const (
	IntentSmalltalk           Intent = "smalltalk"
	IntentEmpathy             Intent = "empathy"
	IntentDoctorInfo          Intent = "doctor_info"
	IntentFAQ                 Intent = "faq"
	IntentBookAppointment     Intent = "book_appointment"
	IntentBookingConfirmed    Intent = "booking_confirmed"
	IntentBookingError        Intent = "booking_error"
	IntentCounseling          Intent = "counseling"
	IntentCounselingConfirmed Intent = "counseling_confirmed"
	IntentBotCondition        Intent = "bot_condition"
	IntentBotActivity         Intent = "bot_activity"
	IntentWeather             Intent = "weather"
	IntentBotName             Intent = "bot_identity_name"
	IntentBotType             Intent = "bot_identity_type"
	IntentBotCreator          Intent = "bot_identity_creator"
	IntentBotCapabilities     Intent = "bot_capabilities"
	IntentLocation            Intent = "location"
	IntentSecurityBlocked     Intent = "security_blocked"
	IntentLLM                 Intent = "llm"
	IntentFallback            Intent = "fallback"
)

// IntentReply is the structured reply returned to the presentation layer.
type IntentReply struct {
	Intent Intent `json:"intent"`
	Reply  string `json:"reply"`
}

// WithDisclaimer returns a copy of r with the disclaimer appended to the reply.
func (r IntentReply) WithDisclaimer(disclaimer string) IntentReply {
	if disclaimer != "" {
		r.Reply += disclaimer
	}
	return r
}
