package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Doctor is a static roster entry from the doctor directory.
type Doctor struct {
	Name       string `json:"name" yaml:"name"`
	Specialty  string `json:"specialty" yaml:"specialty"`
	Schedule   string `json:"schedule" yaml:"schedule"`
	Contact    string `json:"contact" yaml:"contact"`
	FunFact    string `json:"fun_fact" yaml:"fun_fact"`
	Greeting   string `json:"greeting" yaml:"greeting"`
	Department string `json:"department" yaml:"-"`
}

// Appointment is a booking handed to the appointment recorder.
// DoctorRef holds the doctor's contact number, which is how the hospital
// desk identifies the doctor.
type Appointment struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity,omitempty"`
	PatientName string    `json:"patient_name"`
	Contact     string    `json:"contact"`
	DoctorRef   string    `json:"doctor_id"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks required fields on an appointment submitted through the API.
func (a *Appointment) Validate() error {
	if strings.TrimSpace(a.PatientName) == "" {
		return ErrEmptyPatientName
	}
	if utf8.RuneCountInString(a.PatientName) > MaxPatientNameLength {
		return ErrPatientNameTooLong
	}
	if strings.TrimSpace(a.Contact) == "" {
		return ErrEmptyContact
	}
	if utf8.RuneCountInString(a.Contact) > MaxContactLength {
		return ErrContactTooLong
	}
	if strings.TrimSpace(a.DoctorRef) == "" {
		return ErrEmptyDoctorRef
	}
	if strings.TrimSpace(a.Date) == "" {
		return ErrEmptyAppointmentDay
	}
	return nil
}

// ChatRecord is one turn of chat history.
type ChatRecord struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Intent    Intent    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityEventType names an entry in the security log.
type SecurityEventType string

const (
	EventRateLimit       SecurityEventType = "rate_limit"
	EventLengthExceeded  SecurityEventType = "length_exceeded"
	EventPromptInjection SecurityEventType = "prompt_injection"
	EventHarmfulContent  SecurityEventType = "harmful_content"
	EventPIIDetected     SecurityEventType = "pii_detected"
	EventUnsafeLLMOutput SecurityEventType = "unsafe_llm_output"
)

// SecurityEvent is one record emitted to the security-event sink.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Identity  Identity          `json:"identity"`
	Type      SecurityEventType `json:"event_type"`
	Details   string            `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}
