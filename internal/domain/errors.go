package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// Conversation errors
	ErrTurnInFlight      = errors.New("a turn is already in flight for this conversation")
	ErrCapacityExceeded  = errors.New("context window capacity exceeded")
	ErrGuardrailExceeded = errors.New("guardrail retries exhausted")

	// Skill errors
	ErrNoMatchingSkill        = errors.New("no skill matches the request")
	ErrSkillNotFound          = errors.New("skill not found")
	ErrSkillInvocationFailed  = errors.New("skill invocation failed")
	ErrNoSkillServerAvailable = errors.New("no skill server available")

	// LLM errors
	ErrLLMUnavailable = errors.New("LLM service unavailable")
	ErrLLMFormat      = errors.New("malformed response from LLM")

	// Memory errors
	ErrMemoryNotFound     = errors.New("memory not found")
	ErrEmbeddingsFailed   = errors.New("failed to generate embeddings")
	ErrIndexInconsistency = errors.New("vector index inconsistent with relational store")
	ErrMemoryDisabled     = errors.New("persistent memory is disabled")

	// Speech errors
	ErrTTSUnavailable = errors.New("TTS service unavailable")
	ErrTTSFailed      = errors.New("TTS processing failed")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrNotFound     = errors.New("resource not found")

	// Fatal configuration errors
	ErrFatal = errors.New("fatal orchestrator error")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError wrapping err
func NewDomainError(err error, message string) *DomainError {
	return &DomainError{Err: err, Message: message}
}
