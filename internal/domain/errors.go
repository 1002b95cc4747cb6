package domain

import "github.com/pkg/errors"

var (
	// ErrTransient network or service hiccup worth retrying.
	ErrTransient = errors.New("transient failure")
	// ErrSchemaValidation reply parsed but does not match the decision schema.
	ErrSchemaValidation = errors.New("decision schema validation failed")
	// ErrDecisionAborted reply attempts exhausted; no orders are placed.
	ErrDecisionAborted = errors.New("decision request aborted")
	// ErrOrderSubmission exchange rejected or failed the order submission.
	ErrOrderSubmission = errors.New("order submission failed")
	// ErrOrderUnresolved order did not reach a terminal state in time.
	ErrOrderUnresolved = errors.New("order state unresolved")
	// ErrCycleInProgress a trigger arrived while a cycle was still running.
	ErrCycleInProgress = errors.New("cycle already in progress")
)
