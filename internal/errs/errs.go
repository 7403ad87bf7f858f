// Package errs defines the error taxonomy shared by the intake pipeline.
package errs

import (
	"errors"
	"fmt"
)

// Class represents how a failure should be handled
type Class int

const (
	// ClassTransient marks failures that may succeed on a later attempt
	ClassTransient Class = iota
	// ClassPermanent marks failures that will never succeed for the same input
	ClassPermanent
	// ClassAuth marks requests that failed authentication
	ClassAuth
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Standard error variables
var (
	// ErrAuthentication is returned when a request signature does not verify
	ErrAuthentication = errors.New("authentication failed")
	// ErrTransientStore is returned when a backing store is unreachable
	ErrTransientStore = errors.New("store unavailable")
	// ErrClassification is returned when the classifier fails or returns garbage
	ErrClassification = errors.New("classification failed")
	// ErrPermanent marks an entry that must not be retried
	ErrPermanent = errors.New("permanent failure")
)

// ClassifiedError wraps an error with its class and the operation that produced it
type ClassifiedError struct {
	Class     Class
	Err       error
	Operation string
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.Operation == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error's class
func (e *ClassifiedError) Is(target error) bool {
	switch e.Class {
	case ClassTransient:
		return target == ErrTransientStore
	case ClassPermanent:
		return target == ErrPermanent
	case ClassAuth:
		return target == ErrAuthentication
	}
	return false
}

// Transient wraps err as a transient store failure for op
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Err: err, Operation: op}
}

// Permanent wraps err so that retry logic gives up immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassPermanent, Err: err}
}

// Auth wraps a verification failure reason
func Auth(reason string) error {
	return &ClassifiedError{Class: ClassAuth, Err: errors.New(reason)}
}

// IsTransient reports whether err is a transient store failure
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransientStore)
}

// IsPermanent reports whether err must not be retried
func IsPermanent(err error) bool {
	return err != nil && errors.Is(err, ErrPermanent)
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	return err != nil && errors.Is(err, ErrAuthentication)
}
