package gpu

import (
	"errors"
	"fmt"
)

// Kind categorizes accelerator failures.
type Kind int

const (
	KindPlatformEnumeration Kind = iota + 1
	KindDeviceEnumeration
	KindContextCreation
	KindQueueCreation
	KindSourceLoad
	KindBuild
	KindKernelResolution
	KindBufferAllocation
	KindArgumentBinding
	KindLaunch
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindPlatformEnumeration:
		return "PlatformEnumeration"
	case KindDeviceEnumeration:
		return "DeviceEnumeration"
	case KindContextCreation:
		return "ContextCreation"
	case KindQueueCreation:
		return "QueueCreation"
	case KindSourceLoad:
		return "SourceLoad"
	case KindBuild:
		return "Build"
	case KindKernelResolution:
		return "KernelResolution"
	case KindBufferAllocation:
		return "BufferAllocation"
	case KindArgumentBinding:
		return "ArgumentBinding"
	case KindLaunch:
		return "Launch"
	case KindTransfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}

// Error is a structured accelerator error. Index is the kernel argument
// index for KindArgumentBinding and -1 otherwise; Log carries the compiler
// output for KindBuild.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Index   int
	Log     string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gpu %s error in %s: %s", e.Kind, e.Op, e.Message)
	if e.Kind == KindArgumentBinding && e.Index >= 0 {
		msg = fmt.Sprintf("gpu %s error in %s (argument %d): %s", e.Kind, e.Op, e.Index, e.Message)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	if e.Log != "" {
		msg += "\nbuild log:\n" + e.Log
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels of the same Kind, so errors.Is(err, ErrBuild) works
// for any build failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

// Temporary reports whether the underlying backend condition is transient
// (queue full, out of resources) rather than structural.
func (e *Error) Temporary() bool {
	var t interface{ Temporary() bool }
	if errors.As(e.Err, &t) {
		return t.Temporary()
	}
	return false
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Index: -1, Err: err}
}

// NewArgumentError reports a kernel argument that could not be bound.
func NewArgumentError(op string, index int, message string, err error) error {
	return &Error{Kind: KindArgumentBinding, Op: op, Message: message, Index: index, Err: err}
}

// NewLaunchError reports a failed or rejected kernel launch.
func NewLaunchError(op, message string, err error) error {
	return newError(KindLaunch, op, message, err)
}

// Sentinels for errors.Is.
var (
	ErrPlatformEnumeration = &Error{Kind: KindPlatformEnumeration}
	ErrDeviceEnumeration   = &Error{Kind: KindDeviceEnumeration}
	ErrContextCreation     = &Error{Kind: KindContextCreation}
	ErrQueueCreation       = &Error{Kind: KindQueueCreation}
	ErrSourceLoad          = &Error{Kind: KindSourceLoad}
	ErrBuild               = &Error{Kind: KindBuild}
	ErrKernelResolution    = &Error{Kind: KindKernelResolution}
	ErrBufferAllocation    = &Error{Kind: KindBufferAllocation}
	ErrArgumentBinding     = &Error{Kind: KindArgumentBinding}
	ErrLaunch              = &Error{Kind: KindLaunch}
	ErrTransfer            = &Error{Kind: KindTransfer}
)

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTemporary reports whether err is a transient accelerator condition.
func IsTemporary(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Temporary()
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// transientError marks a backend condition that may clear on retry.
type transientError struct {
	err error
}

func (t transientError) Error() string   { return t.err.Error() }
func (t transientError) Unwrap() error   { return t.err }
func (t transientError) Temporary() bool { return true }

// Transient wraps err so that IsTemporary reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}
