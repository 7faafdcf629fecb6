package xsched

import "errors"

var (
	// ErrNilCallback is returned when a schedule or registration request
	// carries no invocable callback.
	ErrNilCallback = errors.New("xsched: callback must not be nil")

	// ErrInvalidDelay is returned when a requested delay is not usable.
	ErrInvalidDelay = errors.New("xsched: delay must be a non-negative duration")

	// ErrInvalidTopic is returned when a topic name is empty.
	ErrInvalidTopic = errors.New("xsched: topic must not be empty")

	// ErrInvalidSubscriber is returned when a subscriber identity is nil.
	ErrInvalidSubscriber = errors.New("xsched: subscriber identity must not be nil")

	// ErrCoreClosed is returned when an operation is attempted on a
	// closed Core.
	ErrCoreClosed = errors.New("xsched: core is closed")

	// ErrObserverPoolShutdownTimeout is returned when the async observer
	// pool fails to drain within the close timeout.
	ErrObserverPoolShutdownTimeout = errors.New("xsched: observer pool shutdown timeout")
)
