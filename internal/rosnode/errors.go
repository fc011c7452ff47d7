package rosnode

import "errors"

var (
	// ErrNodeShutdown is returned by operations on a node that has shut down
	ErrNodeShutdown = errors.New("node is shut down")
	// ErrNotStarted is returned when an operation needs the negotiation endpoint
	// before Start has been called
	ErrNotStarted = errors.New("node has not been started")
	// ErrAlreadySubscribed is returned when subscribing to a topic twice
	ErrAlreadySubscribed = errors.New("topic is already subscribed")
	// ErrAlreadyAdvertised is returned when advertising a topic twice
	ErrAlreadyAdvertised = errors.New("topic is already advertised")
	// ErrRegistration wraps registrar failures during subscribe and advertise
	ErrRegistration = errors.New("registration failed")
	// ErrPublicationClosed is returned when publishing on a closed publication
	ErrPublicationClosed = errors.New("publication is closed")
	// ErrEmptyTopic is returned when a topic name is empty
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrEmptyType is returned when a message type is empty
	ErrEmptyType = errors.New("message type cannot be empty")
)
