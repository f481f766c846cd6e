package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrProcessing is returned when a structural mutation is attempted
	// while a response is still streaming into the session.
	ErrProcessing = errors.New("response in progress")
	// ErrRedundantConnection is returned when the connection source is an
	// ancestor of the target: the target already inherits that history.
	ErrRedundantConnection = errors.New("source is an ancestor of target")
	// ErrCyclicConnection is returned when the connection target is an
	// ancestor of the source, which would make the injected memory circular.
	ErrCyclicConnection = errors.New("target is an ancestor of source")
	// ErrSelfConnection is returned when source and target are the same node.
	ErrSelfConnection = errors.New("cannot connect a node to itself")
)
