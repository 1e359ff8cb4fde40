package events

import "time"

// OperationStart is emitted once the pipeline has resolved the target
// operation, before execution begins.
type OperationStart struct {
	// ID pairs this event with its OperationFinish. Batched requests run
	// several operations under one request ID, so the request ID alone
	// cannot correlate them.
	ID            string
	Query         string
	OperationName string
	OperationType string
}

// OperationFinish is emitted after the pipeline formats the response for one
// operation.
type OperationFinish struct {
	ID            string
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}
