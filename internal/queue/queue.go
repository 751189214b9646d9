// Package queue defines interfaces for message queue operations.
// Faultline uses queues in two directions: remote services publish capture
// requests that the ingest service consumes, and kafka notification channels
// publish alert messages.
package queue

import (
	"context"
)

// Header keys set on messages Faultline produces.
const (
	// HeaderKind identifies the payload schema.
	HeaderKind = "faultline-kind"

	// HeaderSeverity carries the alert severity so consumers can route
	// without decoding the payload.
	HeaderSeverity = "faultline-severity"
)

// Payload kinds carried in HeaderKind.
const (
	KindCapture = "capture"
	KindAlert   = "alert"
)

// Message represents a message in the queue.
type Message struct {
	// Key is the partition key for ordering guarantees.
	// Alert messages are keyed by fingerprint hash.
	Key []byte

	// Value is the JSON payload.
	Value []byte

	// Headers contains optional metadata.
	Headers map[string]string
}

// Producer defines the interface for publishing messages to a queue.
// Implementations must be safe for concurrent use.
type Producer interface {
	// Publish sends a message to the queue.
	// The key is used for partitioning - messages with the same key
	// are guaranteed to be processed in order.
	Publish(ctx context.Context, msg *Message) error

	// Close releases any resources held by the producer.
	Close() error
}

// MessageHandler is a callback function for processing consumed messages.
// Return an error to indicate processing failure; the message is not
// committed and the consumer moves on.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer defines the interface for consuming messages from a queue.
type Consumer interface {
	// Start begins consuming messages and calls the handler for each one.
	// This is a blocking call that runs until the context is canceled
	// or an unrecoverable error occurs.
	Start(ctx context.Context, handler MessageHandler) error

	// Close stops consuming and releases any resources.
	Close() error
}
