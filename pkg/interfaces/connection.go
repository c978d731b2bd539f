package interfaces

// Connection represents one client socket
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps WebSocket infrastructure out of session and room logic
type Connection interface {
	// ID returns the server-minted connection identifier
	ID() string

	// WriteJSON queues a frame, waiting briefly for buffer space
	WriteJSON(v interface{}) error

	// Send queues a frame without waiting; broadcasts use this so a slow
	// client never stalls the event loop
	Send(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error
}

// Broadcaster delivers server pushes to connections by id
// FUNCTIONAL DISCOVERY: Fire-and-forget; entities never wait on delivery
type Broadcaster interface {
	Emit(connectionID string, event string, payload interface{})
}
