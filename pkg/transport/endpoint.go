// Package transport provides the Host-Controller-facing message-queue
// endpoint abstraction used by pkg/hostmod, mirroring the role the Bus
// interface plays in a CAN-based stack: one small interface, one real
// backend (a ZeroMQ DEALER socket) and one in-memory double for tests.
package transport

// Endpoint is a message-oriented connection to the Host Controller. Each
// Send/Recv carries exactly one DI packet serialized as a contiguous
// sequence of big-endian 16-bit words (see pkg/packet). Message boundaries
// are preserved by the underlying transport; no additional framing is
// applied here.
type Endpoint interface {
	// Dial connects to the given endpoint URL ("inproc://...", "tcp://host:port").
	Dial(addr string) error
	// Send transmits one message, fire-and-forget.
	Send(frame []byte) error
	// Recv blocks until one message is available, or the endpoint closes.
	Recv() ([]byte, error)
	// Close releases the underlying socket. Any blocked Recv returns an error.
	Close() error
}
