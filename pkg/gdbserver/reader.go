package gdbserver

import (
	"net"

	"github.com/osd-toolchain/gdb-bridge/internal/iobuf"
)

// ringReader decouples raw net.Conn reads from the framer's byte-at-a-time
// consumption, buffering through an iobuf.Ring instead of reading the
// socket one byte at a time.
type ringReader struct {
	conn    net.Conn
	ring    *iobuf.Ring
	scratch []byte
}

const ringReaderBufSize = 512

func newRingReader(conn net.Conn) *ringReader {
	return &ringReader{
		conn:    conn,
		ring:    iobuf.NewRing(ringReaderBufSize),
		scratch: make([]byte, ringReaderBufSize),
	}
}

// ReadByte returns the next byte off the wire, refilling the ring from the
// connection whenever it runs dry.
func (r *ringReader) ReadByte() (byte, error) {
	for {
		if b, ok := r.ring.ReadByte(); ok {
			return b, nil
		}
		max := r.ring.Space()
		if max > len(r.scratch) {
			max = len(r.scratch)
		}
		n, err := r.conn.Read(r.scratch[:max])
		if n > 0 {
			r.ring.Write(r.scratch[:n])
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}
