// Package rsp implements the Remote Serial Protocol framing state machine
// and its companion hex codec.
package rsp

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
)

// state is the framer's position within one frame.
type state int

const (
	stateWaitForStart state = iota
	stateReadBody
	stateReadChecksumHi
	stateReadChecksumLo
)

const (
	startByte  = '$'
	endByte    = '#'
	escapeByte = '}'
	escapeXOR  = 0x20
)

// AckByte and NakByte are the RSP acknowledgement bytes sent in reply to a
// received frame, exported so pkg/gdbserver doesn't re-hardcode them.
const (
	AckByte = '+'
	NakByte = '-'
)

// Framer decodes a stream of RSP frames byte by byte. It holds no socket of
// its own; callers feed it bytes and drain decoded frames.
type Framer struct {
	st       state
	data     []byte
	checksum byte
	hi       byte

	pendingEscape bool

	log *logrus.Entry
}

// NewFramer returns a framer in WaitForStart. log may be nil; when set,
// frame-rejection events are logged under the "[RSP]" tag.
func NewFramer(log *logrus.Entry) *Framer {
	return &Framer{st: stateWaitForStart, log: log}
}

// Feed processes one input byte. It returns (data, true, nil) when a frame
// completes validly, (nil, false, nil) when more bytes are needed, and
// (nil, false, err) when the frame's checksum failed to match — the caller
// is expected to send a NAK and keep feeding bytes for the retry.
func (f *Framer) Feed(b byte) (data []byte, complete bool, err error) {
	switch f.st {
	case stateWaitForStart:
		if b == startByte {
			f.data = f.data[:0]
			f.checksum = 0
			f.pendingEscape = false
			f.st = stateReadBody
		}
		return nil, false, nil

	case stateReadBody:
		if f.pendingEscape {
			f.pendingEscape = false
			f.checksum += b
			f.data = append(f.data, b^escapeXOR)
			return nil, false, nil
		}
		if b == endByte {
			f.st = stateReadChecksumHi
			return nil, false, nil
		}
		if b == escapeByte {
			f.checksum += b
			f.pendingEscape = true
			return nil, false, nil
		}
		f.checksum += b
		f.data = append(f.data, b)
		return nil, false, nil

	case stateReadChecksumHi:
		hi, ok := hexDigit(b)
		if !ok {
			f.st = stateWaitForStart
			if f.log != nil {
				f.log.Warnf("[RSP] invalid checksum hi digit %q", b)
			}
			return nil, false, fmt.Errorf("rsp: %w: invalid checksum hi digit %q", osderr.ErrFrameCorrupt, b)
		}
		f.hi = hi
		f.st = stateReadChecksumLo
		return nil, false, nil

	case stateReadChecksumLo:
		lo, ok := hexDigit(b)
		f.st = stateWaitForStart
		if !ok {
			if f.log != nil {
				f.log.Warnf("[RSP] invalid checksum lo digit %q", b)
			}
			return nil, false, fmt.Errorf("rsp: %w: invalid checksum lo digit %q", osderr.ErrFrameCorrupt, b)
		}
		want := f.hi<<4 | lo
		if want != f.checksum {
			if f.log != nil {
				f.log.Warnf("[RSP] checksum mismatch, got %02x want %02x", f.checksum, want)
			}
			return nil, false, fmt.Errorf("rsp: %w: checksum mismatch, got %02x want %02x", osderr.ErrFrameCorrupt, f.checksum, want)
		}
		out := make([]byte, len(f.data))
		copy(out, f.data)
		return out, true, nil

	default:
		f.st = stateWaitForStart
		return nil, false, fmt.Errorf("rsp: %w: framer in unknown state", osderr.ErrFailure)
	}
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}

// Encode wraps data into a complete RSP frame: '$' + (escaped) data + '#' +
// two lowercase checksum hex digits. Only '#', '$' and '}' require escaping
// on output.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, startByte)
	var checksum byte
	for _, b := range data {
		switch b {
		case '#', '$', escapeByte:
			out = append(out, escapeByte)
			checksum += escapeByte
			esc := b ^ escapeXOR
			out = append(out, esc)
			checksum += esc
		default:
			out = append(out, b)
			checksum += b
		}
	}
	out = append(out, endByte)
	out = append(out, lowerHex(checksum>>4), lowerHex(checksum&0xF))
	return out
}

func lowerHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}
