// Package osderr collects the sentinel error values shared across the
// bridge, along with the small numeric code used only when an error has to
// be serialized into an RSP "Exx" reply.
package osderr

import "errors"

var (
	ErrFailure          = errors.New("unexpected internal state")
	ErrConnectionFailed = errors.New("could not reach or bind endpoint, or handshake was rejected")
	ErrNotConnected     = errors.New("operation attempted on a closed channel")
	ErrTimedOut         = errors.New("no response within deadline")
	ErrWrongModule      = errors.New("described module type does not match the expected client layer")
	ErrFrameCorrupt     = errors.New("RSP checksum mismatch or malformed escape")
	ErrProtocol         = errors.New("DI packet with unexpected type or payload size")
	ErrIllegalArgument  = errors.New("error in function arguments")
)

// Code is the stable small error code reported to an RSP client as "Exx".
type Code uint8

const (
	CodeGeneral    Code = 0x00
	CodeTimeout    Code = 0x01
	CodeProtocol   Code = 0x02
	CodeNotConn    Code = 0x03
	CodeWrongMod   Code = 0x04
	CodeBadRequest Code = 0x05
)

// CodeFor maps an error to the stable code used in an "Exx" RSP reply.
// Unrecognized errors map to CodeGeneral.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return CodeGeneral
	case errors.Is(err, ErrTimedOut):
		return CodeTimeout
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	case errors.Is(err, ErrNotConnected):
		return CodeNotConn
	case errors.Is(err, ErrWrongModule):
		return CodeWrongMod
	case errors.Is(err, ErrIllegalArgument):
		return CodeBadRequest
	default:
		return CodeGeneral
	}
}
