// Package mam implements the CL-MAM client layer: atomic burst reads and
// writes of target memory through a Memory Access Module, chunked to the
// subnet's maximum DI packet length.
package mam

import (
	"encoding/binary"
	"fmt"

	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
)

// defaultChunkBytes is used when the subnet's MaxPktLen is unknown.
const defaultChunkBytes = 64

// Desc identifies the MAM module and the chunk size bursts are split into.
type Desc struct {
	DIAddr     uint16
	ChunkBytes int
}

// NewDesc builds a Desc, falling back to defaultChunkBytes when maxPktLen is
// zero (unknown).
func NewDesc(diAddr uint16, maxPktLen int) Desc {
	chunk := maxPktLen
	if chunk <= 0 {
		chunk = defaultChunkBytes
	}
	return Desc{DIAddr: diAddr, ChunkBytes: chunk}
}

// headerWords is [addr_hi, addr_lo, length] preceding the data words of a
// burst request.
const headerWords = 3

// Read transfers length bytes starting at addr into out. The whole burst is
// atomic: if any chunk fails, the call returns an error and out is left
// untouched beyond what the caller already had (partial chunks are
// accumulated in a scratch buffer and only copied into out on full success).
func Read(c *hostmod.Client, desc Desc, addr uint32, length int, out []byte) error {
	if len(out) < length {
		return fmt.Errorf("mam: %w: output buffer too small", osderr.ErrIllegalArgument)
	}
	if c.Log() != nil {
		c.Log().Debugf("[MAM] burst read: module 0x%04x addr 0x%08x length %d", desc.DIAddr, addr, length)
	}
	scratch := make([]byte, length)
	offset := 0
	for offset < length {
		n := length - offset
		if n > desc.ChunkBytes {
			n = desc.ChunkBytes
		}
		if err := readChunk(c, desc, addr+uint32(offset), n, scratch[offset:offset+n]); err != nil {
			if c.Log() != nil {
				c.Log().Warnf("[MAM] burst read aborted at offset %d: %v", offset, err)
			}
			return err
		}
		offset += n
	}
	copy(out, scratch)
	return nil
}

// Write transfers length bytes from in to addr, atomically across chunks.
func Write(c *hostmod.Client, desc Desc, addr uint32, length int, in []byte) error {
	if len(in) < length {
		return fmt.Errorf("mam: %w: input buffer too small", osderr.ErrIllegalArgument)
	}
	if c.Log() != nil {
		c.Log().Debugf("[MAM] burst write: module 0x%04x addr 0x%08x length %d", desc.DIAddr, addr, length)
	}
	offset := 0
	for offset < length {
		n := length - offset
		if n > desc.ChunkBytes {
			n = desc.ChunkBytes
		}
		if err := writeChunk(c, desc, addr+uint32(offset), in[offset:offset+n]); err != nil {
			if c.Log() != nil {
				c.Log().Warnf("[MAM] burst write aborted at offset %d: %v", offset, err)
			}
			return err
		}
		offset += n
	}
	return nil
}

// readChunk reads length bytes starting at addr, rounding up to a whole
// trailing word when length is odd: the bus only moves whole 16-bit words,
// so an odd-byte request (a perfectly ordinary single-byte memory examine)
// reads one extra byte and drops it rather than being rejected.
func readChunk(c *hostmod.Client, desc Desc, addr uint32, length int, out []byte) error {
	lenWords := (length + 1) / 2

	req := packet.New(headerWords)
	if err := req.SetHeader(desc.DIAddr, c.GetDIAddr(), packet.TypePlain, packet.SubMAMBurstRead); err != nil {
		return err
	}
	payload := req.Payload()
	payload[0] = uint16(addr >> 16)
	payload[1] = uint16(addr)
	payload[2] = uint16(lenWords)

	res, err := request(c, req)
	if err != nil {
		return err
	}
	words := res.Payload()
	if len(words) < lenWords {
		return fmt.Errorf("mam: %w: short burst-read response", osderr.ErrProtocol)
	}
	buf := make([]byte, lenWords*2)
	for i := 0; i < lenWords; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], words[i])
	}
	copy(out, buf[:length])
	return nil
}

// writeChunk writes in to addr. When len(in) is odd, the final byte shares
// its word with a byte the caller didn't supply: that word is first read
// back so the untouched byte is preserved, then written with the new byte
// merged in, rather than rejecting the whole burst.
func writeChunk(c *hostmod.Client, desc Desc, addr uint32, in []byte) error {
	lenWords := (len(in) + 1) / 2
	fullWords := len(in) / 2

	req := packet.New(headerWords + lenWords)
	if err := req.SetHeader(desc.DIAddr, c.GetDIAddr(), packet.TypePlain, packet.SubMAMBurstWrite); err != nil {
		return err
	}
	payload := req.Payload()
	payload[0] = uint16(addr >> 16)
	payload[1] = uint16(addr)
	payload[2] = uint16(lenWords)
	for i := 0; i < fullWords; i++ {
		payload[headerWords+i] = binary.LittleEndian.Uint16(in[2*i:])
	}

	if len(in)%2 != 0 {
		var existing [2]byte
		lastWordAddr := addr + uint32(fullWords*2)
		if err := readChunk(c, desc, lastWordAddr, 2, existing[:]); err != nil {
			return fmt.Errorf("mam: read-modify-write of trailing byte: %w", err)
		}
		merged := [2]byte{in[len(in)-1], existing[1]}
		payload[headerWords+lenWords-1] = binary.LittleEndian.Uint16(merged[:])
	}

	_, err := request(c, req)
	return err
}

// request sends a PLAIN burst packet and waits for its RES the same way a
// register request does, since HostModClient demultiplexes on TYPE alone.
func request(c *hostmod.Client, req *packet.Packet) (*packet.Packet, error) {
	return c.SendRequest(req, 0)
}
