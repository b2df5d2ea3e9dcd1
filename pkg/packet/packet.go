// Package packet implements the Debug Interconnect (DI) packet format used
// between the Host Module client and the Host Controller: a header triplet
// of 16-bit words (DEST, SRC, FLAGS) followed by a payload of 16-bit words,
// big-endian on the wire.
package packet

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// HeaderWords is the number of fixed header words every packet carries.
const HeaderWords = 3

// Type is the packet TYPE field, carried in the top 2 bits of FLAGS.
type Type uint8

const (
	TypeReg   Type = 0 // register read/write request
	TypePlain Type = 1 // plain data (module management, MAM bursts, ...)
	TypeEvent Type = 2 // asynchronous event (stall, trace, ...)
	TypeRes   Type = 3 // response to a REG or PLAIN request
)

func (t Type) String() string {
	switch t {
	case TypeReg:
		return "REG"
	case TypePlain:
		return "PLAIN"
	case TypeEvent:
		return "EVENT"
	case TypeRes:
		return "RES"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// TypeSub carries the sub-type of a packet, interpretation depends on Type.
type TypeSub uint8

// Sub-types for TypeReg packets: which register width is being accessed.
const (
	SubReadReg16   TypeSub = 0
	SubReadReg32   TypeSub = 1
	SubReadReg64   TypeSub = 2
	SubReadReg128  TypeSub = 3
	SubWriteReg16  TypeSub = 4
	SubWriteReg32  TypeSub = 5
	SubWriteReg64  TypeSub = 6
	SubWriteReg128 TypeSub = 7
)

// Sub-types for TypePlain packets. SubModMgmtDIAddrRes is the sub-type of
// the TypeRes reply to a SubModMgmtDIAddrRequest.
const (
	SubModMgmtDIAddrRequest TypeSub = 0
	SubModMgmtDIAddrRes     TypeSub = 1
	SubMAMBurstRead         TypeSub = 2
	SubMAMBurstWrite        TypeSub = 3
)

const (
	flagsTypeShift    = 14
	flagsTypeMask     = 0x3
	flagsTypeSubShift = 10
	flagsTypeSubMask  = 0xF
)

// RegSizeBit is a supported register access width, in bits.
type RegSizeBit int

const (
	RegSize16  RegSizeBit = 16
	RegSize32  RegSizeBit = 32
	RegSize64  RegSizeBit = 64
	RegSize128 RegSizeBit = 128
)

// SubForReadSize maps a register width to its REG-read sub-type.
func SubForReadSize(size RegSizeBit) (TypeSub, error) {
	switch size {
	case RegSize16:
		return SubReadReg16, nil
	case RegSize32:
		return SubReadReg32, nil
	case RegSize64:
		return SubReadReg64, nil
	case RegSize128:
		return SubReadReg128, nil
	default:
		return 0, fmt.Errorf("packet: unsupported register size %d bit", size)
	}
}

// SubForWriteSize maps a register width to its REG-write sub-type.
func SubForWriteSize(size RegSizeBit) (TypeSub, error) {
	switch size {
	case RegSize16:
		return SubWriteReg16, nil
	case RegSize32:
		return SubWriteReg32, nil
	case RegSize64:
		return SubWriteReg64, nil
	case RegSize128:
		return SubWriteReg128, nil
	default:
		return 0, fmt.Errorf("packet: unsupported register size %d bit", size)
	}
}

// Packet is a Debug Interconnect packet: the header triplet plus payload,
// held as a flat slice of 16-bit words. Packets are owned exclusively by
// their producer until handed to the transport or a client-layer decoder.
type Packet struct {
	Words []uint16
}

// New allocates a zero-filled packet with the given number of payload words.
func New(payloadWords int) *Packet {
	return &Packet{Words: make([]uint16, HeaderWords+payloadWords)}
}

// SetHeader packs DEST, SRC, TYPE and TYPE_SUB into the header words.
// Each value must fit its field width, otherwise this is an invariant
// violation and SetHeader returns an error rather than silently truncating.
func (p *Packet) SetHeader(dest, src uint16, typ Type, typeSub TypeSub) error {
	if len(p.Words) < HeaderWords {
		return fmt.Errorf("packet: too small for header, have %d words", len(p.Words))
	}
	if uint8(typ)&^flagsTypeMask != 0 {
		return fmt.Errorf("packet: type %d does not fit its field", typ)
	}
	if uint8(typeSub)&^flagsTypeSubMask != 0 {
		return fmt.Errorf("packet: type_sub %d does not fit its field", typeSub)
	}
	p.Words[0] = dest
	p.Words[1] = src
	p.Words[2] = (uint16(typ)&flagsTypeMask)<<flagsTypeShift |
		(uint16(typeSub)&flagsTypeSubMask)<<flagsTypeSubShift
	return nil
}

// GetDest returns the DEST header field.
func (p *Packet) GetDest() uint16 { return p.Words[0] }

// GetSrc returns the SRC header field.
func (p *Packet) GetSrc() uint16 { return p.Words[1] }

// GetType returns the TYPE field of FLAGS.
func (p *Packet) GetType() Type {
	return Type((p.Words[2] >> flagsTypeShift) & flagsTypeMask)
}

// GetTypeSub returns the TYPE_SUB field of FLAGS.
func (p *Packet) GetTypeSub() TypeSub {
	return TypeSub((p.Words[2] >> flagsTypeSubShift) & flagsTypeSubMask)
}

// Payload returns the payload words, i.e. everything after the header.
func (p *Packet) Payload() []uint16 {
	return p.Words[HeaderWords:]
}

// DataSizeWords is three (the header) plus the payload word count.
func (p *Packet) DataSizeWords() int {
	return len(p.Words)
}

// ToWire serializes the packet to big-endian bytes, two per word.
func (p *Packet) ToWire() []byte {
	out := make([]byte, 2*len(p.Words))
	for i, w := range p.Words {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return out
}

// FromWire constructs a packet from a contiguous byte frame. The frame must
// have a positive, even length of at least 2*HeaderWords bytes.
func FromWire(b []byte) (*Packet, error) {
	if len(b) == 0 || len(b)%2 != 0 {
		return nil, fmt.Errorf("packet: frame length %d is not a positive even number of bytes", len(b))
	}
	if len(b) < 2*HeaderWords {
		return nil, fmt.Errorf("packet: frame length %d is smaller than the %d header bytes", len(b), 2*HeaderWords)
	}
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return &Packet{Words: words}, nil
}

// ToString renders a human-readable multi-line dump for logging, listing
// the header fields followed by every data word (including the header).
func (p *Packet) ToString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Packet of %d data words:\n", p.DataSizeWords())
	if len(p.Words) >= HeaderWords {
		fmt.Fprintf(&b, "DEST = %d, SRC = %d, TYPE = %d (%s), TYPE_SUB = %d\n",
			p.GetDest(), p.GetSrc(), p.GetType(), p.GetType(), p.GetTypeSub())
	}
	b.WriteString("Packet data (including header):\n")
	for _, w := range p.Words {
		fmt.Fprintf(&b, "  0x%04x\n", w)
	}
	return b.String()
}
