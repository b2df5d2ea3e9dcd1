// Package cdm implements the CL-CDM client layer: CPU register access
// through a Core Debug Module's windowed 16-bit register space, and
// decoding of the stall events a CDM raises.
package cdm

import (
	"encoding/binary"
	"fmt"

	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
)

// Desc caches a CDM's DI address and core registers so that
// repeated CPU register accesses avoid re-reading them.
type Desc struct {
	DIAddr       uint16
	CoreCtrl     uint16
	CoreRegUpper uint16
	CoreDataBits packet.RegSizeBit
}

// Event is the decoded payload of a CDM EVENT packet.
type Event struct {
	Stall bool
}

// GetDesc issues a module-describe, rejects anything that isn't a CDM, and
// caches the three CDM-specific registers.
func GetDesc(c *hostmod.Client, diAddr uint16) (*Desc, error) {
	mod, err := c.DescribeModule(diAddr)
	if err != nil {
		return nil, err
	}
	if mod.Type != packet.ModTypeCDM {
		if c.Log() != nil {
			c.Log().Errorf("[CDM] module at 0x%04x reports type %d, not CDM", diAddr, mod.Type)
		}
		return nil, fmt.Errorf("cdm: %w: module at 0x%04x reports type %d", osderr.ErrWrongModule, diAddr, mod.Type)
	}

	desc := &Desc{DIAddr: diAddr}

	var buf [2]byte
	if err := c.RegRead(buf[:], diAddr, packet.RegCDMCoreCtrl, packet.RegSize16, 0); err != nil {
		return nil, err
	}
	desc.CoreCtrl = binary.LittleEndian.Uint16(buf[:])

	if err := c.RegRead(buf[:], diAddr, packet.RegCDMCoreRegUpper, packet.RegSize16, 0); err != nil {
		return nil, err
	}
	desc.CoreRegUpper = binary.LittleEndian.Uint16(buf[:])

	if err := c.RegRead(buf[:], diAddr, packet.RegCDMCoreDataWidth, packet.RegSize16, 0); err != nil {
		return nil, err
	}
	width := binary.LittleEndian.Uint16(buf[:])
	size, err := regSizeFromBits(width)
	if err != nil {
		return nil, err
	}
	desc.CoreDataBits = size

	if c.Log() != nil {
		c.Log().Infof("[CDM] described CDM at 0x%04x: core_ctrl=0x%04x, core_reg_upper=0x%04x, core_data_bits=%d",
			diAddr, desc.CoreCtrl, desc.CoreRegUpper, desc.CoreDataBits)
	}
	return desc, nil
}

func regSizeFromBits(bits uint16) (packet.RegSizeBit, error) {
	switch bits {
	case 16:
		return packet.RegSize16, nil
	case 32:
		return packet.RegSize32, nil
	case 64:
		return packet.RegSize64, nil
	case 128:
		return packet.RegSize128, nil
	default:
		return 0, fmt.Errorf("cdm: %w: unsupported core_data_width %d", osderr.ErrProtocol, bits)
	}
}

// RefreshWindow re-reads the upper-window register into desc. The cached
// window only exists host-side; an external agent writing the UPPER register
// behind our back silently invalidates it, so callers re-sync at the start
// of each debug session.
func RefreshWindow(c *hostmod.Client, desc *Desc) error {
	var buf [2]byte
	if err := c.RegRead(buf[:], desc.DIAddr, packet.RegCDMCoreRegUpper, packet.RegSize16, 0); err != nil {
		return err
	}
	desc.CoreRegUpper = binary.LittleEndian.Uint16(buf[:])
	return nil
}

// selectWindow switches the CDM's upper-window register when the requested
// CPU register address needs a different window than the cached one,
// updating desc in place.
func selectWindow(c *hostmod.Client, desc *Desc, regAddr uint16, flags hostmod.Flags) error {
	upper := packet.CDMUpperBit(regAddr)
	if upper == desc.CoreRegUpper {
		return nil
	}
	if c.Log() != nil {
		c.Log().Debugf("[CDM] switching CDM 0x%04x register window: %d -> %d", desc.DIAddr, desc.CoreRegUpper, upper)
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], upper)
	if err := c.RegWrite(buf[:], desc.DIAddr, packet.RegCDMCoreRegUpper, packet.RegSize16, flags); err != nil {
		return err
	}
	desc.CoreRegUpper = upper
	return nil
}

// CPURegRead reads a CPU register through the windowed register space,
// switching the upper window first if the requested address falls in the
// other half.
func CPURegRead(c *hostmod.Client, desc *Desc, regAddr uint16, flags hostmod.Flags) (uint64, error) {
	if err := selectWindow(c, desc, regAddr, flags); err != nil {
		return 0, err
	}
	phys := packet.CDMPhysicalRegAddr(regAddr)
	buf := make([]byte, desc.CoreDataBits/8)
	if err := c.RegRead(buf, desc.DIAddr, phys, desc.CoreDataBits, flags); err != nil {
		return 0, err
	}
	return decodeLE(buf), nil
}

// CPURegWrite writes a CPU register through the windowed register space.
func CPURegWrite(c *hostmod.Client, desc *Desc, val uint64, regAddr uint16, flags hostmod.Flags) error {
	if err := selectWindow(c, desc, regAddr, flags); err != nil {
		return err
	}
	phys := packet.CDMPhysicalRegAddr(regAddr)
	buf := make([]byte, desc.CoreDataBits/8)
	encodeLE(buf, val)
	return c.RegWrite(buf, desc.DIAddr, phys, desc.CoreDataBits, flags)
}

// HandleEvent decodes an inbound CDM EVENT packet. Bit 0 of the payload is
// the stall flag.
func HandleEvent(pkt *packet.Packet) (Event, error) {
	if pkt.GetType() != packet.TypeEvent {
		return Event{}, fmt.Errorf("cdm: %w: not an EVENT packet", osderr.ErrProtocol)
	}
	if len(pkt.Payload()) < 1 {
		return Event{}, fmt.Errorf("cdm: %w: empty EVENT payload", osderr.ErrProtocol)
	}
	return Event{Stall: pkt.Payload()[0]&1 != 0}, nil
}

func decodeLE(buf []byte) uint64 {
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << (8 * i)
	}
	return v
}

func encodeLE(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
}
