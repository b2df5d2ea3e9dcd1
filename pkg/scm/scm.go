// Package scm implements the CL-SCM client layer: subnet identification and
// CPU start/stop through a System Control Module's SYSRST register.
package scm

import (
	"encoding/binary"

	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
)

// SubnetInfo is the result of GetSubnetInfo.
type SubnetInfo struct {
	VendorID  uint16
	DeviceID  uint16
	MaxPktLen uint16
}

// GetSubnetInfo reads VENDOR_ID, DEVICE_ID and MAX_PKT_LEN from the subnet's
// SCM, always at local address 0.
func GetSubnetInfo(c *hostmod.Client, subnet uint16) (SubnetInfo, error) {
	scmAddr := packet.SCMDIAddr(subnet)
	var info SubnetInfo
	var buf [2]byte

	if err := c.RegRead(buf[:], scmAddr, packet.RegSCMVendorID, packet.RegSize16, 0); err != nil {
		return info, err
	}
	info.VendorID = binary.LittleEndian.Uint16(buf[:])

	if err := c.RegRead(buf[:], scmAddr, packet.RegSCMDeviceID, packet.RegSize16, 0); err != nil {
		return info, err
	}
	info.DeviceID = binary.LittleEndian.Uint16(buf[:])

	if err := c.RegRead(buf[:], scmAddr, packet.RegSCMMaxPktLen, packet.RegSize16, 0); err != nil {
		return info, err
	}
	info.MaxPktLen = binary.LittleEndian.Uint16(buf[:])

	if c.Log() != nil {
		c.Log().Infof("[SCM] subnet %d: vendor=0x%04x device=0x%04x max_pkt_len=%d",
			subnet, info.VendorID, info.DeviceID, info.MaxPktLen)
	}
	return info, nil
}

// CpusStart clears the CPU-stop bit of the subnet's SYSRST register,
// read-modify-write.
func CpusStart(c *hostmod.Client, subnet uint16) error {
	return setSysRstBit(c, subnet, false)
}

// CpusStop sets the CPU-stop bit of the subnet's SYSRST register,
// read-modify-write.
func CpusStop(c *hostmod.Client, subnet uint16) error {
	return setSysRstBit(c, subnet, true)
}

func setSysRstBit(c *hostmod.Client, subnet uint16, set bool) error {
	scmAddr := packet.SCMDIAddr(subnet)
	var buf [2]byte
	if err := c.RegRead(buf[:], scmAddr, packet.RegSCMSysRst, packet.RegSize16, 0); err != nil {
		return err
	}
	val := binary.LittleEndian.Uint16(buf[:])
	if set {
		val |= 1 << packet.SysRstCPUStopBit
	} else {
		val &^= 1 << packet.SysRstCPUStopBit
	}
	binary.LittleEndian.PutUint16(buf[:], val)
	if c.Log() != nil {
		c.Log().Infof("[SCM] subnet %d: setting SYSRST CPU-stop bit to %v", subnet, set)
	}
	return c.RegWrite(buf[:], scmAddr, packet.RegSCMSysRst, packet.RegSize16, 0)
}
