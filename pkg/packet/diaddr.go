package packet

// DI addresses are 16-bit values split into a subnet and a local part:
// diaddr = (subnet << LocalBits) | local. LocalBits is pinned at 7, giving
// 512 subnets of 128 local addresses each.
const LocalBits = 7
const LocalMask = (1 << LocalBits) - 1

// LocalSCM is the well-known local address of a subnet's System Control
// Module; it is always zero.
const LocalSCM = 0

// ControllerDIAddr is the Host Controller's own reserved DI address, used
// as the destination of the address-assignment handshake.
const ControllerDIAddr = 0x0000

// BuildDIAddr combines a subnet id and a local address into a DI address.
func BuildDIAddr(subnet, local uint16) uint16 {
	return (subnet << LocalBits) | (local & LocalMask)
}

// SplitDIAddr decomposes a DI address into its subnet and local parts.
func SplitDIAddr(diaddr uint16) (subnet, local uint16) {
	return diaddr >> LocalBits, diaddr & LocalMask
}

// SCMDIAddr returns the DI address of the SCM for the given subnet.
func SCMDIAddr(subnet uint16) uint16 {
	return BuildDIAddr(subnet, LocalSCM)
}

// Module type identifiers, as returned by RegModType.
const (
	ModTypeCDM uint16 = 1
	ModTypeMAM uint16 = 2
	ModTypeSCM uint16 = 3
)

// Module description registers, present on every module.
const (
	RegModVendor  uint16 = 0x0
	RegModType    uint16 = 0x1
	RegModVersion uint16 = 0x2
)

// CDM-specific registers.
const (
	RegCDMCoreCtrl      uint16 = 0x10
	RegCDMCoreRegUpper  uint16 = 0x11
	RegCDMCoreDataWidth uint16 = 0x12
)

// CDM CPU register window: the physical DI register address for a 16-bit
// RSP-level register address is 0x8000 | (reg_addr & 0x7FFF); bit 15 of
// reg_addr selects the upper window, cached in CoreRegUpper.
const CDMRegWindowBase uint16 = 0x8000
const CDMRegWindowMask uint16 = 0x7FFF

// CDMUpperBit extracts the upper-window select bit of an RSP-level CPU
// register address.
func CDMUpperBit(regAddr uint16) uint16 {
	return regAddr >> 15
}

// CDMPhysicalRegAddr computes the DI register address for a CPU register.
func CDMPhysicalRegAddr(regAddr uint16) uint16 {
	return CDMRegWindowBase | (regAddr & CDMRegWindowMask)
}

// MAM-specific registers.
const (
	RegMAMAddrWidth   uint16 = 0x10
	RegMAMDataWidth   uint16 = 0x11
	RegMAMBurstWindow uint16 = 0x12
)

// SCM-specific registers.
const (
	RegSCMVendorID  uint16 = 0x0
	RegSCMDeviceID  uint16 = 0x1
	RegSCMMaxPktLen uint16 = 0x2
	RegSCMSysRst    uint16 = 0x3
)

// SysRstCPUStopBit is the bit number inside SYSRST that halts the subnet's
// CPUs when set.
const SysRstCPUStopBit = 1
