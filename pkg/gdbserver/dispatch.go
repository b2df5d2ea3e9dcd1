package gdbserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/osd-toolchain/gdb-bridge/pkg/cdm"
	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/mam"
	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
	"github.com/osd-toolchain/gdb-bridge/pkg/rsp"
)

// dispatch decodes one RSP command payload and returns its reply. A non-nil
// fatal error means the session itself must be torn down (WrongModule,
// Protocol); anything else is surfaced to the client as an "Exx" reply.
func (s *Server) dispatch(payload []byte) (reply []byte, fatal error) {
	cmd := string(payload)
	if cmd == "" {
		return []byte{}, nil
	}

	switch {
	case cmd == "?":
		return []byte("S05"), nil
	case cmd == "g":
		return s.handleReadAllRegs()
	case strings.HasPrefix(cmd, "G"):
		return s.handleWriteAllRegs(cmd[1:])
	case strings.HasPrefix(cmd, "p"):
		return s.handleReadReg(cmd[1:])
	case strings.HasPrefix(cmd, "P"):
		return s.handleWriteReg(cmd[1:])
	case strings.HasPrefix(cmd, "m"):
		return s.handleReadMem(cmd[1:])
	case strings.HasPrefix(cmd, "M"):
		return s.handleWriteMem(cmd[1:])
	case cmd == "c" || cmd == "s":
		return s.handleContinueOrStep(cmd)
	case cmd == "qSupported" || strings.HasPrefix(cmd, "qSupported:"):
		return []byte("PacketSize=1000"), nil
	case cmd == "qAttached":
		return []byte("1"), nil
	case cmd == "D":
		return []byte("OK"), fatalDetach
	case cmd == "k":
		return nil, fatalDetach
	case strings.HasPrefix(cmd, "Z0,") || strings.HasPrefix(cmd, "z0,"):
		return []byte("E01"), nil
	default:
		return []byte{}, nil
	}
}

// fatalDetach is a sentinel used to unwind serveConn on D/k without logging
// it as an actual error.
var fatalDetach = fmt.Errorf("gdbserver: client detached")

func (s *Server) handleReadAllRegs() ([]byte, error) {
	var out strings.Builder
	for i := 0; i < gprCount; i++ {
		val, err := cdm.CPURegRead(s.host, s.cdm, uint16(gprBase+i), 0)
		if err != nil {
			return replyOrFatal(err)
		}
		buf := make([]byte, int(s.cdm.CoreDataBits)/8)
		for j := range buf {
			buf[j] = byte(val >> (8 * j))
		}
		out.WriteString(rsp.MemToHex(buf))
	}
	return []byte(out.String()), nil
}

func (s *Server) handleWriteAllRegs(hex string) ([]byte, error) {
	width := int(s.cdm.CoreDataBits) / 4
	if len(hex) != width*gprCount {
		return errReply(fmt.Errorf("gdbserver: %w: G payload length %d, want %d", osderr.ErrProtocol, len(hex), width*gprCount)), nil
	}
	for i := 0; i < gprCount; i++ {
		slice := hex[i*width : (i+1)*width]
		mem, err := rsp.HexToMem(slice)
		if err != nil {
			return replyOrFatal(err)
		}
		var val uint64
		for j, b := range mem {
			val |= uint64(b) << (8 * j)
		}
		if err := cdm.CPURegWrite(s.host, s.cdm, val, uint16(gprBase+i), 0); err != nil {
			return replyOrFatal(err)
		}
	}
	return []byte("OK"), nil
}

func (s *Server) handleReadReg(hexAddr string) ([]byte, error) {
	n, err := strconv.ParseUint(hexAddr, 16, 16)
	if err != nil {
		return errReply(fmt.Errorf("gdbserver: %w: bad register number %q", osderr.ErrProtocol, hexAddr)), nil
	}
	val, err := cdm.CPURegRead(s.host, s.cdm, uint16(gprBase+n), 0)
	if err != nil {
		return replyOrFatal(err)
	}
	buf := make([]byte, int(s.cdm.CoreDataBits)/8)
	for j := range buf {
		buf[j] = byte(val >> (8 * j))
	}
	return []byte(rsp.MemToHex(buf)), nil
}

func (s *Server) handleWriteReg(body string) ([]byte, error) {
	parts := strings.SplitN(body, "=", 2)
	if len(parts) != 2 {
		return errReply(fmt.Errorf("gdbserver: %w: malformed P command", osderr.ErrProtocol)), nil
	}
	n, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return errReply(fmt.Errorf("gdbserver: %w: bad register number %q", osderr.ErrProtocol, parts[0])), nil
	}
	mem, err := rsp.HexToMem(parts[1])
	if err != nil {
		return replyOrFatal(err)
	}
	var val uint64
	for j, b := range mem {
		val |= uint64(b) << (8 * j)
	}
	if err := cdm.CPURegWrite(s.host, s.cdm, val, uint16(gprBase+n), 0); err != nil {
		return replyOrFatal(err)
	}
	return []byte("OK"), nil
}

func (s *Server) handleReadMem(body string) ([]byte, error) {
	addr, length, err := parseAddrLen(body)
	if err != nil {
		return replyOrFatal(err)
	}
	out := make([]byte, length)
	if err := mam.Read(s.host, s.mamD, addr, length, out); err != nil {
		return replyOrFatal(err)
	}
	return []byte(rsp.MemToHex(out)), nil
}

func (s *Server) handleWriteMem(body string) ([]byte, error) {
	header, data, ok := strings.Cut(body, ":")
	if !ok {
		return errReply(fmt.Errorf("gdbserver: %w: malformed M command", osderr.ErrProtocol)), nil
	}
	addr, length, err := parseAddrLen(header)
	if err != nil {
		return replyOrFatal(err)
	}
	mem, err := rsp.HexToMem(data)
	if err != nil {
		return replyOrFatal(err)
	}
	if err := mam.Write(s.host, s.mamD, addr, length, mem); err != nil {
		return replyOrFatal(err)
	}
	return []byte("OK"), nil
}

func parseAddrLen(body string) (addr uint32, length int, err error) {
	addrStr, lenStr, ok := strings.Cut(body, ",")
	if !ok {
		return 0, 0, fmt.Errorf("gdbserver: %w: malformed ADDR,LEN", osderr.ErrProtocol)
	}
	a, err := strconv.ParseUint(addrStr, 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("gdbserver: %w: bad address %q", osderr.ErrProtocol, addrStr)
	}
	l, err := strconv.ParseUint(lenStr, 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("gdbserver: %w: bad length %q", osderr.ErrProtocol, lenStr)
	}
	return uint32(a), int(l), nil
}

// handleContinueOrStep fires the CDM run-control bit and immediately
// fabricates a stop reply, matching the bridge's synchronous per-command
// model: there is no separate "notify on stop" channel in this bridge, so a
// continue/step is treated as a single-step turnaround rather than truly
// releasing the target asynchronously.
func (s *Server) handleContinueOrStep(cmd string) ([]byte, error) {
	var bit uint16
	if cmd == "c" {
		bit = 0 // run
	} else {
		bit = 1 // step
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], bit)
	if err := hostmodRegWriteCoreCtrl(s.host, s.cdm, buf[:]); err != nil {
		return replyOrFatal(err)
	}
	return []byte("S05"), nil
}

func hostmodRegWriteCoreCtrl(c *hostmod.Client, desc *cdm.Desc, val []byte) error {
	return c.RegWrite(val, desc.DIAddr, packet.RegCDMCoreCtrl, packet.RegSize16, 0)
}

func errReply(err error) []byte {
	code := osderr.CodeFor(err)
	if code == osderr.CodeTimeout {
		return []byte("E01")
	}
	return []byte(fmt.Sprintf("E%02x", uint8(code)))
}

// replyOrFatal turns a CL-CDM/CL-MAM error into an "Exx" reply, additionally
// marking the session as fatal when the error is WrongModule or Protocol,
// per the failure-semantics policy.
func replyOrFatal(err error) ([]byte, error) {
	if errors.Is(err, osderr.ErrWrongModule) || errors.Is(err, osderr.ErrProtocol) {
		return errReply(err), err
	}
	return errReply(err), nil
}
