// Package gdbserver implements the GDB-facing TCP listener: one RSP session
// per accepted connection, decoding commands with pkg/rsp and dispatching
// them against CL-CDM/CL-MAM.
package gdbserver

import (
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/osd-toolchain/gdb-bridge/pkg/cdm"
	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/mam"
	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
	"github.com/osd-toolchain/gdb-bridge/pkg/rsp"
)

// gprBase is the CDM CPU register address of general-purpose register 0;
// the RSP 'g'/'G' commands address all 32 GPRs starting here.
const gprBase = 0x400

// gprCount is the number of GPRs the 'g'/'G' bulk commands transfer.
const gprCount = 32

const maxAckRetries = 3

// Server is a GDB RSP TCP listener serving one client at a time.
type Server struct {
	log      *logrus.Entry
	listener net.Listener

	host  *hostmod.Client
	cdm   *cdm.Desc
	mamD  mam.Desc
}

// New builds a server that is not yet listening; Serve binds it to an
// address. cdmDesc and mamDesc must already be resolved (GetDesc / NewDesc)
// before the server is started.
func New(log *logrus.Entry, host *hostmod.Client, cdmDesc *cdm.Desc, mamDesc mam.Desc) *Server {
	return &Server{log: log, host: host, cdm: cdmDesc, mamD: mamDesc}
}

// Serve listens on addr and accepts RSP clients one at a time until the
// listener is closed.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gdbserver: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.log.Infof("[GDB] listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("gdbserver: accept: %w", err)
		}
		s.log.Infof("[GDB] client connected: %s", conn.RemoteAddr())
		s.serveConn(conn)
		s.log.Info("[GDB] client session ended")
	}
}

// Close stops accepting new clients.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	// The upper-window cache only mirrors the module-side register; re-sync
	// it in case another agent moved the window between sessions.
	if err := cdm.RefreshWindow(s.host, s.cdm); err != nil {
		s.log.Warnf("[GDB] could not refresh CDM register window, keeping cached value: %v", err)
	}

	r := newRingReader(conn)
	framer := rsp.NewFramer(s.log)

	for {
		payload, err := s.readOneFrame(r, framer, conn)
		if err != nil {
			if err != io.EOF {
				s.log.Warnf("[GDB] session aborted: %v", err)
			}
			return
		}

		reply, fatal := s.dispatch(payload)
		if reply != nil {
			if err := s.writeReplyWithAck(conn, r, reply); err != nil {
				s.log.Warnf("[GDB] session aborted writing reply: %v", err)
				return
			}
		}
		if fatal != nil {
			s.log.Infof("[GDB] session ending: %v", fatal)
			return
		}
	}
}

// readOneFrame feeds bytes from r into framer until one frame decodes or the
// connection errors. On a corrupted frame it writes a NAK and keeps reading:
// the retry bound lives on the outbound side of the ack handshake, inbound
// corruption simply asks for retransmission until the client gives up.
func (s *Server) readOneFrame(r *ringReader, framer *rsp.Framer, w io.Writer) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data, complete, ferr := framer.Feed(b)
		if ferr != nil {
			if _, werr := w.Write([]byte{rsp.NakByte}); werr != nil {
				return nil, werr
			}
			continue
		}
		if complete {
			if _, werr := w.Write([]byte{rsp.AckByte}); werr != nil {
				return nil, werr
			}
			return data, nil
		}
	}
}

// writeReplyWithAck encodes reply, writes it, and waits for a '+'/'-' ack,
// retransmitting on '-'; the frame is sent at most maxAckRetries times in all.
func (s *Server) writeReplyWithAck(conn net.Conn, r *ringReader, reply []byte) error {
	frame := rsp.Encode(reply)
	for attempt := 0; attempt < maxAckRetries; attempt++ {
		if _, err := conn.Write(frame); err != nil {
			return err
		}
		ack, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch ack {
		case rsp.AckByte:
			return nil
		case rsp.NakByte:
			continue
		default:
			return fmt.Errorf("gdbserver: %w: unexpected ack byte %q", osderr.ErrProtocol, ack)
		}
	}
	return fmt.Errorf("gdbserver: %w: exceeded %d ack retries", osderr.ErrFrameCorrupt, maxAckRetries)
}
