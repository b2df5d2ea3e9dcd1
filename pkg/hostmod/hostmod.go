// Package hostmod implements the client side of the Host Controller
// connection: address assignment, register request/response over a single
// outstanding-request slot, and the asynchronous event queue.
package hostmod

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
	"github.com/osd-toolchain/gdb-bridge/pkg/transport"
)

// Flags modify how a register request waits for its response.
type Flags uint8

const (
	// Blocking makes reg_read/reg_write wait forever instead of timing out
	// after one ReceiveTimeout.
	Blocking Flags = 1 << iota
)

// EventCallback is invoked from the inbound worker goroutine whenever an
// EVENT packet arrives, in addition to it being pushed onto the event queue.
type EventCallback func(arg any, pkt *packet.Packet)

// ModuleDesc is the result of DescribeModule: the three vendor/type/version
// registers every DI module exposes at its base address.
type ModuleDesc struct {
	DIAddr  uint16
	Vendor  uint16
	Type    uint16
	Version uint16
}

const (
	defaultReceiveTimeout = 500 * time.Millisecond
	eventQueueDepth       = 64
)

// Client is the Host Module client: one DI address, one Endpoint, one
// outstanding register request at a time.
type Client struct {
	log      *logrus.Entry
	endpoint transport.Endpoint

	eventCB    EventCallback
	eventCBArg any

	mu          sync.Mutex
	connected   bool
	ownDIAddr   uint16
	stopWorker  chan struct{}
	workerDone  chan struct{}

	pendingMu sync.Mutex
	pending   chan *packet.Packet // set for the duration of one outstanding request, nil otherwise

	events chan *packet.Packet

	// ReceiveTimeout bounds a non-blocking reg_read/reg_write. Exported so
	// tests can shrink it.
	ReceiveTimeout time.Duration
}

// New creates a disconnected client.
func New(log *logrus.Entry, endpoint transport.Endpoint, eventCB EventCallback, eventCBArg any) *Client {
	return &Client{
		log:            log,
		endpoint:       endpoint,
		eventCB:        eventCB,
		eventCBArg:     eventCBArg,
		events:         make(chan *packet.Packet, eventQueueDepth),
		ReceiveTimeout: defaultReceiveTimeout,
	}
}

// Connect opens the transport, runs the address-assignment handshake and
// starts the inbound dispatch worker.
func (c *Client) Connect(addr string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.endpoint.Dial(addr); err != nil {
		return fmt.Errorf("hostmod: %w: %v", osderr.ErrConnectionFailed, err)
	}

	req := packet.New(0)
	if err := req.SetHeader(packet.ControllerDIAddr, packet.ControllerDIAddr, packet.TypePlain, packet.SubModMgmtDIAddrRequest); err != nil {
		_ = c.endpoint.Close()
		return fmt.Errorf("hostmod: %w", err)
	}
	if err := c.endpoint.Send(req.ToWire()); err != nil {
		_ = c.endpoint.Close()
		return fmt.Errorf("hostmod: %w: %v", osderr.ErrConnectionFailed, err)
	}

	frame, err := c.endpoint.Recv()
	if err != nil {
		_ = c.endpoint.Close()
		return fmt.Errorf("hostmod: %w: %v", osderr.ErrConnectionFailed, err)
	}
	res, err := packet.FromWire(frame)
	if err != nil {
		_ = c.endpoint.Close()
		return fmt.Errorf("hostmod: %w: %v", osderr.ErrConnectionFailed, err)
	}
	if res.GetType() != packet.TypeRes || res.GetTypeSub() != packet.SubModMgmtDIAddrRes || len(res.Payload()) < 1 {
		_ = c.endpoint.Close()
		return fmt.Errorf("hostmod: %w: unexpected address-assignment response", osderr.ErrConnectionFailed)
	}

	c.mu.Lock()
	c.ownDIAddr = res.Payload()[0]
	c.connected = true
	c.stopWorker = make(chan struct{})
	c.workerDone = make(chan struct{})
	c.mu.Unlock()

	go c.worker()

	if c.log != nil {
		c.log.Infof("[HOSTMOD] connected, own_diaddr=0x%04x", c.ownDIAddr)
	}
	return nil
}

// Disconnect stops the worker and closes the transport. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	stop := c.stopWorker
	done := c.workerDone
	c.mu.Unlock()

	close(stop)
	_ = c.endpoint.Close()
	<-done
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetDIAddr returns the DI address assigned by the controller during Connect.
func (c *Client) GetDIAddr() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownDIAddr
}

// Log returns the client's logger, shared by the CL-CDM/CL-MAM/CL-SCM
// layers built on top of it so they tag their own log lines consistently
// with the connection they're using. May be nil.
func (c *Client) Log() *logrus.Entry {
	return c.log
}

func (c *Client) worker() {
	defer close(c.workerDone)
	for {
		select {
		case <-c.stopWorker:
			return
		default:
		}
		frame, err := c.endpoint.Recv()
		if err != nil {
			if c.log != nil {
				c.log.Debugf("[HOSTMOD] worker recv stopped: %v", err)
			}
			return
		}
		pkt, err := packet.FromWire(frame)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("[HOSTMOD] dropping malformed frame: %v", err)
			}
			continue
		}
		switch pkt.GetType() {
		case packet.TypeRes:
			c.pendingMu.Lock()
			slot := c.pending
			c.pendingMu.Unlock()
			if slot != nil {
				select {
				case slot <- pkt:
				default:
					if c.log != nil {
						c.log.Warn("[HOSTMOD] RES packet discarded, outstanding request's slot already full")
					}
				}
			} else if c.log != nil {
				c.log.Warn("[HOSTMOD] late RES packet discarded, no outstanding request")
			}
		case packet.TypeEvent:
			select {
			case c.events <- pkt:
			default:
				if c.log != nil {
					c.log.Warn("[HOSTMOD] event queue full, dropping event packet")
				}
			}
			if c.eventCB != nil {
				c.eventCB(c.eventCBArg, pkt)
			}
		default:
			if c.log != nil {
				c.log.Warnf("[HOSTMOD] unexpected packet type %s on inbound worker", pkt.GetType())
			}
		}
	}
}

// EventSend transmits an outbound event packet fire-and-forget.
func (c *Client) EventSend(pkt *packet.Packet) error {
	if !c.IsConnected() {
		return osderr.ErrNotConnected
	}
	return c.endpoint.Send(pkt.ToWire())
}

// EventReceive blocks until an event packet is available or the client
// disconnects.
func (c *Client) EventReceive() (*packet.Packet, error) {
	select {
	case pkt := <-c.events:
		return pkt, nil
	case <-c.workerDone:
		return nil, osderr.ErrNotConnected
	}
}

// SendRequest sends an arbitrary REG or PLAIN request packet and waits for
// its RES, honoring Blocking. CL-MAM uses this directly for burst requests,
// which share the register-request slot since the worker demultiplexes
// purely on TYPE.
func (c *Client) SendRequest(req *packet.Packet, flags Flags) (*packet.Packet, error) {
	return c.request(req, flags)
}

// request sends one REG or PLAIN packet and waits for its RES, honoring Blocking. Each
// call gets its own response slot, cleared on timeout/disconnect so a
// late-arriving RES for a request this call gave up on can never be handed
// to a later, unrelated call.
func (c *Client) request(req *packet.Packet, flags Flags) (*packet.Packet, error) {
	if !c.IsConnected() {
		return nil, osderr.ErrNotConnected
	}

	slot := make(chan *packet.Packet, 1)
	c.pendingMu.Lock()
	c.pending = slot
	c.pendingMu.Unlock()
	clearSlot := func() {
		c.pendingMu.Lock()
		if c.pending == slot {
			c.pending = nil
		}
		c.pendingMu.Unlock()
	}

	if err := c.endpoint.Send(req.ToWire()); err != nil {
		clearSlot()
		return nil, fmt.Errorf("hostmod: %w: %v", osderr.ErrFailure, err)
	}

	if flags&Blocking != 0 {
		select {
		case res := <-slot:
			return res, nil
		case <-c.workerDone:
			clearSlot()
			return nil, osderr.ErrNotConnected
		}
	}
	select {
	case res := <-slot:
		return res, nil
	case <-time.After(c.ReceiveTimeout):
		clearSlot()
		if c.log != nil {
			c.log.Warn("[HOSTMOD] request timed out, clearing response slot")
		}
		return nil, osderr.ErrTimedOut
	case <-c.workerDone:
		clearSlot()
		return nil, osderr.ErrNotConnected
	}
}

// RegRead issues a REG read of the given width and copies the response
// payload into out, converting the wire's big-endian words to little-endian
// bytes. The byte order of out is little-endian on every host; it does not
// follow the host's native byte order.
func (c *Client) RegRead(out []byte, diaddr uint16, regAddr uint16, size packet.RegSizeBit, flags Flags) error {
	sub, err := packet.SubForReadSize(size)
	if err != nil {
		return fmt.Errorf("hostmod: %w", osderr.ErrIllegalArgument)
	}
	req := packet.New(1)
	if err := req.SetHeader(diaddr, c.GetDIAddr(), packet.TypeReg, sub); err != nil {
		return err
	}
	req.Payload()[0] = regAddr

	res, err := c.request(req, flags)
	if err != nil {
		return err
	}
	words := res.Payload()
	need := int(size) / 16
	if len(words) < need {
		return fmt.Errorf("hostmod: %w: short register response", osderr.ErrProtocol)
	}
	if len(out) < int(size)/8 {
		return fmt.Errorf("hostmod: %w: output buffer too small", osderr.ErrIllegalArgument)
	}
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], words[i])
	}
	return nil
}

// RegWrite issues a REG write of the given width; val must hold size/8 bytes
// in little-endian byte order, whatever the host's native byte order.
func (c *Client) RegWrite(val []byte, diaddr uint16, regAddr uint16, size packet.RegSizeBit, flags Flags) error {
	sub, err := packet.SubForWriteSize(size)
	if err != nil {
		return fmt.Errorf("hostmod: %w", osderr.ErrIllegalArgument)
	}
	need := int(size) / 16
	if len(val) < int(size)/8 {
		return fmt.Errorf("hostmod: %w: input buffer too small", osderr.ErrIllegalArgument)
	}
	req := packet.New(1 + need)
	if err := req.SetHeader(diaddr, c.GetDIAddr(), packet.TypeReg, sub); err != nil {
		return err
	}
	payload := req.Payload()
	payload[0] = regAddr
	for i := 0; i < need; i++ {
		payload[1+i] = binary.LittleEndian.Uint16(val[2*i:])
	}

	_, err = c.request(req, flags)
	return err
}

// DescribeModule issues three REG reads (vendor, type, version) against a
// module's base address.
func (c *Client) DescribeModule(diAddr uint16) (ModuleDesc, error) {
	var desc ModuleDesc
	desc.DIAddr = diAddr

	var buf [2]byte
	if err := c.RegRead(buf[:], diAddr, packet.RegModVendor, packet.RegSize16, 0); err != nil {
		return desc, err
	}
	desc.Vendor = binary.LittleEndian.Uint16(buf[:])

	if err := c.RegRead(buf[:], diAddr, packet.RegModType, packet.RegSize16, 0); err != nil {
		return desc, err
	}
	desc.Type = binary.LittleEndian.Uint16(buf[:])

	if err := c.RegRead(buf[:], diAddr, packet.RegModVersion, packet.RegSize16, 0); err != nil {
		return desc, err
	}
	desc.Version = binary.LittleEndian.Uint16(buf[:])

	return desc, nil
}
