package transport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// ZMQDealer is the production Endpoint: a ZeroMQ DEALER socket connected to
// the Host Controller's ROUTER-style frontend. Accepts both "inproc://..."
// and "tcp://host:port" endpoint URLs.
type ZMQDealer struct {
	sock zmq4.Socket
}

// NewZMQDealer creates a disconnected dealer socket.
func NewZMQDealer() *ZMQDealer {
	return &ZMQDealer{sock: zmq4.NewDealer(context.Background())}
}

func (d *ZMQDealer) Dial(addr string) error {
	if err := d.sock.Dial(addr); err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return nil
}

func (d *ZMQDealer) Send(frame []byte) error {
	return d.sock.Send(zmq4.NewMsg(frame))
}

func (d *ZMQDealer) Recv() ([]byte, error) {
	msg, err := d.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func (d *ZMQDealer) Close() error {
	return d.sock.Close()
}
