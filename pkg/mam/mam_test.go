package mam

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/osderr"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
	"github.com/osd-toolchain/gdb-bridge/pkg/transport"
)

func newConnectedPair(t *testing.T) (*hostmod.Client, transport.Endpoint) {
	t.Helper()
	clientEP, ctrlEP := transport.NewMemEndpointPair()
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	done := make(chan struct{})
	go func() {
		frame, err := ctrlEP.Recv()
		require.NoError(t, err)
		_, err = packet.FromWire(frame)
		require.NoError(t, err)
		res := packet.New(1)
		require.NoError(t, res.SetHeader(0, 0, packet.TypeRes, packet.SubModMgmtDIAddrRes))
		res.Payload()[0] = 0x0081
		require.NoError(t, ctrlEP.Send(res.ToWire()))
		close(done)
	}()

	c := hostmod.New(logrus.NewEntry(l), clientEP, nil, nil)
	require.NoError(t, c.Connect("inproc://test"))
	<-done
	return c, ctrlEP
}

func TestReadSingleChunk(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	defer c.Disconnect()
	desc := NewDesc(0x0002, 64)

	go func() {
		frame, err := ctrlEP.Recv()
		require.NoError(t, err)
		req, err := packet.FromWire(frame)
		require.NoError(t, err)
		assert.Equal(t, packet.SubMAMBurstRead, req.GetTypeSub())
		assert.Equal(t, uint16(2), req.Payload()[2]) // length in words for a 4-byte read

		res := packet.New(2)
		require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
		res.Payload()[0] = 0xbeef
		res.Payload()[1] = 0xdead
		require.NoError(t, ctrlEP.Send(res.ToWire()))
	}()

	out := make([]byte, 4)
	require.NoError(t, Read(c, desc, 0x1000, 4, out))
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, out)
}

func TestReadChunkedAcrossMaxPktLen(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	defer c.Disconnect()
	desc := NewDesc(0x0002, 4) // force two chunks for an 8-byte read

	go func() {
		for i := 0; i < 2; i++ {
			frame, err := ctrlEP.Recv()
			require.NoError(t, err)
			req, err := packet.FromWire(frame)
			require.NoError(t, err)
			res := packet.New(2)
			require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
			res.Payload()[0] = uint16(i)
			res.Payload()[1] = uint16(i + 100)
			require.NoError(t, ctrlEP.Send(res.ToWire()))
		}
	}()

	out := make([]byte, 8)
	require.NoError(t, Read(c, desc, 0x2000, 8, out))
	assert.Len(t, out, 8)
}

func TestReadOddLength(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	defer c.Disconnect()
	desc := NewDesc(0x0002, 64)

	go func() {
		frame, err := ctrlEP.Recv()
		require.NoError(t, err)
		req, err := packet.FromWire(frame)
		require.NoError(t, err)
		assert.Equal(t, packet.SubMAMBurstRead, req.GetTypeSub())
		assert.Equal(t, uint16(1), req.Payload()[2]) // rounded up to one whole word

		res := packet.New(1)
		require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
		res.Payload()[0] = 0x1234
		require.NoError(t, ctrlEP.Send(res.ToWire()))
	}()

	out := make([]byte, 1)
	require.NoError(t, Read(c, desc, 0x1000, 1, out))
	assert.Equal(t, []byte{0x34}, out)
}

func TestWriteOddLength(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	defer c.Disconnect()
	desc := NewDesc(0x0002, 64)

	go func() {
		// The odd trailing byte triggers a read-modify-write: first a
		// burst read of the overlapping word, preserving its other byte...
		frame, err := ctrlEP.Recv()
		require.NoError(t, err)
		req, err := packet.FromWire(frame)
		require.NoError(t, err)
		require.Equal(t, packet.SubMAMBurstRead, req.GetTypeSub())
		res := packet.New(1)
		require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
		res.Payload()[0] = 0xff99 // existing byte at the untouched half is 0xff
		require.NoError(t, ctrlEP.Send(res.ToWire()))

		// ...then the burst write, merging the new byte with the
		// preserved one.
		frame, err = ctrlEP.Recv()
		require.NoError(t, err)
		req, err = packet.FromWire(frame)
		require.NoError(t, err)
		require.Equal(t, packet.SubMAMBurstWrite, req.GetTypeSub())
		assert.Equal(t, uint16(1), req.Payload()[2])
		assert.Equal(t, uint16(0xff_ab), req.Payload()[3])

		res = packet.New(0)
		require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
		require.NoError(t, ctrlEP.Send(res.ToWire()))
	}()

	require.NoError(t, Write(c, desc, 0x1000, 1, []byte{0xab}))
}

func TestWriteFailureAbortsRemainingChunks(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	_ = ctrlEP
	defer c.Disconnect()
	c.ReceiveTimeout = 0 // force immediate timeout on the unanswered chunk below
	desc := NewDesc(0x0002, 2) // 1-word chunks, several chunks for 6 bytes

	// No controller goroutine answers any chunk: the first write chunk
	// should time out and the burst must abort without sending further
	// chunks.
	in := []byte{1, 2, 3, 4, 5, 6}
	err := Write(c, desc, 0x3000, 6, in)
	assert.ErrorIs(t, err, osderr.ErrTimedOut)
}
