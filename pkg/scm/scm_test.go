package scm

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
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

func serveReads(t *testing.T, ctrlEP transport.Endpoint, answers map[uint16]uint16, n int) {
	t.Helper()
	go func() {
		for i := 0; i < n; i++ {
			frame, err := ctrlEP.Recv()
			if err != nil {
				return
			}
			req, err := packet.FromWire(frame)
			require.NoError(t, err)
			regAddr := req.Payload()[0]
			res := packet.New(1)
			require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
			res.Payload()[0] = answers[regAddr]
			require.NoError(t, ctrlEP.Send(res.ToWire()))
		}
	}()
}

func TestGetSubnetInfo(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	defer c.Disconnect()

	serveReads(t, ctrlEP, map[uint16]uint16{
		packet.RegSCMVendorID:  0x00aa,
		packet.RegSCMDeviceID:  0x00bb,
		packet.RegSCMMaxPktLen: 256,
	}, 3)

	info, err := GetSubnetInfo(c, 0)
	require.NoError(t, err)
	assert.Equal(t, SubnetInfo{VendorID: 0x00aa, DeviceID: 0x00bb, MaxPktLen: 256}, info)
}

func TestCpusStopSetsBit(t *testing.T) {
	c, ctrlEP := newConnectedPair(t)
	defer c.Disconnect()

	go func() {
		frame, err := ctrlEP.Recv()
		require.NoError(t, err)
		req, err := packet.FromWire(frame)
		require.NoError(t, err)
		res := packet.New(1)
		require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
		res.Payload()[0] = 0
		require.NoError(t, ctrlEP.Send(res.ToWire()))

		frame, err = ctrlEP.Recv()
		require.NoError(t, err)
		req, err = packet.FromWire(frame)
		require.NoError(t, err)
		assert.Equal(t, uint16(1<<packet.SysRstCPUStopBit), req.Payload()[1])
		res = packet.New(0)
		require.NoError(t, res.SetHeader(req.GetSrc(), req.GetDest(), packet.TypeRes, req.GetTypeSub()))
		require.NoError(t, ctrlEP.Send(res.ToWire()))
	}()

	require.NoError(t, CpusStop(c, 0))
}
