package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZeroFilled(t *testing.T) {
	p := New(2)
	require.Len(t, p.Words, HeaderWords+2)
	for _, w := range p.Words {
		assert.Equal(t, uint16(0), w)
	}
}

func TestSetHeaderRoundtrip(t *testing.T) {
	p := New(1)
	err := p.SetHeader(0x1234, 0x5678, TypeEvent, 0x5)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1234, p.GetDest())
	assert.EqualValues(t, 0x5678, p.GetSrc())
	assert.Equal(t, TypeEvent, p.GetType())
	assert.EqualValues(t, 0x5, p.GetTypeSub())
}

func TestSetHeaderOverRangeRejected(t *testing.T) {
	p := New(0)
	err := p.SetHeader(0, 0, Type(4), 0) // TYPE only has 2 bits
	assert.Error(t, err)
	err = p.SetHeader(0, 0, TypeReg, TypeSub(16)) // TYPE_SUB only has 4 bits
	assert.Error(t, err)
}

func TestDataSizeWordsIsHeaderPlusPayload(t *testing.T) {
	p := New(5)
	assert.Equal(t, 8, p.DataSizeWords())
}

func TestWireRoundtrip(t *testing.T) {
	p := New(2)
	require.NoError(t, p.SetHeader(1, 2, TypeReg, SubReadReg32))
	p.Payload()[0] = 0xabcd
	p.Payload()[1] = 0xdead

	wire := p.ToWire()
	// Big-endian on the wire.
	assert.Equal(t, byte(0x00), wire[0])
	assert.Equal(t, byte(0x01), wire[1])

	back, err := FromWire(wire)
	require.NoError(t, err)
	assert.Equal(t, p.Words, back.Words)
}

func TestFromWireRejectsShortOrOddFrames(t *testing.T) {
	_, err := FromWire(nil)
	assert.Error(t, err)
	_, err = FromWire([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
	_, err = FromWire([]byte{0x00, 0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestToStringIncludesHeaderFields(t *testing.T) {
	p := New(1)
	require.NoError(t, p.SetHeader(9, 4, TypeRes, 0))
	s := p.ToString()
	assert.Contains(t, s, "DEST = 9")
	assert.Contains(t, s, "SRC = 4")
	assert.Contains(t, s, "RES")
}

func TestDIAddrSplitBuild(t *testing.T) {
	addr := BuildDIAddr(3, 5)
	subnet, local := SplitDIAddr(addr)
	assert.EqualValues(t, 3, subnet)
	assert.EqualValues(t, 5, local)
	assert.Equal(t, addr, SCMDIAddr(3)&^uint16(LocalMask)|5)
}

func TestCDMPhysicalRegAddr(t *testing.T) {
	assert.EqualValues(t, 0, CDMUpperBit(0x7007))
	assert.EqualValues(t, 1, CDMUpperBit(0xf007))
	assert.EqualValues(t, 0x8000|0x7007, CDMPhysicalRegAddr(0xf007))
}
