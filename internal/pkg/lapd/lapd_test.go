package lapd

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	payload := []byte{0x08, 0x02, 0x00, 0x01, 0x05}
	tests := []struct {
		name       string
		header     Header
		fromNet    bool
		unnumbered bool
	}{
		{"network sends", Header{TEI: 0, Network: true, Outgoing: true, NS: 3, NR: 1}, true, false},
		{"network receives", Header{TEI: 64, Network: true, Outgoing: false}, false, false},
		{"user sends", Header{TEI: 64, Network: false, Outgoing: true}, false, false},
		{"user receives", Header{TEI: 0, Network: false, Outgoing: false}, true, false},
		{"broadcast", Header{TEI: BroadcastTEI, Network: true, Outgoing: true}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode(Encode(tt.header, payload))
			require.NoError(t, err)
			assert.Equal(t, uint8(SAPICallControl), frame.SAPI)
			assert.Equal(t, tt.header.TEI, frame.TEI)
			assert.Equal(t, tt.fromNet, frame.FromNet)
			assert.Equal(t, tt.fromNet, frame.Command)
			assert.Equal(t, tt.unnumbered, frame.Unnumbered)
			assert.Equal(t, payload, frame.Payload)
		})
	}
}

func TestEncode_IFrameCounters(t *testing.T) {
	data := Encode(Header{TEI: 1, Network: true, Outgoing: true, NS: 5, NR: 9}, nil)
	require.Len(t, data, sllHeaderLen+4)
	assert.Equal(t, []byte{0x02, 0x03, 0x0a, 0x12}, data[sllHeaderLen:])
}

func TestDecode_Errors(t *testing.T) {
	valid := Encode(Header{TEI: 0, Network: true, Outgoing: true}, []byte{0x08})

	_, err := Decode(valid[:sllHeaderLen+2])
	assert.True(t, errors.Is(err, ErrShortFrame))

	notLAPD := append([]byte(nil), valid...)
	notLAPD[14], notLAPD[15] = 0x08, 0x00
	_, err = Decode(notLAPD)
	assert.True(t, errors.Is(err, ErrNotLAPD))

	badAddr := append([]byte(nil), valid...)
	badAddr[sllHeaderLen] |= 0x01
	_, err = Decode(badAddr)
	assert.True(t, errors.Is(err, ErrNotLAPD))
}

func TestDecode_SupervisoryFrame(t *testing.T) {
	data := Encode(Header{TEI: BroadcastTEI, Network: true, Outgoing: true}, nil)
	// RR supervisory control field
	data[sllHeaderLen+2] = 0x01
	data = append(data, 0x02)

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, frame.Unnumbered)
	assert.Nil(t, frame.Payload)
}
