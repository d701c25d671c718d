package q931

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const setupYAML = `type: SETUP
callref: 5
callreflen: 2
initiator: true
ies:
  - type: BearerCaps
    params:
      transfer-cap: speech
      transfer-mode: circuit
      transfer-rate: 64kbit
      layer1-protocol: alaw
  - type: CalledNo
    params:
      type: unknown
      plan: isdn
      number: "5678"
`

func TestDocument_RoundTrip(t *testing.T) {
	var doc Document
	require.NoError(t, yaml.Unmarshal([]byte(setupYAML), &doc))

	msg, err := doc.Message()
	require.NoError(t, err)
	assert.Equal(t, MsgSetup, msg.Type)
	assert.Equal(t, uint32(5), msg.CallRef)
	assert.True(t, msg.Initiator)
	require.Len(t, msg.IEs, 2)
	assert.Equal(t, "5678", msg.GetIEValue(IECalledNo, "number", ""))
	assert.Equal(t, "transfer-cap", msg.IEs[0].Params[0].Name)

	bufs, err := Encode(nil, msg)
	require.NoError(t, err)
	decoded, _, err := Decode(nil, bufs[0], false)
	require.NoError(t, err)

	out, err := yaml.Marshal(NewDocument(decoded))
	require.NoError(t, err)
	assert.Contains(t, string(out), "type: SETUP")
	assert.Contains(t, string(out), "number: \"5678\"")

	var again Document
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, NewDocument(decoded), &again)
}

func TestDocument_UnknownElement(t *testing.T) {
	msg := NewMessage(MsgInfo, false, 1, 1)
	ie := NewIE(IEType(0x0a))
	ie.Add("dump", "0a0102")
	msg.AppendIE(ie)

	doc := NewDocument(msg)
	require.Len(t, doc.IEs, 1)
	assert.Equal(t, "0x000a", doc.IEs[0].Type)

	back, err := doc.Message()
	require.NoError(t, err)
	assert.Equal(t, IEType(0x0a), back.IEs[0].Type)
}

func TestDocument_Errors(t *testing.T) {
	_, err := (&Document{Type: "HELLO"}).Message()
	assert.True(t, errors.Is(err, ErrUnknownMessage))

	_, err = (&Document{Type: "SETUP", CallRefLen: 5}).Message()
	assert.True(t, errors.Is(err, ErrCallRefLen))

	_, err = (&Document{Type: "SETUP", IEs: []IEDocument{{Type: "Nonsense"}}}).Message()
	assert.Error(t, err)

	var doc Document
	err = yaml.Unmarshal([]byte("type: SETUP\nies:\n  - type: Cause\n    params: [a, b]\n"), &doc)
	assert.Error(t, err)
}

func TestDocument_Dummy(t *testing.T) {
	msg, err := (&Document{Type: "restart", Dummy: true}).Message()
	require.NoError(t, err)
	assert.True(t, msg.Dummy)
	assert.Equal(t, MsgRestart, msg.Type)
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"08 02 00 05 05", []byte{0x08, 0x02, 0x00, 0x05, 0x05}, false},
		{"0x0802", []byte{0x08, 0x02}, false},
		{"08:02:80", []byte{0x08, 0x02, 0x80}, false},
		{"080", nil, true},
		{"zz", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
