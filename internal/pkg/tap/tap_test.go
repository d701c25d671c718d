package tap

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/lapd"
	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type record struct {
	data []byte
	ts   time.Time
}

func writeCapture(t *testing.T, linkType layers.LinkType, records []record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, linkType))
	for _, rec := range records {
		ci := gopacket.CaptureInfo{Timestamp: rec.ts, CaptureLength: len(rec.data), Length: len(rec.data)}
		require.NoError(t, w.WritePacket(ci, rec.data))
	}
	return path
}

func encodeMsg(t *testing.T, msg *q931.Message) []byte {
	t.Helper()
	bufs, err := q931.Encode(nil, msg)
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	return bufs[0]
}

func tpkt(payloads ...[]byte) []byte {
	var out []byte
	for _, p := range payloads {
		head := []byte{tpktVersion, 0, 0, 0}
		binary.BigEndian.PutUint16(head[2:], uint16(len(p)+tpktHeadLen))
		out = append(out, head...)
		out = append(out, p...)
	}
	return out
}

func tcpPacket(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func readAll(t *testing.T, path string, opts Options) []Frame {
	t.Helper()
	frames, err := ReadAll(context.Background(), path, opts)
	require.NoError(t, err)
	return frames
}

func TestReader_LAPD(t *testing.T) {
	setup := encodeMsg(t, q931.NewMessage(q931.MsgSetup, true, 1, 2))
	connect := encodeMsg(t, q931.NewMessage(q931.MsgConnect, false, 1, 2))

	teiMgmt := lapd.Encode(lapd.Header{TEI: lapd.BroadcastTEI, Network: true, Outgoing: true}, []byte{0x0f, 0x00, 0x01, 0x02})
	teiMgmt[16] = 63 << 2

	path := writeCapture(t, lapd.LinkTypeLinuxLAPD, []record{
		{lapd.Encode(lapd.Header{TEI: 0, Network: true, Outgoing: true}, setup), baseTime},
		{teiMgmt, baseTime.Add(time.Millisecond)},
		{lapd.Encode(lapd.Header{TEI: 0, Network: true, Outgoing: false}, connect), baseTime.Add(2 * time.Millisecond)},
		{[]byte{0x00, 0x01}, baseTime.Add(3 * time.Millisecond)},
	})

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, lapd.LinkTypeLinuxLAPD, r.LinkType())

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, setup, f.Data)
	assert.True(t, f.FromNet)
	assert.Equal(t, baseTime, f.Timestamp.UTC())

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, connect, f.Data)
	assert.False(t, f.FromNet)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, Stats{Packets: 4, Frames: 2, Skipped: 2}, r.Stats())
}

func TestReader_DirectionOverride(t *testing.T) {
	setup := encodeMsg(t, q931.NewMessage(q931.MsgSetup, true, 1, 2))
	path := writeCapture(t, lapd.LinkTypeLinuxLAPD, []record{
		{lapd.Encode(lapd.Header{TEI: 0, Network: true, Outgoing: true}, setup), baseTime},
	})

	frames := readAll(t, path, Options{Direction: DirectionCPE})
	require.Len(t, frames, 1)
	assert.False(t, frames[0].FromNet)
}

func TestReader_TPKT(t *testing.T) {
	setup := encodeMsg(t, q931.NewMessage(q931.MsgSetup, true, 7, 2))
	proceeding := encodeMsg(t, q931.NewMessage(q931.MsgProceeding, false, 7, 2))
	alerting := encodeMsg(t, q931.NewMessage(q931.MsgAlerting, false, 7, 2))

	path := writeCapture(t, layers.LinkTypeEthernet, []record{
		{tcpPacket(t, 40000, DefaultPort, tpkt(setup)), baseTime},
		{tcpPacket(t, DefaultPort, 40000, tpkt(proceeding, alerting)), baseTime.Add(time.Millisecond)},
		{tcpPacket(t, 40000, 5060, tpkt(setup)), baseTime.Add(2 * time.Millisecond)},
		{tcpPacket(t, DefaultPort, 40000, tpkt([]byte{0x03, 0x01})), baseTime.Add(3 * time.Millisecond)},
	})

	frames := readAll(t, path, Options{})
	require.Len(t, frames, 3)
	assert.Equal(t, setup, frames[0].Data)
	assert.False(t, frames[0].FromNet)
	assert.Equal(t, proceeding, frames[1].Data)
	assert.Equal(t, alerting, frames[2].Data)
	assert.True(t, frames[2].FromNet)
}

func TestNewReader_Errors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.pcap"), Options{})
	assert.Error(t, err)

	path := writeCapture(t, layers.LinkTypeIEEE802_11, nil)
	_, err = Open(path, Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedLinkType))
}

func TestSplitTPKT(t *testing.T) {
	assert.Equal(t, [][]byte{{0x08, 0x01}, {0x08}}, splitTPKT(tpkt([]byte{0x08, 0x01}, []byte{0x08})))

	partial := tpkt([]byte{0x08, 0x01, 0x02})
	assert.Empty(t, splitTPKT(partial[:5]))
	assert.Empty(t, splitTPKT([]byte{0x02, 0x00, 0x00, 0x05, 0x08}))
}

func TestMerge(t *testing.T) {
	netSide := []Frame{
		{Data: []byte{1}, Timestamp: baseTime},
		{Data: []byte{3}, Timestamp: baseTime.Add(2 * time.Second)},
	}
	cpeSide := []Frame{
		{Data: []byte{2}, Timestamp: baseTime.Add(time.Second)},
		{Data: []byte{4}, Timestamp: baseTime.Add(2 * time.Second)},
	}

	merged := Merge(netSide, cpeSide)
	require.Len(t, merged, 4)
	for i, f := range merged {
		assert.Equal(t, byte(i+1), f.Data[0])
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"": DirectionAuto, "net": DirectionNet, "cpe": DirectionCPE, "user": DirectionCPE} {
		got, err := ParseDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}
