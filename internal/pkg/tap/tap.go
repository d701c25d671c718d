// Package tap reads Q.931 messages out of packet captures. It understands
// Linux LAPD captures of a D channel and H.323 signalling carried in TPKT
// over TCP.
package tap

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"sort"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/lapd"
	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// DefaultPort is the H.225 call signalling port.
const DefaultPort = 1720

const (
	protocolQ931 = 0x08
	tpktVersion  = 0x03
	tpktHeadLen  = 4
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

var ErrUnsupportedLinkType = errors.New("tap: unsupported link type")

// Direction tells where the frames of a capture come from.
type Direction int

const (
	// DirectionAuto takes the direction from the capture itself.
	DirectionAuto Direction = iota
	// DirectionNet marks every frame as sent by the network side.
	DirectionNet
	// DirectionCPE marks every frame as sent by the user side.
	DirectionCPE
)

// ParseDirection resolves "auto", "net" or "cpe".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "auto":
		return DirectionAuto, nil
	case "net", "network":
		return DirectionNet, nil
	case "cpe", "user":
		return DirectionCPE, nil
	}
	return DirectionAuto, errors.Errorf("tap: unknown direction %q", s)
}

// Frame is one Q.931 message seen on the tap.
type Frame struct {
	Data      []byte
	TEI       uint8
	FromNet   bool
	Timestamp time.Time
}

// Options controls how a capture is read.
type Options struct {
	Direction Direction
	// Port is the TCP port carrying TPKT, DefaultPort when zero. In auto
	// mode segments sent from this port are taken as network side.
	Port uint16
}

// Stats counts what a reader saw.
type Stats struct {
	Packets int
	Frames  int
	Skipped int
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Reader yields Q.931 frames from a pcap or pcapng stream.
type Reader struct {
	source   packetSource
	linkType layers.LinkType
	opts     Options
	closer   io.Closer
	pending  []Frame
	stats    Stats
}

// Open opens a capture file.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open capture")
	}
	r, err := NewReader(f, opts)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	r.closer = f
	return r, nil
}

// NewReader detects the capture format of in and reads its header.
func NewReader(in io.Reader, opts Options) (*Reader, error) {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	br := bufio.NewReader(in)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read capture header")
	}

	r := &Reader{opts: opts}
	if string(magic) == string(pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open pcapng")
		}
		r.source, r.linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open pcap")
		}
		r.source, r.linkType = pr, pr.LinkType()
	}

	switch r.linkType {
	case lapd.LinkTypeLinuxLAPD, layers.LinkTypeEthernet, layers.LinkTypeLinuxSLL, layers.LinkTypeRaw:
	default:
		return nil, errors.Wrapf(ErrUnsupportedLinkType, "%d", r.linkType)
	}
	return r, nil
}

// LinkType returns the link type of the capture.
func (r *Reader) LinkType() layers.LinkType { return r.linkType }

func (r *Reader) Stats() Stats { return r.stats }

// Close closes the underlying file when the reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next Q.931 frame. Packets carrying no Q.931 message
// are skipped. It returns io.EOF at the end of the capture.
func (r *Reader) Next() (Frame, error) {
	for len(r.pending) == 0 {
		data, ci, err := r.source.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, errors.Wrap(err, "failed to read packet")
		}
		r.stats.Packets++
		frames := r.decode(data, ci.Timestamp)
		if len(frames) == 0 {
			r.stats.Skipped++
			continue
		}
		r.pending = frames
	}
	f := r.pending[0]
	r.pending = r.pending[1:]
	r.stats.Frames++
	return f, nil
}

func (r *Reader) decode(data []byte, ts time.Time) []Frame {
	if r.linkType == lapd.LinkTypeLinuxLAPD {
		return r.decodeLAPD(data, ts)
	}
	return r.decodeTCP(data, ts)
}

func (r *Reader) decodeLAPD(data []byte, ts time.Time) []Frame {
	lf, err := lapd.Decode(data)
	if err != nil {
		logger.Debug("Skipping LAPD record", "error", err)
		return nil
	}
	if lf.SAPI != lapd.SAPICallControl || len(lf.Payload) == 0 || lf.Payload[0] != protocolQ931 {
		return nil
	}
	return []Frame{{
		Data:      append([]byte(nil), lf.Payload...),
		TEI:       lf.TEI,
		FromNet:   r.direction(lf.FromNet),
		Timestamp: ts,
	}}
}

func (r *Reader) decodeTCP(data []byte, ts time.Time) []Frame {
	packet := gopacket.NewPacket(data, r.linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	port := layers.TCPPort(r.opts.Port)
	if tcp.SrcPort != port && tcp.DstPort != port {
		return nil
	}
	fromNet := r.direction(tcp.SrcPort == port)

	var frames []Frame
	for _, payload := range splitTPKT(tcp.Payload) {
		if len(payload) == 0 || payload[0] != protocolQ931 {
			continue
		}
		frames = append(frames, Frame{
			Data:      append([]byte(nil), payload...),
			FromNet:   fromNet,
			Timestamp: ts,
		})
	}
	return frames
}

func (r *Reader) direction(auto bool) bool {
	switch r.opts.Direction {
	case DirectionNet:
		return true
	case DirectionCPE:
		return false
	}
	return auto
}

// splitTPKT returns the payloads of the complete TPKT packets in data. A
// trailing partial packet is dropped.
func splitTPKT(data []byte) [][]byte {
	var out [][]byte
	for len(data) >= tpktHeadLen {
		if data[0] != tpktVersion {
			break
		}
		n := int(binary.BigEndian.Uint16(data[2:]))
		if n < tpktHeadLen || n > len(data) {
			break
		}
		out = append(out, data[tpktHeadLen:n])
		data = data[n:]
	}
	return out
}

// ReadAll reads every frame of a capture file.
func ReadAll(ctx context.Context, path string, opts Options) ([]Frame, error) {
	r, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var frames []Frame
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	st := r.Stats()
	logger.Info("Read capture", "file", path, "packets", st.Packets, "frames", st.Frames, "skipped", st.Skipped)
	return frames, nil
}

// Merge interleaves frame sets by timestamp. Frames with equal timestamps
// keep the order of the sets.
func Merge(sets ...[]Frame) []Frame {
	var out []Frame
	for _, s := range sets {
		out = append(out, s...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
