package isdn

import (
	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/pkg/errors"
)

// reassembly collects the segments of one message.
type reassembly struct {
	callRef   uint32
	initiator bool
	tei       uint8
	remaining int
	buf       []byte
	t314      protoTimer
}

// getMsg decodes data, reassembling segmented messages. It returns nil
// while a reassembly is in progress or when data is dropped.
func (c *Controller) getMsg(data []byte, tei uint8) *q931.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, segData, err := q931.Decode(&c.pd, data, c.cfg.AllowSegmentation)
	if err != nil {
		if errors.Is(err, q931.ErrSegmentDropped) {
			c.log.Debug("Dropping segment, segmentation disabled")
			c.metrics.segment("dropped")
			return nil
		}
		c.log.Warn("Failed to decode message", "tei", tei, "error", err)
		c.metrics.decodeError()
		return nil
	}
	if msg.Type != q931.MsgSegment {
		if c.segments != nil {
			c.log.Debug("Segment reassembly aborted by message", "type", msg.Type)
			c.metrics.segment("aborted")
			c.segments = nil
		}
		return msg
	}
	return c.processSegment(msg, segData, tei)
}

// processSegment adds one segment. Callers hold c.mu.
func (c *Controller) processSegment(seg *q931.Message, data []byte, tei uint8) *q931.Message {
	ie := seg.GetIE(q931.IESegmented, nil)
	first := ie.Bool("first", false)
	remaining := ie.Int("remaining", -1)
	if seg.Dummy || remaining < 0 {
		c.abortSegments("invalid segment")
		return nil
	}

	if c.segments == nil {
		if !first {
			c.log.Debug("Dropping segment, no reassembly in progress")
			c.metrics.segment("dropped")
			return nil
		}
		t, ok := q931.ParseMsgType(ie.Value("message", ""))
		if !ok {
			c.log.Debug("Dropping segment of unknown message", "message", ie.Value("message", ""))
			c.metrics.segment("dropped")
			return nil
		}
		hdr, err := q931.SegmentHeader(seg, t)
		if err != nil {
			c.log.Debug("Dropping segment", "error", err)
			return nil
		}
		c.segments = &reassembly{
			callRef:   seg.CallRef,
			initiator: seg.Initiator,
			tei:       tei,
			remaining: remaining,
			buf:       append(hdr, data...),
			t314:      newTimer(c.cfg.T314),
		}
		c.segments.t314.Start(c.now())
	} else {
		r := c.segments
		if first || seg.CallRef != r.callRef || seg.Initiator != r.initiator ||
			tei != r.tei || remaining != r.remaining-1 {
			c.abortSegments("out of sequence segment")
			return nil
		}
		r.remaining = remaining
		r.buf = append(r.buf, data...)
	}
	if c.segments.remaining > 0 {
		return nil
	}

	buf := c.segments.buf
	c.segments = nil
	msg, _, err := q931.Decode(&c.pd, buf, false)
	if err != nil {
		c.log.Warn("Failed to decode reassembled message", "error", err)
		c.metrics.decodeError()
		return nil
	}
	c.metrics.segment("reassembled")
	return msg
}

func (c *Controller) abortSegments(reason string) {
	c.log.Debug("Segment reassembly aborted", "reason", reason)
	c.metrics.segment("aborted")
	c.segments = nil
}
