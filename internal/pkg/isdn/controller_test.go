package isdn

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restartMsg(class string, channelID *q931.IE) *q931.Message {
	msg := q931.NewMessage(q931.MsgRestart, true, 0, 2)
	msg.AppendIE(channelID)
	msg.AppendIEValue(q931.IERestart, "class", class)
	return msg
}

func TestController_RestartAllInterfacesWithChannel(t *testing.T) {
	env := newTestEnv(t, testConfig())

	env.receive(t, restartMsg("all-interfaces", priChannel("1")), 0)

	msgs := env.l2.messages(t)
	require.Len(t, msgs, 1)
	st := msgs[0]
	assert.Equal(t, q931.MsgStatus, st.Type)
	assert.Equal(t, "invalid-ie", causeOf(st))
	assert.Equal(t, "79", st.GetIEValue(q931.IECause, "diagnostic", ""))
	assert.Equal(t, "Null", st.GetIEValue(q931.IECallState, "state", ""))
	assert.False(t, st.Initiator)
	assert.Nil(t, lastOf(msgs, q931.MsgRestartAck))
}

func TestController_RestartValidation(t *testing.T) {
	tests := []struct {
		name    string
		class   string
		channel *q931.IE
	}{
		{"channels without channel id", "channels", nil},
		{"interface with two channels", "interface", priChannel("1,2")},
		{"unknown class", "5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			env.receive(t, restartMsg(tt.class, tt.channel), 0)
			st := lastOf(env.l2.messages(t), q931.MsgStatus)
			require.NotNil(t, st)
			assert.Equal(t, "invalid-ie", causeOf(st))
			assert.Equal(t, "79", st.GetIEValue(q931.IECause, "diagnostic", ""))
		})
	}
}

func TestController_RestartChannels(t *testing.T) {
	env := newTestEnv(t, testConfig())
	first := acceptIncoming(t, env, 1, "1")
	second := acceptIncoming(t, env, 2, "2")
	env.l2.messages(t)

	env.receive(t, restartMsg("channels", priChannel("2")), 0)
	ack := lastOf(env.l2.messages(t), q931.MsgRestartAck)
	require.NotNil(t, ack)
	assert.Equal(t, "2", ack.GetIEValue(q931.IEChannelID, "channels", ""))
	assert.Equal(t, "channels", ack.GetIEValue(q931.IERestart, "class", ""))
	assert.Equal(t, uint32(0), ack.CallRef)

	evs := env.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, EventRelease, evs[0].Type)
	assert.Equal(t, second.ID(), evs[0].CallID())
	assert.Equal(t, "resource-unavailable", evs[0].Params.Value("reason", ""))
	assert.False(t, first.Destroyed())
	assert.True(t, second.Destroyed())
}

func TestController_RestartInterface(t *testing.T) {
	env := newTestEnv(t, testConfig())
	onFirstSpan := acceptIncoming(t, env, 1, "2")
	onSecondSpan := acceptIncoming(t, env, 2, "6")
	env.l2.messages(t)

	ch := priChannel("5")
	env.receive(t, restartMsg("interface", ch), 0)
	require.NotNil(t, lastOf(env.l2.messages(t), q931.MsgRestartAck))

	env.drain()
	assert.False(t, onFirstSpan.Destroyed())
	assert.True(t, onSecondSpan.Destroyed())
}

func TestController_RestartAllInterfaces(t *testing.T) {
	env := newTestEnv(t, testConfig())
	acceptIncoming(t, env, 1, "2")
	acceptIncoming(t, env, 2, "6")
	env.l2.messages(t)

	env.receive(t, restartMsg("all-interfaces", nil), 0)
	ack := lastOf(env.l2.messages(t), q931.MsgRestartAck)
	require.NotNil(t, ack)
	assert.Nil(t, ack.GetIE(q931.IEChannelID, nil))

	evs := env.drain()
	assert.Equal(t, []EventType{EventRelease, EventRelease}, eventTypes(evs))
	assert.Empty(t, env.ctrl.Calls())
}

// oversizedSetup returns a SETUP whose elements need three 40 octet
// segments.
func oversizedSetup() *q931.Message {
	msg := q931.NewMessage(q931.MsgSetup, true, 3, 2)
	msg.AppendIE(bearerCaps("circuit"))
	msg.AppendIE(priChannel("1"))
	msg.AppendIE(numberIE(q931.IECalledNo, "5678"))
	for i := 1; i <= 2; i++ {
		msg.AppendIEValue(q931.IEFacility, "data", strings.Repeat(hex.EncodeToString([]byte{byte(i)}), 20))
	}
	return msg
}

func segmentConfig() q931.ParserData {
	pd := q931.DefaultParserData()
	pd.MaxMsgLen = 40
	pd.AllowSegment = true
	return pd
}

func TestController_SegmentReassembly(t *testing.T) {
	cfg := testConfig()
	cfg.AllowSegmentation = true
	metrics := NewMetrics(nil)
	env := newTestEnv(t, cfg, WithMetrics(metrics))

	pd := segmentConfig()
	segs, err := q931.Encode(&pd, oversizedSetup())
	require.NoError(t, err)
	require.Len(t, segs, 3)

	for i, s := range segs {
		assert.Nil(t, env.poll(), "segment %d", i)
		env.ctrl.ReceiveData(s, 0)
		if i < len(segs)-1 {
			assert.True(t, env.ctrl.Status().Reassembling)
		}
	}
	assert.False(t, env.ctrl.Status().Reassembling)

	ev := env.poll()
	require.NotNil(t, ev)
	require.Equal(t, EventNewCall, ev.Type)

	single, err := q931.Encode(nil, oversizedSetup())
	require.NoError(t, err)
	require.Len(t, single, 1)
	ref, _, err := q931.Decode(nil, single[0], false)
	require.NoError(t, err)
	assert.Equal(t, ref.IEs, ev.Message.IEs)
	assert.Equal(t, ref.CallRef, ev.Message.CallRef)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.segments.WithLabelValues("reassembled")))
}

func TestController_SegmentErrors(t *testing.T) {
	pd := segmentConfig()
	segs, err := q931.Encode(&pd, oversizedSetup())
	require.NoError(t, err)
	require.Len(t, segs, 3)

	t.Run("segmentation disabled", func(t *testing.T) {
		metrics := NewMetrics(nil)
		env := newTestEnv(t, testConfig(), WithMetrics(metrics))
		for _, s := range segs {
			env.ctrl.ReceiveData(s, 0)
		}
		assert.Nil(t, env.poll())
		assert.Empty(t, env.ctrl.Calls())
		assert.Equal(t, 3.0, testutil.ToFloat64(metrics.segments.WithLabelValues("dropped")))
	})

	t.Run("out of sequence", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowSegmentation = true
		env := newTestEnv(t, cfg)
		env.ctrl.ReceiveData(segs[0], 0)
		env.ctrl.ReceiveData(segs[2], 0)
		assert.False(t, env.ctrl.Status().Reassembling)
		assert.Nil(t, env.poll())
		assert.Empty(t, env.ctrl.Calls())
	})

	t.Run("T314 expiry", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowSegmentation = true
		env := newTestEnv(t, cfg)
		env.ctrl.ReceiveData(segs[0], 0)
		env.ctrl.ReceiveData(segs[1], 0)
		env.clock.Advance(DefaultT314)
		env.ctrl.TimerTick(env.clock.Now())
		assert.False(t, env.ctrl.Status().Reassembling)

		env.ctrl.ReceiveData(segs[2], 0)
		assert.Nil(t, env.poll())
		assert.Empty(t, env.ctrl.Calls())
	})

	t.Run("other message aborts", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowSegmentation = true
		env := newTestEnv(t, cfg)
		env.ctrl.ReceiveData(segs[0], 0)
		env.receive(t, incomingSetup(9, "2"), 0)
		assert.False(t, env.ctrl.Status().Reassembling)
		ev := env.poll()
		require.NotNil(t, ev)
		assert.Equal(t, uint32(9), ev.Call.CallRef())
	})
}

func TestController_InvalidCallRef(t *testing.T) {
	callState := func(state string) *q931.IE {
		return &q931.IE{Type: q931.IECallState, Params: q931.Params{{Name: "state", Value: state}}}
	}
	tests := []struct {
		name  string
		msg   *q931.Message
		reply q931.MsgType
		cause string
	}{
		{"disconnect", q931.NewMessage(q931.MsgDisconnect, false, 9, 2), q931.MsgRelease, "invalid-callref"},
		{"release", q931.NewMessage(q931.MsgRelease, true, 9, 2), q931.MsgReleaseComplete, "invalid-callref"},
		{"status enquiry", q931.NewMessage(q931.MsgStatusEnquiry, true, 9, 2), q931.MsgStatus, "status-enquiry-rsp"},
		{"status active", withIE(q931.NewMessage(q931.MsgStatus, true, 9, 2), callState("Active")), q931.MsgReleaseComplete, "wrong-state-message"},
		{"status null", withIE(q931.NewMessage(q931.MsgStatus, true, 9, 2), callState("Null")), 0, ""},
		{"release complete", q931.NewMessage(q931.MsgReleaseComplete, true, 9, 2), 0, ""},
		{"resume", q931.NewMessage(q931.MsgResume, true, 9, 2), 0, ""},
		{"setup from responder", withIE(q931.NewMessage(q931.MsgSetup, false, 9, 2), bearerCaps("circuit")), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			env.receive(t, tt.msg, 0)
			msgs := env.l2.messages(t)
			assert.Empty(t, env.ctrl.Calls())
			if tt.reply == 0 {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.reply, msgs[0].Type)
			assert.Equal(t, tt.cause, causeOf(msgs[0]))
			assert.Equal(t, uint32(9), msgs[0].CallRef)
			assert.Equal(t, !tt.msg.Initiator, msgs[0].Initiator)
		})
	}
}

func withIE(msg *q931.Message, ie *q931.IE) *q931.Message {
	msg.AppendIE(ie)
	return msg
}

func TestController_DummyCallRef(t *testing.T) {
	t.Run("not implemented", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.receive(t, q931.NewDummyMessage(q931.MsgStatusEnquiry), 0)
		msgs := env.l2.messages(t)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Dummy)
		assert.Equal(t, q931.MsgStatus, msgs[0].Type)
		assert.Equal(t, "service-not-implemented", causeOf(msgs[0]))
	})

	t.Run("restart allowed by flag", func(t *testing.T) {
		cfg := testConfig()
		cfg.Flags = []string{"allowdummyrestart"}
		env := newTestEnv(t, cfg)
		msg := q931.NewDummyMessage(q931.MsgRestart)
		msg.AppendIEValue(q931.IERestart, "class", "all-interfaces")
		env.receive(t, msg, 0)
		msgs := env.l2.messages(t)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Dummy)
		assert.Equal(t, q931.MsgRestartAck, msgs[0].Type)
	})
}

func TestController_GlobalCallRef(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.receive(t, q931.NewMessage(q931.MsgSetup, true, 0, 2), 0)
	st := lastOf(env.l2.messages(t), q931.MsgStatus)
	require.NotNil(t, st)
	assert.Equal(t, "invalid-callref", causeOf(st))
	assert.Empty(t, env.ctrl.Calls())
}

func TestController_CallRefAllocation(t *testing.T) {
	env := newTestEnv(t, testConfig())

	first := outgoingCall(t, env)
	second := outgoingCall(t, env)
	assert.Equal(t, uint32(1), first.CallRef())
	assert.Equal(t, uint32(2), second.CallRef())

	env.ctrl.mu.Lock()
	env.ctrl.lastCallRef = 0x7fff
	ref, ok := env.ctrl.nextCallRef()
	env.ctrl.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, uint32(3), ref, "wraps past zero and the references in use")
}

func TestController_CallRefLength(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, uint8(2), cfg.callRefLen())
	cfg.Primary = false
	assert.Equal(t, uint8(1), cfg.callRefLen())
	cfg.CallRefLen = 3
	assert.Equal(t, uint8(3), cfg.callRefLen())
}

func TestController_RejectWhenLinkDown(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.l2.autoRestart = true
	env.ctrl.MultipleFrameReleased(0, false, false)

	_, err := env.ctrl.Call(q931.Params{{Name: "called", Value: "200"}})
	assert.True(t, errors.Is(err, ErrCallRejected))

	env.receive(t, incomingSetup(1, "1"), 0)
	assert.Empty(t, env.ctrl.Calls())
	assert.Empty(t, env.l2.frames(), "nothing is sent on a released link")
}

func TestController_Exit(t *testing.T) {
	env := newTestEnv(t, testConfig())
	call := answeredCall(t, env)

	env.ctrl.Exit()
	_, err := env.ctrl.Call(nil)
	assert.True(t, errors.Is(err, ErrCallRejected))

	evs := env.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, "net-out-of-order", evs[0].Params.Value("reason", ""))
	assert.True(t, call.Destroyed())
	assert.Empty(t, env.ctrl.Calls())
}

func TestController_BroadcastSetup(t *testing.T) {
	cfg := testConfig()
	cfg.Primary = false
	env := newTestEnv(t, cfg)

	call := outgoingCall(t, env)
	assert.Equal(t, BroadcastTEI, call.TEI())
	frames := env.l2.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, BroadcastTEI, frames[0].tei)
	assert.False(t, frames[0].ack)
	env.l2.messages(t)

	env.receive(t, peerMsg(call, q931.MsgAlerting), 64)
	env.receive(t, peerMsg(call, q931.MsgAlerting), 65)
	env.receive(t, peerMsg(call, q931.MsgConnect), 65)

	evs := env.drain()
	assert.Equal(t, []EventType{EventRinging, EventAnswer}, eventTypes(evs))
	assert.Equal(t, uint8(65), call.TEI())

	var released []uint8
	for _, f := range env.l2.frames() {
		msg, _, err := q931.Decode(nil, f.data, false)
		require.NoError(t, err)
		if msg.Type == q931.MsgRelease {
			released = append(released, f.tei)
			assert.Equal(t, "non-sel-user-clearing", causeOf(msg))
		}
	}
	assert.Equal(t, []uint8{64}, released)
}

func TestController_OwnRestartCycle(t *testing.T) {
	cfg := testConfig()
	cfg.ChannelSync = 10 * time.Second
	metrics := NewMetrics(nil)
	env := newTestEnv(t, cfg, WithMetrics(metrics))

	env.clock.Advance(cfg.ChannelSync)
	env.ctrl.TimerTick(env.clock.Now())
	restart := lastOf(env.l2.messages(t), q931.MsgRestart)
	require.NotNil(t, restart)
	assert.Equal(t, uint32(0), restart.CallRef)
	assert.Equal(t, "1", restart.GetIEValue(q931.IEChannelID, "channels", ""))
	assert.Equal(t, "channels", restart.GetIEValue(q931.IERestart, "class", ""))
	assert.True(t, env.circuits.isBusy(1))
	assert.True(t, env.ctrl.Status().Restarting)

	ack := q931.NewMessage(q931.MsgRestartAck, false, 0, 2)
	ack.AppendIE(priChannel("1"))
	ack.AppendIEValue(q931.IERestart, "class", "channels")
	env.receive(t, ack, 0)

	st := env.ctrl.Status()
	assert.False(t, st.Restarting)
	assert.Equal(t, 1, st.RestartCursor)
	assert.False(t, env.circuits.isBusy(1))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.restarts.WithLabelValues("acked")))

	// The next cycle restarts circuit 2 and gives up after the retries.
	env.clock.Advance(cfg.ChannelSync)
	env.ctrl.TimerTick(env.clock.Now())
	for i := 0; i < cfg.RestartRetries+1; i++ {
		env.clock.Advance(cfg.T316)
		env.ctrl.TimerTick(env.clock.Now())
	}
	restarts := lastAll(env.l2.messages(t), q931.MsgRestart)
	require.Len(t, restarts, cfg.RestartRetries+1)
	for _, r := range restarts {
		assert.Equal(t, "2", r.GetIEValue(q931.IEChannelID, "channels", ""))
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.restarts.WithLabelValues("timeout")))
	assert.False(t, env.circuits.isBusy(2))
}

func TestController_Dumper(t *testing.T) {
	d := &recordingDumper{}
	env := newTestEnv(t, testConfig(), WithDumper(d))
	acceptIncoming(t, env, 1, "1")

	require.Len(t, d.records, 1)
	assert.False(t, d.records[0].outgoing)

	env.receive(t, q931.NewMessage(q931.MsgStatusEnquiry, true, 1, 2), 0)
	env.poll()
	require.Len(t, d.records, 3)
	assert.True(t, d.records[2].outgoing)
}

type dumpRecord struct {
	data     []byte
	tei      uint8
	outgoing bool
}

type recordingDumper struct {
	records []dumpRecord
}

func (d *recordingDumper) WriteMessage(data []byte, tei uint8, outgoing bool) error {
	d.records = append(d.records, dumpRecord{data: data, tei: tei, outgoing: outgoing})
	return nil
}

func TestController_Status(t *testing.T) {
	env := newTestEnv(t, testConfig(), WithName("span1"))
	acceptIncoming(t, env, 1, "1")

	st := env.ctrl.Status()
	assert.Equal(t, "span1", st.Name)
	assert.True(t, st.LinkUp)
	assert.True(t, st.Network)
	assert.True(t, st.Primary)
	assert.Equal(t, 1, st.Calls)
	assert.False(t, st.Restarting)
}
