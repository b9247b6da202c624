package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/core/mocks"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	alice domain.UserID = "alice"
	bob   domain.UserID = "bob"
	carol domain.UserID = "carol"

	callID domain.CallID = "K"
)

func callK(t domain.CallType) *domain.Call {
	return &domain.Call{
		ID:             callID,
		ConversationID: "C",
		CallType:       t,
		InitiatorID:    alice,
		CalleeID:       bob,
		Status:         domain.CallStatusRinging,
	}
}

type harness struct {
	t     *testing.T
	gw    *mocks.MockGateway
	media *mocks.MockMediaProvider
	relay *fakeRelay
	peers *fakePeers
	store *state.Store
	clock *clock.Mock
	hub   *app.Hub
	c     *Controller
	stop  func()

	mu      sync.Mutex
	states  []state.CallState
	notices []domain.Notice
	missed  []domain.CallID
	rings   []domain.CallID
	stopped []domain.CallID
}

func newHarness(t *testing.T, self domain.UserID) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		t:     t,
		gw:    mocks.NewMockGateway(ctrl),
		media: mocks.NewMockMediaProvider(ctrl),
		relay: newFakeRelay(),
		peers: &fakePeers{},
		store: state.NewStore(),
		clock: clock.NewMock(),
		hub:   app.NewHub(),
	}
	shell := mocks.NewMockShell(ctrl)
	shell.EXPECT().Ring(gomock.Any()).Do(func(c *domain.Call) { h.record(&h.rings, c.ID) }).AnyTimes()
	shell.EXPECT().StopRing(gomock.Any()).Do(func(id domain.CallID) { h.record(&h.stopped, id) }).AnyTimes()
	shell.EXPECT().MissedCall(gomock.Any()).Do(func(c *domain.Call) { h.record(&h.missed, c.ID) }).AnyTimes()
	shell.EXPECT().Notify(gomock.Any()).Do(func(n domain.Notice) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.notices = append(h.notices, n)
	}).AnyTimes()

	h.store.Observe(func(s state.Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if n := len(h.states); n == 0 || h.states[n-1] != s.CallState {
			h.states = append(h.states, s.CallState)
		}
	})

	h.c = New(Config{SelfID: self, RingOutTimeout: time.Minute, RequestTimeout: time.Second}, Deps{
		Store:   h.store,
		Gateway: h.gw,
		Relay:   h.relay,
		Media:   h.media,
		Peers:   h.peers,
		Shell:   shell,
		Events:  h.hub,
		Clock:   h.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.c.Run(ctx)
	}()
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) record(dst *[]domain.CallID, id domain.CallID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*dst = append(*dst, id)
}

func (h *harness) seenStates() []state.CallState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]state.CallState(nil), h.states...)
}

func (h *harness) seenNotices() []domain.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Notice(nil), h.notices...)
}

func (h *harness) seen(list *[]domain.CallID) []domain.CallID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.CallID(nil), *list...)
}

func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// barrier returns once the loop processed everything posted before it.
func (h *harness) barrier() {
	h.t.Helper()
	err := h.c.DeclineCall(context.Background(), "barrier")
	require.ErrorIs(h.t, err, domain.ErrNoIncomingCall)
}

func (h *harness) idle() bool {
	s := h.store.Snapshot()
	return s.ActiveCall == nil && s.CallState == state.Idle && s.IncomingCall == nil
}

// connectAsCaller drives alice to connecting with the initiator session created.
func (h *harness) connectAsCaller(callType domain.CallType) (*fakeStream, *fakePeer) {
	h.t.Helper()
	local := newFakeStream("local", callType == domain.CallTypeVideo)
	h.gw.EXPECT().Initiate(gomock.Any(), domain.ConversationID("C"), callType).Return(callK(callType), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), constraintsFor(callType)).Return(local, nil)

	_, err := h.c.InitiateCall(context.Background(), "C", callType)
	require.NoError(h.t, err)
	h.eventually(func() bool { return h.store.Snapshot().HasLocal }, "local media attached")
	h.relay.control(callID, core.KindAnswered, bob, "")
	h.eventually(func() bool { return h.peers.count() == 1 }, "initiator session created")
	return local, h.peers.last()
}

// ringAsCallee puts bob into ringing-in for callK.
func (h *harness) ringAsCallee(callType domain.CallType) {
	h.t.Helper()
	h.relay.ring(callK(callType), alice)
	h.eventually(func() bool { return h.store.Snapshot().IncomingCall != nil }, "incoming call shown")
}

func TestScenarioA_InitiateAnsweredConnects(t *testing.T) {
	h := newHarness(t, alice)
	local := newFakeStream("local", false)
	h.gw.EXPECT().Initiate(gomock.Any(), domain.ConversationID("C"), domain.CallTypeVoice).Return(callK(domain.CallTypeVoice), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), core.Constraints{Audio: true}).Return(local, nil)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil) // shutdown at cleanup

	events, cancel := h.hub.Subscribe(app.ConversationTopic("C"))
	defer cancel()

	got, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	require.NoError(t, err)
	assert.Equal(t, callID, got.ID)
	snap := h.store.Snapshot()
	require.NotNil(t, snap.ActiveCall)
	assert.Equal(t, callID, snap.ActiveCall.ID)
	assert.Equal(t, state.Connecting, snap.CallState)

	h.eventually(func() bool { return h.store.Snapshot().HasLocal }, "local media attached")
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindRing)) == 1 }, "ring published")
	assert.Equal(t, bob, h.relay.sentKinds(core.KindRing)[0].target)
	assert.Zero(t, h.peers.count(), "no session before the callee answers")

	h.relay.control(callID, core.KindAnswered, bob, "")
	h.eventually(func() bool { return h.peers.count() == 1 }, "initiator session created")
	role, _, _ := h.peers.last().snapshot()
	assert.Equal(t, "initiator", role)

	h.peers.last().emit(core.PeerEvent{Kind: core.PeerEventConnect})
	h.eventually(func() bool { return h.store.Snapshot().CallState == state.Active }, "call active")
	assert.Equal(t, []state.CallState{state.Connecting, state.Active}, h.seenStates())

	var kinds []domain.CallEventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).(domain.CallEvent).Kind)
	}
	assert.Equal(t, []domain.CallEventKind{domain.CallEventRinging, domain.CallEventAnswered, domain.CallEventConnected}, kinds)
}

func TestScenarioB_RingTimeoutMarksMissedOnce(t *testing.T) {
	h := newHarness(t, bob)
	var marked atomic.Int32
	h.gw.EXPECT().MarkMissed(gomock.Any(), callID).DoAndReturn(func(context.Context, domain.CallID) error {
		marked.Add(1)
		return nil
	}).Times(1)

	h.ringAsCallee(domain.CallTypeVoice)
	assert.Equal(t, 1, h.relay.subscribers(callID))
	assert.Equal(t, []domain.CallID{callID}, h.seen(&h.rings))

	h.clock.Add(RingTimeout - time.Second)
	assert.Never(t, func() bool { return h.store.Snapshot().IncomingCall == nil }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Add(time.Second)
	h.eventually(h.idle, "store reset after timeout")
	h.eventually(func() bool { return marked.Load() == 1 }, "mark missed called")

	states := h.seenStates()
	assert.Contains(t, states, state.Ended)
	assert.Equal(t, state.Idle, states[len(states)-1])
	assert.Zero(t, h.relay.subscribers(callID))
	assert.Equal(t, []domain.CallID{callID}, h.seen(&h.missed))
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindMissed)) == 1 }, "caller told about the miss")
	assert.Equal(t, alice, h.relay.sentKinds(core.KindMissed)[0].target)

	h.clock.Add(RingTimeout)
	h.barrier()
	assert.Equal(t, int32(1), marked.Load())
}

func TestRingTimeoutRejectsInFlightAnswer(t *testing.T) {
	h := newHarness(t, bob)
	local := newFakeStream("local", false)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.gw.EXPECT().Answer(gomock.Any(), callID).DoAndReturn(func(ctx context.Context, _ domain.CallID) (*domain.Call, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
		c := callK(domain.CallTypeVoice)
		c.Status = domain.CallStatusActive
		return c, nil
	})
	h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(local, nil)
	h.gw.EXPECT().MarkMissed(gomock.Any(), callID).Return(nil).Times(1)

	h.ringAsCallee(domain.CallTypeVoice)
	errc := make(chan error, 1)
	go func() {
		_, err := h.c.AnswerCall(context.Background(), callID)
		errc <- err
	}()
	<-entered

	h.clock.Add(RingTimeout)
	select {
	case err := <-errc:
		var te *domain.TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, callID, te.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("answer was not rejected by the ring timeout")
	}
	close(release)

	h.eventually(local.allStopped, "late local stream released")
	h.barrier()
	assert.True(t, h.idle())
	assert.Zero(t, h.peers.count())

	_, err := h.c.AnswerCall(context.Background(), callID)
	var te *domain.TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestScenarioC_HangUpThenRemoteEndedIsNoop(t *testing.T) {
	h := newHarness(t, alice)
	local, peer := h.connectAsCaller(domain.CallTypeVoice)
	var ended atomic.Int32
	h.gw.EXPECT().End(gomock.Any(), callID).DoAndReturn(func(context.Context, domain.CallID) error {
		ended.Add(1)
		return nil
	}).Times(1)

	peer.emit(core.PeerEvent{Kind: core.PeerEventConnect})
	remote := newFakeStream("remote", false)
	peer.emit(core.PeerEvent{Kind: core.PeerEventStream, Stream: remote})
	h.eventually(func() bool { return h.store.Snapshot().HasRemote }, "remote stream attached")
	handlers := h.relay.handlers(callID)
	require.Len(t, handlers, 1)

	require.NoError(t, h.c.HangUp(context.Background()))
	assert.True(t, h.idle())
	_, _, destroyed := peer.snapshot()
	assert.Equal(t, 1, destroyed)
	assert.True(t, local.allStopped())
	assert.True(t, remote.allStopped())
	h.eventually(func() bool { return ended.Load() == 1 }, "gateway end called")

	handlers[0].OnControl(core.Control{Kind: core.KindEnded, From: bob, Reason: domain.EndReasonHangUp})
	require.NoError(t, h.c.HangUp(context.Background()))
	h.barrier()
	assert.True(t, h.idle())
	assert.Equal(t, int32(1), ended.Load())
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindEnded)) == 1 }, "remote told once")
	assert.Equal(t, bob, h.relay.sentKinds(core.KindEnded)[0].target)
}

func TestScenarioD_MediaDeniedAfterAnswerDeclines(t *testing.T) {
	h := newHarness(t, bob)
	answered := callK(domain.CallTypeVideo)
	answered.Status = domain.CallStatusActive
	h.gw.EXPECT().Answer(gomock.Any(), callID).Return(answered, nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), core.Constraints{Audio: true, Video: true}).
		Return(nil, &domain.MediaPermissionError{Reason: domain.MediaPermissionDenied})
	h.gw.EXPECT().Decline(gomock.Any(), callID).Return(nil).Times(1)

	h.ringAsCallee(domain.CallTypeVideo)
	_, err := h.c.AnswerCall(context.Background(), callID)
	var mErr *domain.MediaPermissionError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, domain.MediaPermissionDenied, mErr.Reason)

	assert.True(t, h.idle())
	assert.Contains(t, h.seenStates(), state.Ended)
	assert.Zero(t, h.peers.count())
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindDeclined)) == 1 }, "caller informed")
	assert.Equal(t, alice, h.relay.sentKinds(core.KindDeclined)[0].target)

	h.eventually(func() bool { return len(h.seenNotices()) == 1 }, "media notice")
	notices := h.seenNotices()
	assert.Equal(t, domain.NoticeMedia, notices[0].Kind)
	assert.NotEmpty(t, notices[0].Hints)
}

func TestBusyRejectsSecondCallWithoutGateway(t *testing.T) {
	h := newHarness(t, alice)
	h.gw.EXPECT().Initiate(gomock.Any(), domain.ConversationID("C"), domain.CallTypeVoice).Return(callK(domain.CallTypeVoice), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(newFakeStream("local", false), nil)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil)

	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	require.NoError(t, err)
	h.eventually(func() bool { return h.store.Snapshot().HasLocal }, "local media attached")
	before := h.store.Snapshot()

	_, err = h.c.InitiateCall(context.Background(), "D", domain.CallTypeVideo)
	var busy *domain.UserBusyError
	require.ErrorAs(t, err, &busy)
	assert.False(t, busy.Remote)

	_, err = h.c.AnswerCall(context.Background(), "other")
	require.ErrorAs(t, err, &busy)

	after := h.store.Snapshot()
	assert.Equal(t, before.ActiveCall, after.ActiveCall)
	assert.Equal(t, before.CallState, after.CallState)
}

func TestInvalidInitiateArguments(t *testing.T) {
	h := newHarness(t, alice)
	_, err := h.c.InitiateCall(context.Background(), "C", "hologram")
	assert.ErrorIs(t, err, domain.ErrInvalidCallType)
	_, err = h.c.InitiateCall(context.Background(), "", domain.CallTypeVoice)
	assert.ErrorIs(t, err, domain.ErrEmptyConversation)
	assert.True(t, h.idle())
}

func TestIncomingRingWhileBusyIsDeclined(t *testing.T) {
	h := newHarness(t, alice)
	h.connectAsCaller(domain.CallTypeVoice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil)

	other := &domain.Call{ID: "L", ConversationID: "E", CallType: domain.CallTypeVoice, InitiatorID: carol, CalleeID: alice}
	declined := make(chan struct{})
	h.gw.EXPECT().Decline(gomock.Any(), domain.CallID("L")).DoAndReturn(func(context.Context, domain.CallID) error {
		close(declined)
		return nil
	}).Times(1)

	h.relay.ring(other, carol)
	<-declined
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindDeclined)) == 1 }, "busy decline published")
	msg := h.relay.sentKinds(core.KindDeclined)[0]
	assert.Equal(t, carol, msg.target)
	var p core.ControlPayload
	require.NoError(t, json.Unmarshal(msg.payload, &p))
	assert.Equal(t, domain.EndReasonBusy, p.Reason)

	snap := h.store.Snapshot()
	require.NotNil(t, snap.ActiveCall)
	assert.Equal(t, callID, snap.ActiveCall.ID)
	assert.Nil(t, snap.IncomingCall)
	assert.Equal(t, []domain.CallID{"L"}, h.seen(&h.missed))
}

func TestRemoteBusySurfacesUserBusy(t *testing.T) {
	h := newHarness(t, alice)
	h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(callK(domain.CallTypeVoice), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(newFakeStream("local", false), nil).MaxTimes(1)

	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	require.NoError(t, err)
	h.relay.control(callID, core.KindDeclined, bob, domain.EndReasonBusy)
	h.eventually(h.idle, "call ended")
	h.eventually(func() bool { return len(h.seenNotices()) == 1 }, "busy notice")
	n := h.seenNotices()[0]
	assert.Equal(t, domain.NoticeBusy, n.Kind)
	assert.False(t, n.Retryable)
}

func TestInitiateBusyFromServiceMapsToRemoteBusy(t *testing.T) {
	h := newHarness(t, alice)
	h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("initiate: %w", domain.ErrBusy))

	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	var busy *domain.UserBusyError
	require.ErrorAs(t, err, &busy)
	assert.True(t, busy.Remote)
	assert.True(t, h.idle())
	assert.NotContains(t, h.seenStates(), state.Connecting)
}

func TestDeclinedAndSignalRaceEndsWithoutSession(t *testing.T) {
	offer := core.Signal{Kind: core.KindOffer, Payload: json.RawMessage(`{"sdp":"x"}`)}
	cases := []struct {
		name        string
		withSession bool
		signalFirst bool
	}{
		{"signal then declined", true, true},
		{"declined then signal", true, false},
		{"before session, signal then declined", false, true},
		{"before session, declined then signal", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, alice)
			var peer *fakePeer
			if tc.withSession {
				_, peer = h.connectAsCaller(domain.CallTypeVoice)
			} else {
				h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(callK(domain.CallTypeVoice), nil)
				h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(newFakeStream("local", false), nil).MaxTimes(1)
				_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
				require.NoError(t, err)
			}
			handlers := h.relay.handlers(callID)
			require.Len(t, handlers, 1)

			declined := func() { handlers[0].OnControl(core.Control{Kind: core.KindDeclined, From: bob}) }
			signal := func() { handlers[0].OnSignal(bob, offer) }
			if tc.signalFirst {
				signal()
				declined()
			} else {
				declined()
				signal()
			}
			h.barrier()

			assert.True(t, h.idle())
			if tc.withSession {
				assert.Equal(t, 1, h.peers.count())
				_, applied, destroyed := peer.snapshot()
				assert.Equal(t, 1, destroyed)
				if tc.signalFirst {
					assert.Len(t, applied, 1)
				} else {
					assert.Empty(t, applied)
				}
			} else {
				assert.Zero(t, h.peers.count())
			}
			assert.Zero(t, h.relay.subscribers(callID))
		})
	}
}

func TestCleanupOnEveryCallerExitPath(t *testing.T) {
	cases := []struct {
		name    string
		gateway bool
		trigger func(h *harness, peer *fakePeer)
	}{
		{"hang up", true, func(h *harness, _ *fakePeer) { require.NoError(h.t, h.c.HangUp(context.Background())) }},
		{"remote ended", false, func(h *harness, _ *fakePeer) { h.relay.control(callID, core.KindEnded, bob, "") }},
		{"peer error", true, func(_ *harness, p *fakePeer) {
			p.emit(core.PeerEvent{Kind: core.PeerEventError, Err: fmt.Errorf("ice failed")})
		}},
		{"peer closed", true, func(_ *harness, p *fakePeer) { p.emit(core.PeerEvent{Kind: core.PeerEventClose}) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, alice)
			local, peer := h.connectAsCaller(domain.CallTypeVideo)
			if tc.gateway {
				h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)
			}
			remote := newFakeStream("remote", true)
			peer.emit(core.PeerEvent{Kind: core.PeerEventStream, Stream: remote})
			h.eventually(func() bool { return h.store.Snapshot().CallState == state.Active }, "active")

			tc.trigger(h, peer)
			h.eventually(h.idle, "store reset")
			assert.True(t, local.allStopped(), "local tracks stopped")
			assert.True(t, remote.allStopped(), "remote tracks stopped")
			_, _, destroyed := peer.snapshot()
			assert.Equal(t, 1, destroyed)
			assert.Zero(t, h.relay.subscribers(callID))
			snap := h.store.Snapshot()
			assert.Nil(t, snap.LocalStream)
			assert.Nil(t, snap.RemoteStream)
		})
	}
}

func TestCleanupOnEveryCalleeExitPath(t *testing.T) {
	cases := []struct {
		name    string
		expect  func(h *harness)
		trigger func(h *harness)
		missed  bool
	}{
		{
			name:    "local decline",
			expect:  func(h *harness) { h.gw.EXPECT().Decline(gomock.Any(), callID).Return(nil).Times(1) },
			trigger: func(h *harness) { require.NoError(h.t, h.c.DeclineCall(context.Background(), callID)) },
		},
		{
			name:    "hang up while ringing",
			expect:  func(h *harness) { h.gw.EXPECT().Decline(gomock.Any(), callID).Return(nil).Times(1) },
			trigger: func(h *harness) { require.NoError(h.t, h.c.HangUp(context.Background())) },
		},
		{
			name:    "caller cancelled",
			expect:  func(*harness) {},
			trigger: func(h *harness) { h.relay.control(callID, core.KindEnded, alice, domain.EndReasonCancelled) },
			missed:  true,
		},
		{
			name:    "answered on another device",
			expect:  func(*harness) {},
			trigger: func(h *harness) { h.relay.control(callID, core.KindAnswered, bob, "") },
		},
		{
			name:    "timeout",
			expect:  func(h *harness) { h.gw.EXPECT().MarkMissed(gomock.Any(), callID).Return(nil).Times(1) },
			trigger: func(h *harness) { h.clock.Add(RingTimeout) },
			missed:  true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, bob)
			tc.expect(h)
			h.ringAsCallee(domain.CallTypeVoice)

			tc.trigger(h)
			h.eventually(h.idle, "store reset")
			assert.Zero(t, h.relay.subscribers(callID))
			assert.Equal(t, []domain.CallID{callID}, h.seen(&h.stopped))
			if tc.missed {
				assert.Equal(t, []domain.CallID{callID}, h.seen(&h.missed))
			} else {
				assert.Empty(t, h.seen(&h.missed))
			}
		})
	}
}

func TestAnswerFlushesBufferedSignals(t *testing.T) {
	h := newHarness(t, bob)
	answered := callK(domain.CallTypeVoice)
	answered.Status = domain.CallStatusActive
	local := newFakeStream("local", false)
	h.gw.EXPECT().Answer(gomock.Any(), callID).Return(answered, nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), core.Constraints{Audio: true}).Return(local, nil)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil) // shutdown at cleanup

	h.ringAsCallee(domain.CallTypeVoice)
	offer := core.Signal{Kind: core.KindOffer, Payload: json.RawMessage(`{"sdp":"o"}`)}
	cand := core.Signal{Kind: core.KindCandidate, Payload: json.RawMessage(`{"candidate":"c"}`)}
	h.relay.signal(callID, alice, offer)
	h.relay.signal(callID, alice, cand)
	h.relay.signal(callID, carol, cand)

	got, err := h.c.AnswerCall(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, got.Status)
	assert.Equal(t, state.Connecting, h.store.Snapshot().CallState)
	assert.Nil(t, h.store.Snapshot().IncomingCall)

	peer := h.peers.last()
	require.NotNil(t, peer)
	role, applied, _ := peer.snapshot()
	assert.Equal(t, "responder", role)
	assert.Equal(t, []core.Signal{offer, cand}, applied)
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindAnswered)) == 1 }, "answered published")
	assert.Equal(t, []domain.CallID{callID}, h.seen(&h.stopped))

	peer.emit(core.PeerEvent{Kind: core.PeerEventSignal, Signal: core.Signal{Kind: core.KindAnswer, Payload: json.RawMessage(`{"sdp":"a"}`)}})
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindAnswer)) == 1 }, "local answer forwarded")
	assert.JSONEq(t, `{"sdp":"a"}`, string(h.relay.sentKinds(core.KindAnswer)[0].payload))
}

func TestAnswerUnknownCall(t *testing.T) {
	h := newHarness(t, bob)
	_, err := h.c.AnswerCall(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNoIncomingCall)
	assert.ErrorIs(t, h.c.DeclineCall(context.Background(), "nope"), domain.ErrNoIncomingCall)
}

func TestDuplicateAndLateRingsIgnored(t *testing.T) {
	h := newHarness(t, bob)
	h.gw.EXPECT().Decline(gomock.Any(), callID).Return(nil)

	h.ringAsCallee(domain.CallTypeVoice)
	h.relay.ring(callK(domain.CallTypeVoice), alice)
	h.barrier()
	assert.Len(t, h.seen(&h.rings), 1)

	require.NoError(t, h.c.DeclineCall(context.Background(), callID))
	h.relay.ring(callK(domain.CallTypeVoice), alice)
	h.barrier()
	assert.True(t, h.idle())
	assert.Len(t, h.seen(&h.rings), 1)
}

func TestRingOutTimeoutEndsWithNoAnswer(t *testing.T) {
	h := newHarness(t, alice)
	h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(callK(domain.CallTypeVoice), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(newFakeStream("local", false), nil).MaxTimes(1)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)

	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	require.NoError(t, err)
	h.clock.Add(time.Minute)
	h.eventually(h.idle, "ended after ring-out timeout")
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindEnded)) == 1 }, "ended published")
	var p core.ControlPayload
	require.NoError(t, json.Unmarshal(h.relay.sentKinds(core.KindEnded)[0].payload, &p))
	assert.Equal(t, domain.EndReasonNoAnswer, p.Reason)
}

func TestCalleeMissedEndsCaller(t *testing.T) {
	h := newHarness(t, alice)
	h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(callK(domain.CallTypeVoice), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(newFakeStream("local", false), nil).MaxTimes(1)

	events, cancel := h.hub.Subscribe(app.ConversationTopic("C"))
	defer cancel()
	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	require.NoError(t, err)
	h.relay.control(callID, core.KindMissed, bob, domain.EndReasonMissed)
	h.eventually(h.idle, "caller stopped ringing")

	var last domain.CallEvent
	for len(events) > 0 {
		last = (<-events).(domain.CallEvent)
	}
	assert.Equal(t, domain.CallEventMissed, last.Kind)
	assert.Equal(t, domain.EndReasonNoAnswer, last.Reason)
}

func TestHangUpWhileInitiatingCancels(t *testing.T) {
	h := newHarness(t, alice)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.ConversationID, domain.CallType) (*domain.Call, error) {
			close(entered)
			<-release
			return callK(domain.CallTypeVoice), nil
		})
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
		errc <- err
	}()
	<-entered
	require.NoError(t, h.c.HangUp(context.Background()))
	close(release)

	assert.ErrorIs(t, <-errc, domain.ErrCallCancelled)
	h.eventually(h.idle, "idle after cancel")
	assert.Empty(t, h.seenNotices())
}

func TestLateMediaAfterHangUpIsReleased(t *testing.T) {
	h := newHarness(t, alice)
	late := newFakeStream("late", false)
	asked := make(chan struct{})
	release := make(chan struct{})
	h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(callK(domain.CallTypeVoice), nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, core.Constraints) (core.MediaStream, error) {
		close(asked)
		<-release
		return late, nil
	})
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)

	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	require.NoError(t, err)
	<-asked
	require.NoError(t, h.c.HangUp(context.Background()))
	assert.True(t, h.idle())

	close(release)
	h.eventually(late.allStopped, "late stream stopped")
	assert.False(t, h.store.Snapshot().HasLocal)
}

func TestToggles(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		h := newHarness(t, alice)
		_, err := h.c.ToggleMute(context.Background())
		assert.ErrorIs(t, err, domain.ErrNoActiveCall)
		_, err = h.c.ToggleCamera(context.Background())
		assert.ErrorIs(t, err, domain.ErrNoActiveCall)
	})

	t.Run("live session", func(t *testing.T) {
		h := newHarness(t, alice)
		_, peer := h.connectAsCaller(domain.CallTypeVideo)
		h.gw.EXPECT().End(gomock.Any(), callID).Return(nil)

		muted, err := h.c.ToggleMute(context.Background())
		require.NoError(t, err)
		assert.True(t, muted)
		assert.True(t, h.store.Snapshot().IsMuted)
		enabled, ok := peer.trackEnabled(core.TrackAudio)
		require.True(t, ok)
		assert.False(t, enabled)

		off, err := h.c.ToggleCamera(context.Background())
		require.NoError(t, err)
		assert.True(t, off)
		enabled, _ = peer.trackEnabled(core.TrackVideo)
		assert.False(t, enabled)

		muted, err = h.c.ToggleMute(context.Background())
		require.NoError(t, err)
		assert.False(t, muted)
		enabled, _ = peer.trackEnabled(core.TrackAudio)
		assert.True(t, enabled)
		_, _, destroyed := peer.snapshot()
		assert.Zero(t, destroyed, "toggles never renegotiate")
	})

	t.Run("before session", func(t *testing.T) {
		h := newHarness(t, alice)
		local := newFakeStream("local", false)
		h.gw.EXPECT().Initiate(gomock.Any(), gomock.Any(), gomock.Any()).Return(callK(domain.CallTypeVoice), nil)
		h.media.EXPECT().GetLocalStream(gomock.Any(), gomock.Any()).Return(local, nil)
		h.gw.EXPECT().End(gomock.Any(), callID).Return(nil)

		_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
		require.NoError(t, err)
		h.eventually(func() bool { return h.store.Snapshot().HasLocal }, "local media attached")

		muted, err := h.c.ToggleMute(context.Background())
		require.NoError(t, err)
		assert.True(t, muted)
		assert.False(t, local.track(core.TrackAudio).Enabled())

		h.relay.control(callID, core.KindAnswered, bob, "")
		h.eventually(func() bool { return h.peers.count() == 1 }, "session created")
		enabled, ok := h.peers.last().trackEnabled(core.TrackAudio)
		require.True(t, ok)
		assert.False(t, enabled)
	})
}

func TestSignalPublishFailureEndsCall(t *testing.T) {
	h := newHarness(t, alice)
	_, peer := h.connectAsCaller(domain.CallTypeVoice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)
	h.relay.failNext(core.KindOffer, 1)

	peer.emit(core.PeerEvent{Kind: core.PeerEventSignal, Signal: core.Signal{Kind: core.KindOffer, Payload: json.RawMessage(`{}`)}})
	h.eventually(h.idle, "ended on signaling failure")
	h.eventually(func() bool { return len(h.seenNotices()) == 1 }, "connection notice")
	assert.Equal(t, domain.NoticeConnection, h.seenNotices()[0].Kind)
}

func TestTerminalControlRetriedOnce(t *testing.T) {
	h := newHarness(t, alice)
	h.connectAsCaller(domain.CallTypeVoice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)
	h.relay.failNext(core.KindEnded, 1)

	require.NoError(t, h.c.HangUp(context.Background()))
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindEnded)) == 1 }, "ended delivered on retry")
	assert.Equal(t, 2, h.relay.attemptsFor(core.KindEnded))
}

func TestGatewayFailureDoesNotBlockCleanup(t *testing.T) {
	h := newHarness(t, alice)
	local, peer := h.connectAsCaller(domain.CallTypeVoice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(domain.ErrNetwork).Times(1)

	peer.emit(core.PeerEvent{Kind: core.PeerEventError, Err: fmt.Errorf("dtls")})
	h.eventually(h.idle, "cleanup despite gateway failure")
	assert.True(t, local.allStopped())
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindEnded)) == 1 }, "remote still told")
}

func TestShutdownEndsCurrentCall(t *testing.T) {
	h := newHarness(t, alice)
	local, peer := h.connectAsCaller(domain.CallTypeVoice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)

	h.stop()
	assert.True(t, h.idle())
	assert.True(t, local.allStopped())
	_, _, destroyed := peer.snapshot()
	assert.Equal(t, 1, destroyed)
	assert.Len(t, h.relay.sentKinds(core.KindEnded), 1)

	_, err := h.c.InitiateCall(context.Background(), "C", domain.CallTypeVoice)
	assert.ErrorIs(t, err, domain.ErrControllerStopped)
}

func TestStaleRemoteStreamAfterEndIsStopped(t *testing.T) {
	h := newHarness(t, alice)
	_, peer := h.connectAsCaller(domain.CallTypeVoice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil)

	require.NoError(t, h.c.HangUp(context.Background()))
	late := newFakeStream("late-remote", false)
	peer.emit(core.PeerEvent{Kind: core.PeerEventStream, Stream: late})
	h.eventually(late.allStopped, "stale remote stream stopped")
	assert.True(t, h.idle())
}

func TestNegotiationFailureEndsCall(t *testing.T) {
	h := newHarness(t, alice)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)
	local, peer := h.connectAsCaller(domain.CallTypeVoice)

	peer.failApply(&domain.PeerConnectionError{Reason: "set local answer"})
	h.relay.signal(callID, bob, core.Signal{Kind: core.KindAnswer, Payload: json.RawMessage(`{"sdp":"a"}`)})

	h.eventually(h.idle, "call ended on negotiation failure")
	assert.Contains(t, h.seenStates(), state.Ended)
	assert.True(t, local.allStopped())
	_, _, destroyed := peer.snapshot()
	assert.Equal(t, 1, destroyed)
	assert.Zero(t, h.relay.subscribers(callID))
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindEnded)) == 1 }, "callee told")
	assert.Equal(t, bob, h.relay.sentKinds(core.KindEnded)[0].target)

	h.eventually(func() bool { return len(h.seenNotices()) == 1 }, "connection notice")
	assert.Equal(t, domain.NoticeConnection, h.seenNotices()[0].Kind)
}

func TestBufferedSignalFailureFailsAnswer(t *testing.T) {
	h := newHarness(t, bob)
	h.peers.applyErr = &domain.PeerConnectionError{Reason: "create answer"}
	answered := callK(domain.CallTypeVoice)
	answered.Status = domain.CallStatusActive
	local := newFakeStream("local", false)
	h.gw.EXPECT().Answer(gomock.Any(), callID).Return(answered, nil)
	h.media.EXPECT().GetLocalStream(gomock.Any(), core.Constraints{Audio: true}).Return(local, nil)
	h.gw.EXPECT().End(gomock.Any(), callID).Return(nil).Times(1)

	h.ringAsCallee(domain.CallTypeVoice)
	offer := core.Signal{Kind: core.KindOffer, Payload: json.RawMessage(`{"sdp":"o"}`)}
	h.relay.signal(callID, alice, offer)
	h.relay.signal(callID, alice, core.Signal{Kind: core.KindCandidate, Payload: json.RawMessage(`{"candidate":"c"}`)})

	_, err := h.c.AnswerCall(context.Background(), callID)
	var pcErr *domain.PeerConnectionError
	require.ErrorAs(t, err, &pcErr)
	assert.Equal(t, "create answer", pcErr.Reason)

	assert.True(t, h.idle())
	assert.True(t, local.allStopped())
	require.Equal(t, 1, h.peers.count())
	_, applied, destroyed := h.peers.last().snapshot()
	assert.Empty(t, applied)
	assert.Equal(t, 1, destroyed)
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindEnded)) == 1 }, "caller told")
	assert.Equal(t, alice, h.relay.sentKinds(core.KindEnded)[0].target)
}

func TestAnswerRejectedByService(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		decline bool
	}{
		{name: "network", err: &domain.GatewayError{Op: "answer", Err: domain.ErrNetwork}, decline: true},
		{name: "already answered", err: &domain.GatewayError{Op: "answer", Status: 409, Err: domain.ErrAlreadyAnswered}},
		{name: "gone", err: &domain.GatewayError{Op: "answer", Status: 404, Err: domain.ErrNotFound}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, bob)
			h.gw.EXPECT().Answer(gomock.Any(), callID).Return(nil, tc.err)
			h.media.EXPECT().GetLocalStream(gomock.Any(), core.Constraints{Audio: true}).
				Return(newFakeStream("local", false), nil).MaxTimes(1)
			if tc.decline {
				h.gw.EXPECT().Decline(gomock.Any(), callID).Return(nil).Times(1)
			}

			h.ringAsCallee(domain.CallTypeVoice)
			_, err := h.c.AnswerCall(context.Background(), callID)
			assert.ErrorIs(t, err, tc.err)

			h.eventually(h.idle, "store reset")
			assert.Zero(t, h.peers.count())
			assert.Zero(t, h.relay.subscribers(callID))
			assert.Equal(t, []domain.CallID{callID}, h.seen(&h.stopped))
			if tc.decline {
				h.eventually(func() bool { return len(h.relay.sentKinds(core.KindDeclined)) == 1 }, "caller told")
				assert.Equal(t, alice, h.relay.sentKinds(core.KindDeclined)[0].target)
				return
			}
			h.stop()
			assert.Empty(t, h.relay.sentKinds(core.KindDeclined))
			assert.Empty(t, h.relay.sentKinds(core.KindEnded))
		})
	}
}

func TestSubscribeFailureEndsIncomingCall(t *testing.T) {
	h := newHarness(t, bob)
	h.relay.subErr = fmt.Errorf("relay down")
	h.gw.EXPECT().Decline(gomock.Any(), callID).Return(nil).Times(1)

	h.relay.ring(callK(domain.CallTypeVoice), alice)
	h.eventually(func() bool { return len(h.relay.sentKinds(core.KindDeclined)) == 1 }, "caller told")
	assert.Equal(t, alice, h.relay.sentKinds(core.KindDeclined)[0].target)

	assert.True(t, h.idle())
	assert.Empty(t, h.seen(&h.rings))
	h.eventually(func() bool { return len(h.seenNotices()) == 1 }, "signaling notice")
	assert.Equal(t, domain.NoticeConnection, h.seenNotices()[0].Kind)

	h.relay.ring(callK(domain.CallTypeVoice), alice)
	h.barrier()
	assert.True(t, h.idle(), "the same call does not ring again")
}
