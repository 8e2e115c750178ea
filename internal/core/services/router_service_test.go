package services

import (
	"encoding/json"
	"testing"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	"rendezvous/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) ConnectionOpened()                { m.Called() }
func (m *MockMetricsRecorder) ConnectionClosed(d time.Duration) { m.Called(d) }
func (m *MockMetricsRecorder) Registered(n int)                 { m.Called(n) }
func (m *MockMetricsRecorder) SignalRelayed(t string)           { m.Called(t) }
func (m *MockMetricsRecorder) SignalDropped(t, reason string)   { m.Called(t, reason) }
func (m *MockMetricsRecorder) PresenceBroadcast(n int)          { m.Called(n) }
func (m *MockMetricsRecorder) ConnectionEvicted(reason string)  { m.Called(reason) }
func (m *MockMetricsRecorder) SweepCompleted(d time.Duration)   { m.Called(d) }

var _ ports.MetricsRecorder = (*MockMetricsRecorder)(nil)

type routerFixture struct {
	router   *RouterService
	conns    ports.ConnectionRepository
	registry ports.IdentityRegistry
	emitter  *recordingEmitter
	metrics  *MockMetricsRecorder
}

func newRouterFixture(t *testing.T, ids ...domain.ConnectionID) *routerFixture {
	f := &routerFixture{
		conns:    memory.NewMemoryConnectionRepository(),
		registry: memory.NewMemoryIdentityRegistry(),
		emitter:  newRecordingEmitter(),
		metrics:  new(MockMetricsRecorder),
	}
	for _, id := range ids {
		require.NoError(t, f.conns.Add(&domain.Connection{ID: id, ConnectedAt: time.Now()}))
		f.emitter.attach(id)
	}
	f.router = NewRouterService(f.conns, f.registry, f.emitter, f.metrics, zap.NewNop().Sugar())
	return f
}

func TestRouterService_ForwardRelaysToTarget(t *testing.T) {
	f := newRouterFixture(t, connA, connB)
	f.metrics.On("SignalRelayed", domain.MessageOffer).Once()

	delivered, err := f.router.Forward(connA, domain.SignalOffer,
		json.RawMessage(`{"target":"conn-b","offer":{"sdp":"v=0"}}`), time.Now())

	require.NoError(t, err)
	assert.True(t, delivered)

	events := f.emitter.drain(connB)
	require.Len(t, events, 1)
	var got map[string]json.RawMessage
	decodeEvent(t, events[0], &got)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(got["offer"]))
	assert.JSONEq(t, `"conn-a"`, string(got["from"]))
	_, hasTarget := got["target"]
	assert.False(t, hasTarget)

	f.metrics.AssertExpectations(t)
}

func TestRouterService_ForwardDropsUnknownTarget(t *testing.T) {
	f := newRouterFixture(t, connA)
	f.metrics.On("SignalDropped", domain.MessageAnswer, DropUnknownTarget).Once()

	delivered, err := f.router.Forward(connA, domain.SignalAnswer,
		json.RawMessage(`{"target":"conn-x","answer":{}}`), time.Now())

	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, f.emitter.drain(connA))
	f.metrics.AssertExpectations(t)
}

func TestRouterService_ForwardSendFailure(t *testing.T) {
	f := newRouterFixture(t, connA, connB)
	f.emitter.detach(connB)
	f.metrics.On("SignalDropped", domain.MessageICECandidate, DropSendFailed).Once()

	delivered, err := f.router.Forward(connA, domain.SignalCandidate,
		json.RawMessage(`{"target":"conn-b","candidate":{}}`), time.Now())

	require.NoError(t, err)
	assert.False(t, delivered)
	f.metrics.AssertExpectations(t)
}

func TestRouterService_ForwardWithoutBody(t *testing.T) {
	f := newRouterFixture(t, connA, connB)
	f.metrics.On("SignalRelayed", domain.MessageOffer).Once()

	_, err := f.router.Forward(connA, domain.SignalOffer, json.RawMessage(`{"target":"conn-b"}`), time.Now())
	require.NoError(t, err)

	events := f.emitter.drain(connB)
	require.Len(t, events, 1)
	var got map[string]json.RawMessage
	decodeEvent(t, events[0], &got)
	_, hasOffer := got["offer"]
	assert.False(t, hasOffer)
}

func TestRouterService_ForwardRecordsStats(t *testing.T) {
	f := newRouterFixture(t, connA, connB)
	f.metrics.On("SignalRelayed", mock.Anything)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, kind := range []domain.SignalKind{domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate, domain.SignalCandidate} {
		_, err := f.router.Forward(connA, kind, json.RawMessage(`{"target":"conn-b"}`), now)
		require.NoError(t, err)
	}

	conn, _ := f.conns.Get(connA)
	assert.Equal(t, domain.SignalingStats{
		OffersSent:     1,
		AnswersSent:    1,
		CandidatesSent: 2,
		LastTarget:     connB,
		LastSignalAt:   now,
	}, conn.Stats)
}

func TestRouterService_ForwardStatus(t *testing.T) {
	f := newRouterFixture(t, connA, connB)
	f.registry.Register(connA, "alice", time.Now())
	f.metrics.On("SignalRelayed", domain.MessageConnectionStatus).Once()

	delivered, err := f.router.ForwardStatus(connA, json.RawMessage(`{"target":"conn-b","status":"disconnected"}`))
	require.NoError(t, err)
	assert.True(t, delivered)

	events := f.emitter.drain(connB)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPeerConnectionStatus, events[0].Type)
	assert.Equal(t, domain.PeerStatusPayload{From: connA, Username: "alice", Status: "disconnected"}, events[0].Payload)
	f.metrics.AssertExpectations(t)
}

func TestRouterService_ForwardStatusWithoutTarget(t *testing.T) {
	f := newRouterFixture(t, connA, connB)

	delivered, err := f.router.ForwardStatus(connA, json.RawMessage(`{"status":"connected"}`))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, f.emitter.drain(connB))
	f.metrics.AssertNotCalled(t, "SignalDropped", mock.Anything, mock.Anything)
}

func TestRouterService_EmptyDisplayNameOmitsUsername(t *testing.T) {
	f := newRouterFixture(t, connA, connB)
	f.registry.Register(connA, "", time.Now())
	f.metrics.On("SignalRelayed", mock.Anything)

	_, err := f.router.Forward(connA, domain.SignalOffer,
		json.RawMessage(`{"target":"conn-b","offer":{}}`), time.Now())
	require.NoError(t, err)
	_, err = f.router.ForwardStatus(connA, json.RawMessage(`{"target":"conn-b","status":"connected"}`))
	require.NoError(t, err)

	events := f.emitter.drain(connB)
	require.Len(t, events, 2)
	for _, ev := range events {
		var got map[string]json.RawMessage
		decodeEvent(t, ev, &got)
		_, hasUsername := got["username"]
		assert.False(t, hasUsername, "%s carries an empty username", ev.Type)
	}
}
