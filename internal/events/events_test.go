package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/ws"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

type mockBroadcaster struct {
	rooms []string
	full  bool
}

func (m *mockBroadcaster) Broadcast(room string, event ws.Event) bool {
	if m.full {
		return false
	}
	m.rooms = append(m.rooms, room)
	return true
}

type recorder struct{ got []Event }

func (r *recorder) Publish(_ context.Context, e Event) { r.got = append(r.got, e) }

func sampleEvent() Event {
	return Event{
		ID:              uuid.New(),
		Type:            enum.EventAdjustmentApproved,
		AdjustmentID:    uuid.New(),
		OrderID:         uuid.New(),
		Status:          enum.AdjustmentStatusAutoApproved.String(),
		PriceDifference: decimal.RequireFromString("24.00"),
		Version:         3,
		OccurredAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_KeysByOrder(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w, topic: "weight-adjustments"}
	e := sampleEvent()

	p.Publish(context.Background(), e)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, e.OrderID.String(), string(msg.Key))
	assert.Equal(t, e.OccurredAt, msg.Time)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.AdjustmentID, decoded.AdjustmentID)
	assert.True(t, e.PriceDifference.Equal(decoded.PriceDifference))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, enum.EventAdjustmentApproved, headers["event-type"])
	assert.Equal(t, e.ID.String(), headers["event-id"])
}

func TestKafkaPublisher_WriteErrorIsSwallowed(t *testing.T) {
	reg := metrics.NewRegistry()
	p := &KafkaPublisher{writer: &mockWriter{err: errors.New("broker down")}, topic: "t", metrics: reg}

	p.Publish(context.Background(), sampleEvent())

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.EventsPublished.WithLabelValues("kafka", "error")))
}

func TestHubPublisher_BroadcastsToAdminAndOrderRooms(t *testing.T) {
	b := &mockBroadcaster{}
	e := sampleEvent()

	NewHubPublisher(b, nil).Publish(context.Background(), e)

	assert.Equal(t, []string{ws.RoomAdjustments, ws.OrderRoom(e.OrderID)}, b.rooms)
}

func TestHubPublisher_SaturatedHubDrops(t *testing.T) {
	reg := metrics.NewRegistry()
	NewHubPublisher(&mockBroadcaster{full: true}, reg).Publish(context.Background(), sampleEvent())

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.EventsPublished.WithLabelValues("websocket", "error")))
}

func TestMulti_FansOutInOrder(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	e := sampleEvent()

	Multi{a, nil, b}.Publish(context.Background(), e)

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	assert.Equal(t, e.ID, b.got[0].ID)
}
