package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/ws"
)

const sinkWebSocket = "websocket"

// Broadcaster is satisfied by *ws.Hub.
type Broadcaster interface {
	Broadcast(room string, event ws.Event) bool
}

// HubPublisher pushes events to connected admins and to the order's room.
type HubPublisher struct {
	hub     Broadcaster
	metrics *metrics.Registry
}

func NewHubPublisher(hub Broadcaster, m *metrics.Registry) *HubPublisher {
	return &HubPublisher{hub: hub, metrics: m}
}

func (p *HubPublisher) Publish(_ context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("ERROR: marshal event %s: %v", e.Type, err)
		return
	}
	msg := ws.Event{Type: e.Type, Payload: payload}

	for _, room := range []string{ws.RoomAdjustments, ws.OrderRoom(e.OrderID)} {
		if !p.hub.Broadcast(room, msg) {
			p.metrics.ObserveEvent(sinkWebSocket, errDropped)
			log.Printf("WARN: websocket hub saturated, dropped %s for room %s", e.Type, room)
			continue
		}
		p.metrics.ObserveEvent(sinkWebSocket, nil)
	}
}
