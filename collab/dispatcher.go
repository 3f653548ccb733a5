package collab

import (
	"encoding/json"

	"github.com/golang/glog"
)

// fans a processed event out to live connections. The event processor calls
// this while holding the core lock, so enqueue order is identical for every
// receiver and equals processing order. No reordering is permitted, even
// when a send to one peer fails.
type BroadcastDispatcher struct {
	registry *ConnectionRegistry
}

func NewBroadcastDispatcher(registry *ConnectionRegistry) *BroadcastDispatcher {
	return &BroadcastDispatcher{
		registry: registry,
	}
}

// the origin is deliberately not excluded. The server is the source of
// truth and the origin re-renders from its own event echo.
func (self *BroadcastDispatcher) Publish(event *ChangeEvent, origin Id) {
	self.PublishMessage(NewEventMessage(event))
}

func (self *BroadcastDispatcher) PublishMessage(message any, excluding ...Id) {
	frame, err := json.Marshal(message)
	if err != nil {
		glog.Warningf("[d]marshal error = %s\n", err)
		return
	}
	self.registry.Broadcast(frame, excluding...)
	glog.V(2).Infof("[d]broadcast %d bytes\n", len(frame))
}
