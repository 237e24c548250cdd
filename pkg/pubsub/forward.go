package pubsub

import (
	"encoding/json"

	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

// ChangeForwarder publishes every change record of a workspace on
// TopicChanges, using the record's wire form as payload.
type ChangeForwarder struct {
	pub Publisher
	ws  *model.Workspace
	id  model.ListenerID
}

// ForwardChanges registers a forwarder on ws. Stop unregisters it.
func ForwardChanges(ws *model.Workspace, pub Publisher) *ChangeForwarder {
	f := &ChangeForwarder{pub: pub, ws: ws}
	f.id = ws.AddChangeListener(f)
	return f
}

// HandleEvent implements model.Listener
func (f *ChangeForwarder) HandleEvent(e model.Event) {
	data, err := model.MarshalEvent(e)
	if err != nil {
		logging.Error("failed to encode change record", "type", e.Type(), "error", err)
		return
	}
	if err := f.pub.Publish(TopicChanges, string(e.Type()), json.RawMessage(data)); err != nil {
		logging.Warn("failed to publish change record", "type", e.Type(), "error", err)
	}
}

// Stop unregisters the forwarder
func (f *ChangeForwarder) Stop() {
	f.ws.RemoveChangeListener(f.id)
}
