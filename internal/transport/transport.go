// Package transport delivers inbound messages to the tracker and publishes
// outbound state.
package transport

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gustycube/skywatch/internal/types"
)

// Handler processes one event. Sources call it sequentially so updates
// are applied in arrival order.
type Handler func(ctx context.Context, ev types.Event) error

// Source feeds events to a Handler until ctx is done or input ends.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// decodeEvent accepts either a JSON event or plain text.
func decodeEvent(data []byte) (types.Event, bool) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return types.Event{}, false
	}
	if strings.HasPrefix(s, "{") {
		var ev types.Event
		if err := json.Unmarshal([]byte(s), &ev); err == nil {
			return ev, ev.Text != ""
		}
	}
	return types.Event{Text: s}, true
}
