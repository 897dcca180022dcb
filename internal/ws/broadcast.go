package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/pgalves/BarCodeApp/internal/session"
	"github.com/pgalves/BarCodeApp/internal/signaling"
)

// Broadcaster delivers one message to every registered session. Each
// delivery is independent: a dead or slow client costs one failed send,
// nothing more.
type Broadcaster struct {
	registry *session.Registry
}

func NewBroadcaster(registry *session.Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast sends msg to every live session and reports how many sends
// succeeded and failed. Iteration runs on a registry snapshot, so no
// registry lock is held across transport sends.
func (b *Broadcaster) Broadcast(msg signaling.RestMessage) (delivered, failed int) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast marshal", "error", err)
		return 0, 0
	}

	b.registry.ForEach(func(s session.Session) {
		if err := s.Transport.Send(data); err != nil {
			slog.Warn("broadcast send", "session", s.ID, "error", err)
			failed++
			return
		}
		delivered++
	})
	return delivered, failed
}
