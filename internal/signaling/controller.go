// Package signaling implements the per-session protocol state machine:
// it maps start/stop messages onto media-pipeline provisioning and
// teardown, and fans detection events out to the client and the CEP sink.
package signaling

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pgalves/BarCodeApp/internal/session"
)

type Controller struct {
	registry *session.Registry
	media    MediaClient
	notifier EventNotifier
}

func NewController(registry *session.Registry, media MediaClient, notifier EventNotifier) *Controller {
	return &Controller{
		registry: registry,
		media:    media,
		notifier: notifier,
	}
}

// HandleConnect registers a freshly connected client. The session starts
// without a pipeline; one is provisioned on the first start message.
func (c *Controller) HandleConnect(sid string, transport session.Sender) {
	c.registry.Put(session.Session{ID: sid, Transport: transport})
	slog.Info("session connected", "session", sid)
}

// HandleDisconnect removes the session and releases any pipeline it still
// holds. Safe to call for sessions that were never registered.
func (c *Controller) HandleDisconnect(sid string) {
	sess, ok := c.registry.Remove(sid)
	if !ok {
		return
	}
	if sess.Pipeline != nil {
		c.releasePipeline(sid, sess.Pipeline)
	}
	slog.Info("session disconnected", "session", sid)
}

// HandleMessage processes one inbound client message. Messages for one
// session arrive sequentially from its read loop; messages for distinct
// sessions may be handled concurrently.
func (c *Controller) HandleMessage(ctx context.Context, sid string, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("malformed client message", "session", sid, "error", err)
		c.sendError(sid, "invalid message format")
		return
	}

	switch msg.ID {
	case MsgStart:
		c.start(ctx, sid, msg.SDPOffer)
	case MsgStop:
		c.stop(sid)
	default:
		c.sendError(sid, "Invalid message with id "+msg.ID)
	}
}

// start provisions a WebRtcEndpoint wired through a ZBar filter and
// answers the client's SDP offer. A second start on a session that
// already holds a pipeline releases the old one and negotiates afresh.
// On any provisioning failure the partial pipeline is released and the
// client gets a single error message.
func (c *Controller) start(ctx context.Context, sid, offer string) {
	if offer == "" {
		c.sendError(sid, "start message requires an sdpOffer")
		return
	}

	pipeline, err := c.media.CreatePipeline(ctx)
	if err != nil {
		slog.Error("create pipeline", "session", sid, "error", err)
		c.sendError(sid, "could not create media pipeline")
		return
	}

	endpoint, err := c.provision(ctx, sid, pipeline)
	if err != nil {
		slog.Error("provision pipeline", "session", sid, "error", err)
		c.releasePipeline(sid, pipeline)
		c.sendError(sid, "could not set up media elements")
		return
	}

	displaced, attached := c.registry.AttachPipeline(sid, pipeline)
	if !attached {
		// Client disconnected while we were provisioning.
		c.releasePipeline(sid, pipeline)
		return
	}
	if displaced != nil {
		c.releasePipeline(sid, displaced)
	}

	answer, err := endpoint.ProcessOffer(ctx, offer)
	if err != nil {
		slog.Error("process offer", "session", sid, "error", err)
		if p := c.registry.DetachPipeline(sid); p != nil {
			c.releasePipeline(sid, p)
		}
		c.sendError(sid, "could not process SDP offer")
		return
	}

	c.send(sid, startResponseMessage{ID: MsgStartResponse, SDPAnswer: answer})
	slog.Info("session started", "session", sid)
}

func (c *Controller) provision(ctx context.Context, sid string, pipeline MediaPipeline) (MediaElement, error) {
	endpoint, err := pipeline.CreateWebRTCEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := pipeline.CreateZBarFilter(ctx)
	if err != nil {
		return nil, err
	}
	if err := endpoint.Connect(ctx, filter); err != nil {
		return nil, err
	}
	if err := filter.Connect(ctx, endpoint); err != nil {
		return nil, err
	}
	if err := filter.SubscribeCodeFound(ctx, func(ev CodeFound) {
		c.onCodeFound(sid, ev)
	}); err != nil {
		return nil, err
	}
	return endpoint, nil
}

// stop releases the session's pipeline if it has one. Stopping an
// already-stopped session is a no-op.
func (c *Controller) stop(sid string) {
	if p := c.registry.DetachPipeline(sid); p != nil {
		c.releasePipeline(sid, p)
		slog.Info("session stopped", "session", sid)
	}
}

// Shutdown tears down every live session, releasing any pipelines still
// held. Used at process exit so the media server is not left holding
// orphaned resources.
func (c *Controller) Shutdown() {
	c.registry.ForEach(func(s session.Session) {
		c.HandleDisconnect(s.ID)
	})
}

// onCodeFound runs on the media client's event-dispatch goroutine. The
// registry lookup is the teardown guard: once the session's pipeline is
// detached or the session removed, late events are dropped silently.
func (c *Controller) onCodeFound(sid string, ev CodeFound) {
	sess, ok := c.registry.Get(sid)
	if !ok || sess.Pipeline == nil {
		slog.Debug("dropping code event for inactive session", "session", sid)
		return
	}

	msg := codeMessage{ID: MsgZBarCode, Code: ev.CodeType, Type: ev.Type, Value: ev.Value}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal code message", "session", sid, "error", err)
	} else if err := sess.Transport.Send(data); err != nil {
		slog.Warn("send code message", "session", sid, "error", err)
	}

	// CEP delivery happens regardless of whether the client push worked,
	// and the notifier swallows its own failures.
	c.notifier.NotifyCodeFound(sid, ev.CodeType, ev.Value)
}

func (c *Controller) releasePipeline(sid string, p session.Pipeline) {
	// Release is part of cleanup paths, so it runs on a fresh context
	// rather than one the client may already have cancelled.
	if err := p.Release(context.Background()); err != nil {
		slog.Error("release pipeline", "session", sid, "error", err)
	}
}

func (c *Controller) send(sid string, msg any) {
	sess, ok := c.registry.Get(sid)
	if !ok {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal message", "session", sid, "error", err)
		return
	}
	if err := sess.Transport.Send(data); err != nil {
		slog.Warn("send message", "session", sid, "error", err)
	}
}

func (c *Controller) sendError(sid, text string) {
	c.send(sid, errorMessage{ID: MsgError, Message: text})
}
