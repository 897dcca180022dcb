package signaling

import "context"

// CodeFound is one detection event from the backend filter.
type CodeFound struct {
	CodeType string
	Type     string
	Value    string
}

// MediaClient is the capability the controller needs from the media
// server: the ability to provision a fresh pipeline.
type MediaClient interface {
	CreatePipeline(ctx context.Context) (MediaPipeline, error)
}

// MediaPipeline is one remote pipeline resource. It also satisfies
// session.Pipeline, so it can be parked in the registry for teardown.
type MediaPipeline interface {
	CreateWebRTCEndpoint(ctx context.Context) (MediaElement, error)
	CreateZBarFilter(ctx context.Context) (MediaElement, error)
	Release(ctx context.Context) error
}

// MediaElement is one element inside a pipeline. SubscribeCodeFound is
// only meaningful on filter elements; the media server rejects it on
// others. The handler may be invoked concurrently with, and after,
// session teardown.
type MediaElement interface {
	Connect(ctx context.Context, sink MediaElement) error
	ProcessOffer(ctx context.Context, offer string) (string, error)
	SubscribeCodeFound(ctx context.Context, handler func(CodeFound)) error
}

// EventNotifier forwards a detection event to the CEP sink. Delivery is
// fire-and-forget: implementations swallow and log their own failures.
type EventNotifier interface {
	NotifyCodeFound(sessionID, codeType, value string)
}
