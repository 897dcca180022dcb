package kurento

import (
	"context"
	"fmt"

	"github.com/pgalves/BarCodeApp/internal/signaling"
)

// Media adapts a Client to the capability interfaces the signaling
// controller consumes.
type Media struct {
	c *Client
}

func NewMedia(c *Client) *Media {
	return &Media{c: c}
}

func (m *Media) CreatePipeline(ctx context.Context) (signaling.MediaPipeline, error) {
	p, err := m.c.CreatePipeline(ctx)
	if err != nil {
		return nil, err
	}
	return pipelineAdapter{p}, nil
}

type pipelineAdapter struct {
	p *Pipeline
}

func (a pipelineAdapter) CreateWebRTCEndpoint(ctx context.Context) (signaling.MediaElement, error) {
	e, err := a.p.CreateWebRTCEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return elementAdapter{e}, nil
}

func (a pipelineAdapter) CreateZBarFilter(ctx context.Context) (signaling.MediaElement, error) {
	e, err := a.p.CreateZBarFilter(ctx)
	if err != nil {
		return nil, err
	}
	return elementAdapter{e}, nil
}

func (a pipelineAdapter) Release(ctx context.Context) error {
	return a.p.Release(ctx)
}

type elementAdapter struct {
	e *Element
}

func (a elementAdapter) Connect(ctx context.Context, sink signaling.MediaElement) error {
	s, ok := sink.(elementAdapter)
	if !ok {
		return fmt.Errorf("kurento: connect sink %T is not a kurento element", sink)
	}
	return a.e.Connect(ctx, s.e)
}

func (a elementAdapter) ProcessOffer(ctx context.Context, offer string) (string, error) {
	return a.e.ProcessOffer(ctx, offer)
}

func (a elementAdapter) SubscribeCodeFound(ctx context.Context, handler func(signaling.CodeFound)) error {
	return a.e.SubscribeCodeFound(ctx, func(ev CodeFoundEvent) {
		handler(signaling.CodeFound{CodeType: ev.CodeType, Type: ev.Type, Value: ev.Value})
	})
}
