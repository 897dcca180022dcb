package kurento

import "context"

// Pipeline is one MediaPipeline object on the server.
type Pipeline struct {
	c  *Client
	id string
}

func (c *Client) CreatePipeline(ctx context.Context) (*Pipeline, error) {
	id, err := c.create(ctx, "MediaPipeline", nil)
	if err != nil {
		return nil, err
	}
	return &Pipeline{c: c, id: id}, nil
}

func (p *Pipeline) ID() string { return p.id }

// Release destroys the pipeline and every element in it, and drops any
// event handlers registered for those elements.
func (p *Pipeline) Release(ctx context.Context) error {
	err := p.c.release(ctx, p.id)
	p.c.dropHandlersUnder(p.id)
	return err
}

func (p *Pipeline) CreateWebRTCEndpoint(ctx context.Context) (*Element, error) {
	return p.createElement(ctx, "WebRtcEndpoint")
}

func (p *Pipeline) CreateZBarFilter(ctx context.Context) (*Element, error) {
	return p.createElement(ctx, "ZBarFilter")
}

func (p *Pipeline) createElement(ctx context.Context, elemType string) (*Element, error) {
	id, err := p.c.create(ctx, elemType, map[string]any{
		"mediaPipeline": p.id,
	})
	if err != nil {
		return nil, err
	}
	return &Element{c: p.c, id: id}, nil
}

// Element is one media element (endpoint or filter) on the server.
type Element struct {
	c  *Client
	id string
}

func (e *Element) ID() string { return e.id }

func (e *Element) Connect(ctx context.Context, sink *Element) error {
	_, err := e.c.invoke(ctx, e.id, "connect", map[string]any{
		"sink": sink.id,
	})
	return err
}

func (e *Element) ProcessOffer(ctx context.Context, offer string) (string, error) {
	return e.c.invoke(ctx, e.id, "processOffer", map[string]any{
		"offer": offer,
	})
}

// SubscribeCodeFound registers handler for CodeFound events on this
// element and subscribes server-side. The handler runs on its own
// goroutine per event.
func (e *Element) SubscribeCodeFound(ctx context.Context, handler func(CodeFoundEvent)) error {
	e.c.setHandler(e.id, handler)
	if err := e.c.subscribe(ctx, e.id, "CodeFound"); err != nil {
		e.c.setHandler(e.id, nil)
		return err
	}
	return nil
}
