package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeKMS is an in-process stand-in for a media server: it answers
// JSON-RPC requests over a WebSocket and can push onEvent notifications.
type fakeKMS struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	requests   []map[string]any
	nextObject int
	failMethod string // respond with an error to this method
	mute       bool   // swallow requests without answering
}

func newFakeKMS(t *testing.T) *fakeKMS {
	t.Helper()
	k := &fakeKMS{t: t}
	upgrader := websocket.Upgrader{}
	k.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		k.mu.Lock()
		k.conn = conn
		k.mu.Unlock()
		k.serve(conn)
	}))
	t.Cleanup(k.srv.Close)
	return k
}

func (k *fakeKMS) url() string {
	return "ws" + strings.TrimPrefix(k.srv.URL, "http")
}

func (k *fakeKMS) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		k.mu.Lock()
		k.requests = append(k.requests, req)
		mute := k.mute
		fail := k.failMethod
		k.mu.Unlock()

		if mute {
			continue
		}

		method, _ := req["method"].(string)
		id := req["id"]
		if method == fail {
			k.write(map[string]any{
				"jsonrpc": "2.0", "id": id,
				"error": map[string]any{"code": 40101, "message": "induced failure"},
			})
			continue
		}

		k.write(map[string]any{
			"jsonrpc": "2.0", "id": id,
			"result": k.resultFor(method, req),
		})
	}
}

func (k *fakeKMS) resultFor(method string, req map[string]any) map[string]any {
	res := map[string]any{"sessionId": "kms-session-1"}
	params, _ := req["params"].(map[string]any)

	switch method {
	case "create":
		objType, _ := params["type"].(string)
		ctor, _ := params["constructorParams"].(map[string]any)
		k.mu.Lock()
		k.nextObject++
		n := k.nextObject
		k.mu.Unlock()
		oid := fmt.Sprintf("%s_%d", objType, n)
		if pid, ok := ctor["mediaPipeline"].(string); ok {
			oid = pid + "/" + oid
		}
		res["value"] = oid
	case "invoke":
		if op, _ := params["operation"].(string); op == "processOffer" {
			res["value"] = "sdp-answer"
		}
	case "subscribe":
		res["value"] = "sub-1"
	}
	return res
}

// closeConn drops the server side of the WebSocket. The httptest server's
// CloseClientConnections cannot do this: gorilla/websocket hijacks the
// connection on upgrade, and httptest stops tracking hijacked conns.
func (k *fakeKMS) closeConn() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.conn != nil {
		k.conn.Close()
	}
}

func (k *fakeKMS) write(frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		k.t.Errorf("fakeKMS marshal: %v", err)
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.conn != nil {
		k.conn.WriteMessage(websocket.TextMessage, data)
	}
}

// pushCodeFound emits an onEvent notification for the given object.
func (k *fakeKMS) pushCodeFound(object, codeType, value string) {
	k.write(map[string]any{
		"jsonrpc": "2.0",
		"method":  "onEvent",
		"params": map[string]any{
			"value": map[string]any{
				"object": object,
				"type":   "CodeFound",
				"data": map[string]any{
					"codeType": codeType,
					"type":     "CodeFound",
					"value":    value,
				},
			},
		},
	})
}

func (k *fakeKMS) requestCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.requests)
}

func dialTest(t *testing.T, k *fakeKMS, timeout time.Duration) *Client {
	t.Helper()
	c, err := Dial(context.Background(), k.url(), timeout)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestProvisionAndNegotiate(t *testing.T) {
	kms := newFakeKMS(t)
	c := dialTest(t, kms, 2*time.Second)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if p.ID() == "" {
		t.Fatal("pipeline has empty id")
	}

	endpoint, err := p.CreateWebRTCEndpoint(ctx)
	if err != nil {
		t.Fatalf("CreateWebRTCEndpoint: %v", err)
	}
	filter, err := p.CreateZBarFilter(ctx)
	if err != nil {
		t.Fatalf("CreateZBarFilter: %v", err)
	}
	if !strings.HasPrefix(endpoint.ID(), p.ID()+"/") {
		t.Errorf("endpoint id %q not namespaced under pipeline %q", endpoint.ID(), p.ID())
	}

	if err := endpoint.Connect(ctx, filter); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := filter.Connect(ctx, endpoint); err != nil {
		t.Fatalf("Connect back: %v", err)
	}

	answer, err := endpoint.ProcessOffer(ctx, "v=0")
	if err != nil {
		t.Fatalf("ProcessOffer: %v", err)
	}
	if answer != "sdp-answer" {
		t.Errorf("answer = %q, want sdp-answer", answer)
	}

	if err := p.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Requests after the first must carry the server-assigned session id.
	kms.mu.Lock()
	defer kms.mu.Unlock()
	for i, req := range kms.requests[1:] {
		params, _ := req["params"].(map[string]any)
		if params["sessionId"] != "kms-session-1" {
			t.Errorf("request %d missing sessionId: %v", i+1, req)
		}
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	kms := newFakeKMS(t)
	kms.failMethod = "create"
	c := dialTest(t, kms, 2*time.Second)

	_, err := c.CreatePipeline(context.Background())
	if err == nil {
		t.Fatal("CreatePipeline returned nil error")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error %v is not an *RPCError", err)
	}
	if rpcErr.Code != 40101 {
		t.Errorf("error code = %d, want 40101", rpcErr.Code)
	}
}

func TestCodeFoundDispatch(t *testing.T) {
	kms := newFakeKMS(t)
	c := dialTest(t, kms, 2*time.Second)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	filter, err := p.CreateZBarFilter(ctx)
	if err != nil {
		t.Fatalf("CreateZBarFilter: %v", err)
	}

	events := make(chan CodeFoundEvent, 1)
	if err := filter.SubscribeCodeFound(ctx, func(ev CodeFoundEvent) {
		events <- ev
	}); err != nil {
		t.Fatalf("SubscribeCodeFound: %v", err)
	}

	kms.pushCodeFound(filter.ID(), "QR-Code", "hello")

	select {
	case ev := <-events:
		if ev.CodeType != "QR-Code" || ev.Value != "hello" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CodeFound event")
	}

	// Events for other objects must not reach this handler.
	kms.pushCodeFound("someone-else", "QR-Code", "not-mine")
	select {
	case ev := <-events:
		t.Errorf("received event for foreign object: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReleaseDropsHandlers(t *testing.T) {
	kms := newFakeKMS(t)
	c := dialTest(t, kms, 2*time.Second)
	ctx := context.Background()

	p, _ := c.CreatePipeline(ctx)
	filter, _ := p.CreateZBarFilter(ctx)

	events := make(chan CodeFoundEvent, 1)
	if err := filter.SubscribeCodeFound(ctx, func(ev CodeFoundEvent) {
		events <- ev
	}); err != nil {
		t.Fatalf("SubscribeCodeFound: %v", err)
	}
	if err := p.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	kms.pushCodeFound(filter.ID(), "QR-Code", "late")
	select {
	case ev := <-events:
		t.Errorf("received event after release: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCallTimeout(t *testing.T) {
	kms := newFakeKMS(t)
	kms.mute = true
	c := dialTest(t, kms, 50*time.Millisecond)

	_, err := c.CreatePipeline(context.Background())
	if err == nil {
		t.Fatal("CreatePipeline returned nil error from a mute server")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}

	// The pending entry must be cleaned up.
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d pending calls after timeout, want 0", pending)
	}
}

func TestConnectionLoss(t *testing.T) {
	kms := newFakeKMS(t)
	c := dialTest(t, kms, 2*time.Second)

	if _, err := c.CreatePipeline(context.Background()); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if kms.requestCount() == 0 {
		t.Fatal("fake KMS saw no requests")
	}

	kms.closeConn()

	// The read loop notices asynchronously; poll until calls start failing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := c.CreatePipeline(context.Background()); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("calls kept succeeding after connection loss")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
