// Package cep forwards detection events to the complex-event-processing
// sink. Delivery is strictly fire-and-forget: failures are logged and
// dropped, never surfaced to callers.
package cep

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pgalves/BarCodeApp/internal/logging"
)

const eventName = "KurentoQRCodeEvent"

// Event is the envelope the CEP sink ingests. The Name casing is part of
// the sink's contract.
type Event struct {
	Name   string `json:"Name"`
	Source string `json:"source"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

type Notifier struct {
	uri    string
	client *http.Client
}

func NewNotifier(uri string, timeout time.Duration) *Notifier {
	return &Notifier{
		uri:    uri,
		client: &http.Client{Timeout: timeout},
	}
}

// NotifyCodeFound posts one detection event to the sink.
func (n *Notifier) NotifyCodeFound(sessionID, codeType, value string) {
	n.Notify(Event{
		Name:   eventName,
		Source: sessionID,
		Type:   codeType,
		Value:  value,
	})
}

// Notify performs a single POST with no retries. A transport error or a
// non-2xx status is logged and discarded.
func (n *Notifier) Notify(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("cep: marshal event", "error", err)
		return
	}

	resp, err := n.client.Post(n.uri, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Warn("cep: post event", "uri", n.uri, "error", logging.WrapError(err, "cep post"))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("cep: sink rejected event", "uri", n.uri, "status", resp.StatusCode)
	}
}
