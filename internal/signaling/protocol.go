package signaling

import "encoding/json"

// Message kinds exchanged with browser clients.
const (
	MsgStart         = "start"
	MsgStartResponse = "startResponse"
	MsgStop          = "stop"
	MsgError         = "error"
	MsgZBarCode      = "zbarcode"
	MsgRest          = "rest"
)

type inboundMessage struct {
	ID       string `json:"id"`
	SDPOffer string `json:"sdpOffer"`
}

type startResponseMessage struct {
	ID        string `json:"id"`
	SDPAnswer string `json:"sdpAnswer"`
}

type errorMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type codeMessage struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RestMessage is pushed to every connected client when an external system
// posts to the broadcast endpoint. The fields pass through verbatim, so
// they are kept as raw JSON values.
type RestMessage struct {
	ID          string          `json:"id"`
	Source      json.RawMessage `json:"source"`
	Description json.RawMessage `json:"description"`
	Value       json.RawMessage `json:"value"`
}

func NewRestMessage(source, description, value json.RawMessage) RestMessage {
	return RestMessage{
		ID:          MsgRest,
		Source:      source,
		Description: description,
		Value:       value,
	}
}
