package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// ///////////////////////////////////////////////
// Command / Event tags
// ///////////////////////////////////////////////

// Command names a cmd field value sent outbound over an OpFrame frame.
type Command string

const (
	CmdDispatch                 Command = "DISPATCH"
	CmdSubscribe                Command = "SUBSCRIBE"
	CmdUnsubscribe              Command = "UNSUBSCRIBE"
	CmdSetActivity              Command = "SET_ACTIVITY"
	CmdSendActivityJoinInvite   Command = "SEND_ACTIVITY_JOIN_INVITE"
	CmdCloseActivityJoinRequest Command = "CLOSE_ACTIVITY_JOIN_REQUEST"
)

// Event names an evt field value dispatched inbound under cmd=DISPATCH.
type Event string

const (
	EvtReady               Event = "READY"
	EvtError               Event = "ERROR"
	EvtActivityJoin        Event = "ACTIVITY_JOIN"
	EvtActivitySpectate    Event = "ACTIVITY_SPECTATE"
	EvtActivityJoinRequest Event = "ACTIVITY_JOIN_REQUEST"
)

// ///////////////////////////////////////////////
// Nonce
// ///////////////////////////////////////////////

// nonceCounter is a process-wide monotonically increasing nonce source.
// Every [Client] shares it; Discord only requires uniqueness per nonce,
// and a shared counter keeps the scheme simple and collision-free even
// if an application runs more than one Client.
var nonceCounter uint64

// NextNonce returns the next nonce in the process-wide sequence, rendered
// as a decimal string as the wire protocol requires.
func NextNonce() string {
	n := atomic.AddUint64(&nonceCounter, 1)
	return strconv.FormatUint(n, 10)
}

// ///////////////////////////////////////////////
// Outbound: Argument payload
// ///////////////////////////////////////////////

// ArgumentPayload is the outbound envelope shape used for SetActivity,
// Subscribe, Unsubscribe, and join-invite responses: {cmd, nonce, args}.
type ArgumentPayload struct {
	Cmd   Command `json:"cmd"`
	Nonce string  `json:"nonce,omitempty"`
	Args  any     `json:"args,omitempty"`
	Evt   Event   `json:"evt,omitempty"`
}

// Marshal encodes p as JSON, omitting null/empty optional fields.
func (p ArgumentPayload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling argument payload: %w", err)
	}
	return b, nil
}

// ///////////////////////////////////////////////
// Inbound: generic envelope
// ///////////////////////////////////////////////

// Envelope is the generic shape of any decoded OpFrame payload. Fields are
// read out with type assertions rather than strict struct decoding so
// unrecognized additive server fields never fail the unmarshal.
type Envelope struct {
	Cmd   string
	Nonce string
	Evt   string
	Data  map[string]any
	Raw   map[string]any
}

// DecodeEnvelope parses raw JSON bytes (an OpFrame payload) into an Envelope.
// It never errors on unknown fields; it only errors on malformed JSON.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	env := Envelope{Raw: m}
	if v, ok := m["cmd"].(string); ok {
		env.Cmd = v
	}
	if v, ok := m["evt"].(string); ok {
		env.Evt = v
	}
	switch v := m["nonce"].(type) {
	case string:
		env.Nonce = v
	case float64:
		env.Nonce = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if v, ok := m["data"].(map[string]any); ok {
		env.Data = v
	}
	return env, nil
}

// IsDispatch reports whether the envelope is an inbound event dispatch
// (cmd == DISPATCH).
func (e Envelope) IsDispatch() bool {
	return e.Cmd == string(CmdDispatch)
}

// ErrorMessage extracts the error text from an ERROR-event envelope's data,
// returning "" if none is present.
func (e Envelope) ErrorMessage() string {
	if e.Data == nil {
		return ""
	}
	if msg, ok := e.Data["message"].(string); ok {
		return msg
	}
	return ""
}

// ErrorCode extracts the numeric error code from an ERROR-event
// envelope's data, returning 0 if none is present.
func (e Envelope) ErrorCode() int {
	if e.Data == nil {
		return 0
	}
	if code, ok := e.Data["code"].(float64); ok {
		return int(code)
	}
	return 0
}
