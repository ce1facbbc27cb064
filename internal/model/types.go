package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

type VerbInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ResourceKind string `json:"resource_kind"`
	Payable      bool   `json:"payable,omitempty"`
}

type ProtocolInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Chains      []string   `json:"chains"`
	Verbs       []VerbInfo `json:"verbs"`
}

// ActionOutcome is what a protocol verb command reports. Message is the
// human-readable line an agent relays to the user.
type ActionOutcome struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Kind     string `json:"kind,omitempty"`
	ActionID string `json:"action_id,omitempty"`
	Protocol string `json:"protocol"`
	Verb     string `json:"verb"`
	Chain    string `json:"chain"`
	Resource string `json:"resource"`
	Amount   string `json:"amount"`
}

func (o ActionOutcome) PlainText() string { return o.Message }
