package types

import (
	"encoding/json"
	"fmt"
)

// PayloadKind discriminates the JSON shape a Payload was decoded from.
type PayloadKind int

const (
	PayloadString PayloadKind = iota
	PayloadList
	PayloadDict
)

// Payload holds the command or config body of an execution request. The
// wire form is a JSON string, a list of strings, or an object; an object
// carries template context and only becomes device input after rendering.
type Payload struct {
	kind PayloadKind
	str  string
	list []string
	dict map[string]any
}

func StringPayload(s string) *Payload {
	return &Payload{kind: PayloadString, str: s}
}

func ListPayload(lines ...string) *Payload {
	return &Payload{kind: PayloadList, list: lines}
}

func DictPayload(m map[string]any) *Payload {
	return &Payload{kind: PayloadDict, dict: m}
}

func (p *Payload) Kind() PayloadKind { return p.kind }

// IsDict reports whether the payload is a template-context object and
// therefore requires a rendering step before execution.
func (p *Payload) IsDict() bool { return p != nil && p.kind == PayloadDict }

// Lines returns the payload as the per-command list the executor iterates
// over. A string payload yields a single element; a dict payload has no
// lines until rendered.
func (p *Payload) Lines() []string {
	if p == nil {
		return nil
	}
	switch p.kind {
	case PayloadString:
		return []string{p.str}
	case PayloadList:
		return p.list
	default:
		return nil
	}
}

// Dict returns the template context of a dict payload, or nil.
func (p *Payload) Dict() map[string]any {
	if p == nil || p.kind != PayloadDict {
		return nil
	}
	return p.dict
}

// Empty reports whether the payload carries no usable content.
func (p *Payload) Empty() bool {
	if p == nil {
		return true
	}
	switch p.kind {
	case PayloadString:
		return p.str == ""
	case PayloadList:
		return len(p.list) == 0
	default:
		return len(p.dict) == 0
	}
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Payload{kind: PayloadString, str: s}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = Payload{kind: PayloadList, list: list}
		return nil
	}

	var dict map[string]any
	if err := json.Unmarshal(data, &dict); err == nil {
		*p = Payload{kind: PayloadDict, dict: dict}
		return nil
	}

	return fmt.Errorf("payload must be a string, a list of strings, or an object")
}

func (p *Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	switch p.kind {
	case PayloadString:
		return json.Marshal(p.str)
	case PayloadList:
		return json.Marshal(p.list)
	default:
		return json.Marshal(p.dict)
	}
}
