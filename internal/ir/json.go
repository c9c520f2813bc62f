package ir

import (
	"encoding/json"
	"fmt"
)

// Value is an interface, so structs carrying one encode it through a
// json.RawMessage shadow field.

type opJSON struct {
	Action Action          `json:"action"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
	Pred   []OpID          `json:"pred"`
}

// MarshalJSON implements json.Marshaler.
func (o Op) MarshalJSON() ([]byte, error) {
	out := opJSON{Action: o.Action, Key: o.Key, Pred: o.Pred}
	if out.Pred == nil {
		out.Pred = []OpID{}
	}
	if o.Value != nil {
		b, err := MarshalValue(o.Value)
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", o.Key, err)
		}
		out.Value = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Op) UnmarshalJSON(data []byte) error {
	var in opJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Action {
	case ActionSet, ActionDel:
	default:
		return fmt.Errorf("op %q: unknown action %q", in.Key, in.Action)
	}
	*o = Op{Action: in.Action, Key: in.Key, Pred: in.Pred}
	if len(in.Value) > 0 {
		v, err := UnmarshalValue(in.Value)
		if err != nil {
			return fmt.Errorf("op %q: %w", in.Key, err)
		}
		o.Value = v
	}
	if o.Action == ActionSet && o.Value == nil {
		return fmt.Errorf("op %q: set without value", in.Key)
	}
	return nil
}

type entryJSON struct {
	ID    OpID            `json:"id"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	b, err := MarshalValue(e.Value)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return json.Marshal(entryJSON{ID: e.ID, Value: b})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v, err := UnmarshalValue(in.Value)
	if err != nil {
		return fmt.Errorf("entry %s: %w", in.ID, err)
	}
	*e = Entry{ID: in.ID, Value: v}
	return nil
}
