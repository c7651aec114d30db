package process

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Step is one unit of resumable work. Each handler defines one struct per
// action it can perform; the struct fields are the action's parameters and
// Kind names the variant in persisted state.
type Step interface {
	Kind() string
}

// Envelope is the persisted form of a Step.
type Envelope struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// codec maps step kinds back to their concrete types.
type codec struct {
	types map[string]reflect.Type
}

func newCodec(steps []Step) (*codec, error) {
	c := &codec{types: make(map[string]reflect.Type, len(steps))}
	for _, s := range steps {
		t := reflect.TypeOf(s)
		if t.Kind() == reflect.Pointer {
			return nil, fmt.Errorf("step %s must be registered as a value type", s.Kind())
		}
		if prev, ok := c.types[s.Kind()]; ok && prev != t {
			return nil, fmt.Errorf("step kind %q registered twice", s.Kind())
		}
		c.types[s.Kind()] = t
	}
	return c, nil
}

func (c *codec) encode(s Step) (Envelope, error) {
	if _, ok := c.types[s.Kind()]; !ok {
		return Envelope{}, fmt.Errorf("unregistered step kind %q", s.Kind())
	}
	params, err := json.Marshal(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding step %s: %w", s.Kind(), err)
	}
	return Envelope{Kind: s.Kind(), Params: params}, nil
}

func (c *codec) decode(e Envelope) (Step, error) {
	t, ok := c.types[e.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown step kind %q", e.Kind)
	}
	v := reflect.New(t)
	if len(e.Params) > 0 {
		if err := json.Unmarshal(e.Params, v.Interface()); err != nil {
			return nil, fmt.Errorf("decoding step %s: %w", e.Kind, err)
		}
	}
	return v.Elem().Interface().(Step), nil
}
