package runner

import "testing"

func TestValidateAgainst(t *testing.T) {
	schema := []ParameterDescriptor{
		{Name: "temperature", Type: ParamNumber, Min: Bound(0), Max: Bound(2)},
		{Name: "max_tokens", Type: ParamInteger, Min: Bound(1)},
		{Name: "voice", Type: ParamString, Enum: []string{"a", "b"}},
		{Name: "prompt_style", Type: ParamString, Required: true},
	}
	cases := []struct {
		name   string
		params map[string]any
		valid  bool
	}{
		{"ok", map[string]any{"temperature": 0.7, "max_tokens": 32, "voice": "a", "prompt_style": "chat", "model": "x"}, true},
		{"missing required", map[string]any{}, false},
		{"out of range", map[string]any{"temperature": 3.0, "prompt_style": "chat"}, false},
		{"not integer", map[string]any{"max_tokens": 1.5, "prompt_style": "chat"}, false},
		{"bad enum", map[string]any{"voice": "z", "prompt_style": "chat"}, false},
		{"wrong type", map[string]any{"temperature": "hot", "prompt_style": "chat"}, false},
	}
	for _, c := range cases {
		res := ValidateAgainst(schema, c.params)
		if res.Valid != c.valid {
			t.Fatalf("%s: valid=%v errors=%v", c.name, res.Valid, res.Errors)
		}
		if !c.valid && res.Err() == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
}

func TestMergeParams(t *testing.T) {
	got := MergeParams(map[string]any{"a": 1, "b": 1}, nil, map[string]any{"b": 2})
	if got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("merge=%v", got)
	}
	if IntParam(got, "b", 0) != 2 || FloatParam(got, "zz", 0.5) != 0.5 {
		t.Fatalf("param helpers")
	}
}
