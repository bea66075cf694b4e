package types

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a task category a runner can satisfy.
type Capability string

const (
	CapabilityLLM      Capability = "llm"
	CapabilityASR      Capability = "asr"
	CapabilityTTS      Capability = "tts"
	CapabilityVLM      Capability = "vlm"
	CapabilityGuardian Capability = "guardian"
)

// AllCapabilities lists the known capabilities in a stable order.
var AllCapabilities = []Capability{CapabilityLLM, CapabilityASR, CapabilityTTS, CapabilityVLM, CapabilityGuardian}

// ParseCapability accepts the canonical lowercase name as well as the
// upper-case and long-form aliases used in settings files.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llm", "text_generation":
		return CapabilityLLM, nil
	case "asr", "speech_recognition":
		return CapabilityASR, nil
	case "tts", "speech_synthesis":
		return CapabilityTTS, nil
	case "vlm", "vision_language":
		return CapabilityVLM, nil
	case "guardian", "safety_analysis":
		return CapabilityGuardian, nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// Standard input/output slot names.
const (
	SlotText  = "text"
	SlotAudio = "audio"
	SlotImage = "image"
)

// Value is a tagged union of slot payloads. The set of variants is closed:
// Text, Audio and Image.
type Value interface {
	isValue()
	// Kind names the variant ("text", "audio", "image").
	Kind() string
}

// Text is a UTF-8 text payload.
type Text struct {
	Text string
}

// Audio is a raw audio payload.
type Audio struct {
	Data       []byte
	SampleRate int
	Format     string // e.g. "pcm_s16le", "wav"
}

// Image is an encoded image payload.
type Image struct {
	Data []byte
	MIME string
}

func (Text) isValue()  {}
func (Audio) isValue() {}
func (Image) isValue() {}

func (Text) Kind() string  { return SlotText }
func (Audio) Kind() string { return SlotAudio }
func (Image) Kind() string { return SlotImage }

// InferenceRequest is immutable once constructed; use NewRequest and the
// With* helpers, which copy.
type InferenceRequest struct {
	SessionID string
	Inputs    map[string]Value
	Params    map[string]any
	Stream    bool
}

// NewRequest builds a request, copying the provided maps.
func NewRequest(sessionID string, inputs map[string]Value, params map[string]any) InferenceRequest {
	return InferenceRequest{
		SessionID: sessionID,
		Inputs:    copyValues(inputs),
		Params:    copyParams(params),
	}
}

// WithStream returns a copy of r with the streaming mode set.
func (r InferenceRequest) WithStream(stream bool) InferenceRequest {
	out := r.clone()
	out.Stream = stream
	return out
}

// WithInput returns a copy of r with slot replaced by v.
func (r InferenceRequest) WithInput(slot string, v Value) InferenceRequest {
	out := r.clone()
	out.Inputs[slot] = v
	return out
}

// Input returns the value in slot.
func (r InferenceRequest) Input(slot string) (Value, bool) {
	v, ok := r.Inputs[slot]
	return v, ok
}

// Text returns the text in slot, if the slot holds a Text value.
func (r InferenceRequest) Text(slot string) (string, bool) {
	if t, ok := r.Inputs[slot].(Text); ok {
		return t.Text, true
	}
	return "", false
}

// Param returns a request parameter.
func (r InferenceRequest) Param(key string) (any, bool) {
	v, ok := r.Params[key]
	return v, ok
}

// StringParam returns a string parameter or "" when absent or not a string.
func (r InferenceRequest) StringParam(key string) string {
	if s, ok := r.Params[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// TextSlots returns the names of text-valued input slots in sorted order.
func (r InferenceRequest) TextSlots() []string {
	return textSlots(r.Inputs)
}

func (r InferenceRequest) clone() InferenceRequest {
	return InferenceRequest{
		SessionID: r.SessionID,
		Inputs:    copyValues(r.Inputs),
		Params:    copyParams(r.Params),
		Stream:    r.Stream,
	}
}

// InferenceResult is either a success payload or an error (Err != nil).
// Partial marks streaming chunks that are not the last of their stream.
type InferenceResult struct {
	Outputs  map[string]Value
	Metadata map[string]string
	Partial  bool
	Err      error
}

// TextResult is a convenience constructor for a single text output.
func TextResult(text string) InferenceResult {
	return InferenceResult{Outputs: map[string]Value{SlotText: Text{Text: text}}}
}

// ErrorResult wraps err as a terminal result.
func ErrorResult(err error) InferenceResult {
	return InferenceResult{Err: err}
}

// Text returns the text in slot, if present.
func (r InferenceResult) Text(slot string) (string, bool) {
	if t, ok := r.Outputs[slot].(Text); ok {
		return t.Text, true
	}
	return "", false
}

// TextSlots returns the names of text-valued output slots in sorted order.
func (r InferenceResult) TextSlots() []string {
	return textSlots(r.Outputs)
}

// WithOutput returns a copy of r with slot replaced by v.
func (r InferenceResult) WithOutput(slot string, v Value) InferenceResult {
	out := r.clone()
	if out.Outputs == nil {
		out.Outputs = map[string]Value{}
	}
	out.Outputs[slot] = v
	return out
}

// WithMetadata returns a copy of r with key set to value.
func (r InferenceResult) WithMetadata(key, value string) InferenceResult {
	out := r.clone()
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	out.Metadata[key] = value
	return out
}

// WithPartial returns a copy of r with the partial flag set.
func (r InferenceResult) WithPartial(partial bool) InferenceResult {
	out := r.clone()
	out.Partial = partial
	return out
}

func (r InferenceResult) clone() InferenceResult {
	out := InferenceResult{Partial: r.Partial, Err: r.Err}
	if r.Outputs != nil {
		out.Outputs = copyValues(r.Outputs)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func textSlots(m map[string]Value) []string {
	var out []string
	for k, v := range m {
		if _, ok := v.(Text); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func copyValues(in map[string]Value) map[string]Value {
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
