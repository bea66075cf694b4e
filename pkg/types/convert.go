package types

import "errors"

// ToRequest converts the wire payload into a domain request.
func (r InferRequest) ToRequest() InferenceRequest {
	inputs := map[string]Value{}
	if r.Text != "" {
		inputs[SlotText] = Text{Text: r.Text}
	}
	if len(r.Audio) > 0 {
		inputs[SlotAudio] = Audio{Data: r.Audio, Format: r.AudioFormat, SampleRate: r.SampleRate}
	}
	if len(r.Image) > 0 {
		inputs[SlotImage] = Image{Data: r.Image, MIME: r.ImageMIME}
	}
	return NewRequest(r.SessionID, inputs, r.Params).WithStream(r.Stream)
}

// NewOutputValue converts a slot value to its wire form.
func NewOutputValue(v Value) OutputValue {
	switch x := v.(type) {
	case Text:
		return OutputValue{Kind: SlotText, Text: x.Text}
	case Audio:
		return OutputValue{Kind: SlotAudio, Data: x.Data, Format: x.Format, SampleRate: x.SampleRate}
	case Image:
		return OutputValue{Kind: SlotImage, Data: x.Data, Format: x.MIME}
	}
	return OutputValue{}
}

// NewInferResponse converts a result (or error result) to its wire form.
func NewInferResponse(res InferenceResult) InferResponse {
	out := InferResponse{Partial: res.Partial}
	if res.Err != nil {
		out.Error = NewErrorResponse(res.Err)
		out.Partial = false
	}
	if len(res.Outputs) > 0 {
		out.Outputs = make(map[string]OutputValue, len(res.Outputs))
		for k, v := range res.Outputs {
			out.Outputs[k] = NewOutputValue(v)
		}
	}
	if len(res.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(res.Metadata))
		for k, v := range res.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// NewErrorResponse maps err to its status code and stable kind.
func NewErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{Error: err.Error(), Code: 500}
	var e *Error
	if errors.As(err, &e) {
		resp.Code = e.StatusCode()
		resp.Kind = e.Code()
	}
	return resp
}
