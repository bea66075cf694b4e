package types

// InferRequest is the JSON payload accepted by POST /infer/{capability}.
type InferRequest struct {
	// Optional session identifier; generated when empty.
	// example: 9b2f0c9e-3f7e-4c55-9a53-0c1f4d1a6d11
	SessionID string `json:"session_id,omitempty" example:"9b2f0c9e-3f7e-4c55-9a53-0c1f4d1a6d11"`
	// Text input (llm, tts, guardian; optional prompt for vlm).
	// example: Write a haiku about the ocean.
	Text string `json:"text,omitempty" example:"Write a haiku about the ocean."`
	// Base64 audio input (asr).
	Audio []byte `json:"audio,omitempty" swaggertype:"string" format:"base64"`
	// Audio encoding of Audio, e.g. pcm_s16le or wav.
	// example: wav
	AudioFormat string `json:"audio_format,omitempty" example:"wav"`
	// Sample rate of Audio in Hz.
	// example: 16000
	SampleRate int `json:"sample_rate,omitempty" example:"16000"`
	// Base64 image input (vlm).
	Image []byte `json:"image,omitempty" swaggertype:"string" format:"base64"`
	// MIME type of Image.
	// example: image/png
	ImageMIME string `json:"image_mime,omitempty" example:"image/png"`
	// Free-form parameters (temperature, max_tokens, model override...).
	Params map[string]any `json:"params,omitempty"`
	// If true, stream results as NDJSON chunks.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// OutputValue is the JSON form of one output slot.
type OutputValue struct {
	// Variant: text, audio or image.
	// example: text
	Kind string `json:"kind" example:"text"`
	// Text payload for kind=text.
	Text string `json:"text,omitempty"`
	// Base64 payload for kind=audio or kind=image.
	Data []byte `json:"data,omitempty" swaggertype:"string" format:"base64"`
	// Audio format or image MIME type.
	Format string `json:"format,omitempty"`
	// Sample rate for kind=audio.
	SampleRate int `json:"sample_rate,omitempty"`
}

// InferResponse is one NDJSON line (streaming) or the whole body (blocking).
type InferResponse struct {
	Outputs  map[string]OutputValue `json:"outputs,omitempty"`
	Metadata map[string]string      `json:"metadata,omitempty"`
	// True for every streamed chunk except the last.
	Partial bool `json:"partial"`
	// True on the final line of a stream.
	Done bool `json:"done,omitempty"`
	// Set when a stream fails after it started.
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Stable error kind for classified errors.
	// example: invalid_input
	Kind string `json:"kind,omitempty" example:"invalid_input"`
}

// RunnerInfo describes a registered runner for GET /runners.
type RunnerInfo struct {
	// example: llama-server
	Name string `json:"name" example:"llama-server"`
	// example: ggml
	Vendor string `json:"vendor" example:"ggml"`
	// example: ["llm"]
	Capabilities []string `json:"capabilities"`
	// example: high
	Priority     string `json:"priority" example:"high"`
	RequiresNPU  bool   `json:"requires_npu,omitempty"`
	RequiresGPU  bool   `json:"requires_gpu,omitempty"`
	MinRAMMB     int    `json:"min_ram_mb,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
	// Whether the current device meets the declared hardware requirements.
	Compatible bool `json:"compatible"`
}

// RunnersResponse wraps GET /runners.
type RunnersResponse struct {
	Runners []RunnerInfo `json:"runners"`
	// Runner that would be selected per capability right now.
	Selection map[string]string `json:"selection"`
}

// ModelInfo describes a model known to the repository.
type ModelInfo struct {
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// example: 1200
	RAMMB int `json:"ram_mb" example:"1200"`
	// example: gguf
	Format    string `json:"format,omitempty" example:"gguf"`
	Files     int    `json:"files"`
	Available bool   `json:"available"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// InstanceStatus summarizes a runner instance for /status.
type InstanceStatus struct {
	// example: llama-server
	Runner string `json:"runner" example:"llama-server"`
	// example: tinyllama-q4
	ModelID string `json:"model_id,omitempty" example:"tinyllama-q4"`
	// example: loaded
	State string `json:"state" example:"loaded"`
	// Last time this instance was used (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Accounted RAM of the loaded model in MB.
	RAMMB int `json:"ram_mb"`
	// Requests holding an execution lease (queued or running).
	Leases int `json:"leases"`
	// Requests currently executing.
	Inflight      int `json:"inflight"`
	MaxQueueDepth int `json:"max_queue_depth"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// Memory budget in MB across all runners (0 = device memory only).
	BudgetMB int `json:"budget_mb"`
	// Accounted RAM of loaded models in MB.
	UsedMB   int `json:"used_mb"`
	MarginMB int `json:"margin_mb"`
	// Currently available RAM in MB as seen by the manager.
	AvailableMB       int    `json:"available_mb"`
	LastError         string `json:"last_error,omitempty"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ServerTimeUnix    int64  `json:"server_time_unix"`
	EvictionsTotal    uint64 `json:"evictions_total"`
	LoadsTotal        uint64 `json:"loads_total"`
	LoadFailuresTotal uint64 `json:"load_failures_total"`
	LoadingCount      int    `json:"loading_count"`
	DrainingCount     int    `json:"draining_count"`
}
