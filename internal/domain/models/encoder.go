package models

// Encoder selection policies.
const (
	EncoderAuto    = "Auto"
	EncoderGpuOnly = "GpuOnly"
	EncoderCpuOnly = "CpuOnly"
)

// EncoderSettings is the single operator-editable row (id = 1).
// Quality is CRF for software encoders, CQ for most hardware variants,
// clamped to [18, 28] at selection time.
type EncoderSettings struct {
	ID         int     `db:"id" json:"id"`
	Mode       string  `db:"encoder_mode" json:"encoder_mode"`
	GPUEncoder *string `db:"gpu_encoder" json:"gpu_encoder,omitempty"`
	CPUEncoder string  `db:"cpu_encoder" json:"cpu_encoder"`
	Preset     string  `db:"preset" json:"preset"`
	Quality    int     `db:"quality" json:"quality"`
}

type UpdateEncoderSettings struct {
	Mode       *string `json:"encoder_mode,omitempty" validate:"omitempty,oneof=Auto GpuOnly CpuOnly"`
	GPUEncoder *string `json:"gpu_encoder,omitempty"`
	CPUEncoder *string `json:"cpu_encoder,omitempty"`
	Preset     *string `json:"preset,omitempty"`
	Quality    *int    `json:"quality,omitempty"`
}

// GPUCapabilities is the detect_gpu RPC payload.
type GPUCapabilities struct {
	AvailableEncoders []string `json:"available_encoders"`
	PreferredEncoder  *string  `json:"preferred_encoder,omitempty"`
	GPUType           string   `json:"gpu_type"`
	GPUName           *string  `json:"gpu_name,omitempty"`
}
