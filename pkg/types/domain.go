package types

// ModelVersion describes one registered version of a model as listed by the
// registry backends and the operator CLI.
type ModelVersion struct {
	// example: noshow-prediction-model
	Name string `json:"name" yaml:"name" example:"noshow-prediction-model"`
	// example: 3
	Version string `json:"version" yaml:"version" example:"3"`
	// None, Staging, Production or Archived.
	// example: Production
	Stage string `json:"stage" yaml:"stage" example:"Production"`
	// Artifact location (file://, bare path, or http(s)://).
	// example: model.json
	Source string `json:"source" yaml:"source" example:"model.json"`
	// Optional sha256:<hex> digest of the artifact.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	// Training run that produced the artifact.
	RunID string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	// Evaluation metrics recorded at registration (auc, accuracy, f1, ...).
	Metrics map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	// Registration time (unix milliseconds).
	CreatedAtMS int64 `json:"created_at_ms" yaml:"created_at_ms" example:"1700000000000"`
}
