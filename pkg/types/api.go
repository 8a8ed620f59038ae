package types

// PredictionRequest is the POST /predict payload. Fields are pointers so that
// an omitted field can be told apart from its zero value during validation.
type PredictionRequest struct {
	// Patient identifier.
	// example: 29872499824296
	PatientID *int64 `json:"patient_id" example:"29872499824296"`
	// Patient gender, M or F.
	// example: F
	Gender *string `json:"gender" example:"F"`
	// Age in years.
	// example: 62
	Age *int `json:"age" example:"62"`
	// When the appointment was booked (ISO-8601).
	// example: 2016-04-29T18:38:08Z
	ScheduledDay *string `json:"scheduled_day" example:"2016-04-29T18:38:08Z"`
	// Day of the appointment (ISO-8601).
	// example: 2016-04-29T00:00:00Z
	AppointmentDay *string `json:"appointment_day" example:"2016-04-29T00:00:00Z"`
	// Neighbourhood of the clinic.
	// example: JARDIM DA PENHA
	Neighbourhood *string `json:"neighbourhood" example:"JARDIM DA PENHA"`
	Scholarship   *bool   `json:"scholarship" example:"false"`
	Hypertension  *bool   `json:"hypertension" example:"true"`
	Diabetes      *bool   `json:"diabetes" example:"false"`
	Alcoholism    *bool   `json:"alcoholism" example:"false"`
	// Handicap level (0-4).
	// example: 0
	Handicap    *int  `json:"handicap" example:"0"`
	SMSReceived *bool `json:"sms_received" example:"false"`
}

// PredictionResponse is returned by POST /predict.
type PredictionResponse struct {
	// Probability that the patient does not show up, in [0,1].
	// example: 0.27
	Probability float64 `json:"probability" example:"0.27"`
	// Probability above the model threshold.
	// example: false
	IsNoShow bool `json:"is_no_show" example:"false"`
	// example: noshow-prediction-model
	ModelName string `json:"model_name" example:"noshow-prediction-model"`
	// Version of the model that answered this request.
	// example: 3
	ModelVersion string `json:"model_version" example:"3"`
	// UTC time of the prediction (RFC 3339).
	// example: 2024-05-01T10:00:00.123Z
	PredictionTimestamp string `json:"prediction_timestamp" example:"2024-05-01T10:00:00.123Z"`
}

// ReloadResult is returned by POST /reload-model.
type ReloadResult struct {
	Success bool `json:"success" example:"true"`
	// False when the registry still points at the active model.
	Changed         bool   `json:"changed" example:"true"`
	PreviousVersion string `json:"previous_version,omitempty" example:"2"`
	NewVersion      string `json:"new_version,omitempty" example:"3"`
	Error           string `json:"error,omitempty"`
	// example: 9f1c7b7e-3c1a-4d55-9a53-5b0f2f0c8d11
	OperationID string `json:"operation_id" example:"9f1c7b7e-3c1a-4d55-9a53-5b0f2f0c8d11"`
	DurationMS  int64  `json:"duration_ms" example:"412"`
}

// HealthStatus is returned by GET /health.
type HealthStatus struct {
	// ok when a model is loaded, degraded otherwise.
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: noshow-prediction-model
	ModelName    string `json:"model_name" example:"noshow-prediction-model"`
	ModelVersion string `json:"model_version,omitempty" example:"3"`
	// Registry stage of the active model (Production, or None for fallback).
	ModelStage string `json:"model_stage,omitempty" example:"Production"`
	// RFC 3339 load time of the active model.
	LoadedAt string `json:"loaded_at,omitempty" example:"2024-05-01T09:58:12Z"`
	// Gateway state: uninitialized, ready or reloading.
	State           string `json:"state" example:"ready"`
	LastReloadError string `json:"last_reload_error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Health HealthStatus `json:"health"`
	// Generation of the active handle; increments on every swap.
	// example: 4
	Generation uint64 `json:"generation" example:"4"`
	// In-flight predictions against the active handle.
	Inflight int64 `json:"inflight" example:"2"`
	// Superseded handles still draining in-flight predictions.
	Retiring int64 `json:"retiring" example:"0"`
	// Registry source of the active artifact.
	ModelSource string `json:"model_source,omitempty" example:"file:///var/lib/noshowd/models/3/model.json"`
	// Counters since process start.
	ReloadsTotal   uint64 `json:"reloads_total" example:"5"`
	ReloadFailures uint64 `json:"reload_failures" example:"1"`
	LastReloadUnix int64  `json:"last_reload_unix,omitempty" example:"1700000000"`
	UptimeSeconds  int64  `json:"uptime_seconds" example:"3600"`
	ServerTimeUnix int64  `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// example: 400
	Code int `json:"code" example:"400"`
	// Offending input fields for validation errors.
	Fields []string `json:"fields,omitempty"`
}

// Event is one gateway lifecycle event as streamed on GET /events.
type Event struct {
	// example: reload_done
	Name         string         `json:"name" example:"reload_done"`
	ModelName    string         `json:"model_name" example:"noshow-prediction-model"`
	ModelVersion string         `json:"model_version,omitempty" example:"3"`
	TimeUnixMS   int64          `json:"time_unix_ms" example:"1700000000000"`
	Fields       map[string]any `json:"fields,omitempty"`
}
