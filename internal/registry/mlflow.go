package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

const (
	mlflowAPI          = "/api/2.0/mlflow/"
	mlflowPageSize     = 200
	checksumTag        = "noshowd.checksum"
	errResourceExists  = "RESOURCE_ALREADY_EXISTS"
	errResourceMissing = "RESOURCE_DOES_NOT_EXIST"
)

// MLflowBackend talks to an MLflow tracking server's model registry REST API.
type MLflowBackend struct {
	base   string
	token  string
	client *http.Client
}

// NewMLflowBackend returns a backend for the tracking server at baseURL.
// A non-empty token is sent as a bearer credential.
func NewMLflowBackend(baseURL, token string, timeout time.Duration) *MLflowBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MLflowBackend{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type mlflowError struct {
	Status    int    `json:"-"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (e *mlflowError) Error() string {
	return fmt.Sprintf("mlflow: %d %s: %s", e.Status, e.ErrorCode, e.Message)
}

// flexInt64 accepts both JSON numbers and numeric strings; MLflow encodes
// int64 timestamps as strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

type mlflowTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowVersion struct {
	Name              string      `json:"name"`
	Version           string      `json:"version"`
	CreationTimestamp flexInt64   `json:"creation_timestamp"`
	CurrentStage      string      `json:"current_stage"`
	Source            string      `json:"source"`
	RunID             string      `json:"run_id"`
	Tags              []mlflowTag `json:"tags"`
}

func (v mlflowVersion) toModelVersion() types.ModelVersion {
	mv := types.ModelVersion{
		Name:        v.Name,
		Version:     v.Version,
		Stage:       normalizeStage(v.CurrentStage),
		Source:      v.Source,
		RunID:       v.RunID,
		CreatedAtMS: int64(v.CreationTimestamp),
	}
	for _, t := range v.Tags {
		if t.Key == checksumTag {
			mv.Checksum = t.Value
		}
	}
	return mv
}

func (m *MLflowBackend) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := m.base + mlflowAPI + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	resp, err := m.client.Do(req)
	if err != nil {
		return model.ErrRegistryUnavailable(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return model.ErrRegistryUnavailable(err)
	}
	if resp.StatusCode >= 300 {
		me := &mlflowError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, me)
		if resp.StatusCode >= 500 {
			return model.ErrRegistryUnavailable(me)
		}
		return me
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mlflow: decode %s: %w", path, err)
	}
	return nil
}

func errorCode(err error) string {
	var me *mlflowError
	if errors.As(err, &me) {
		return me.ErrorCode
	}
	return ""
}

// ListVersions pages through model-versions/search.
func (m *MLflowBackend) ListVersions(ctx context.Context, name string) ([]types.ModelVersion, error) {
	var out []types.ModelVersion
	token := ""
	for {
		q := url.Values{}
		q.Set("filter", fmt.Sprintf("name='%s'", strings.ReplaceAll(name, "'", "\\'")))
		q.Set("max_results", strconv.Itoa(mlflowPageSize))
		if token != "" {
			q.Set("page_token", token)
		}
		var resp struct {
			ModelVersions []mlflowVersion `json:"model_versions"`
			NextPageToken string          `json:"next_page_token"`
		}
		if err := m.do(ctx, http.MethodGet, "model-versions/search", q, nil, &resp); err != nil {
			if errorCode(err) == errResourceMissing {
				return nil, nil
			}
			if model.IsRegistryUnavailable(err) {
				return nil, err
			}
			return nil, model.ErrRegistryUnavailable(err)
		}
		for _, v := range resp.ModelVersions {
			if v.Name == name {
				out = append(out, v.toModelVersion())
			}
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		token = resp.NextPageToken
	}
}

// Register creates the registered model when missing, then a new version.
// MLflow assigns version numbers itself, so v.Version must be empty.
func (m *MLflowBackend) Register(ctx context.Context, v types.ModelVersion) (string, error) {
	if v.Name == "" {
		return "", errors.New("model name is required")
	}
	if v.Version != "" {
		return "", fmt.Errorf("mlflow assigns versions; cannot register %s/%s explicitly", v.Name, v.Version)
	}
	stage, err := model.ParseStage(v.Stage)
	if err != nil {
		return "", err
	}
	err = m.do(ctx, http.MethodPost, "registered-models/create", nil, map[string]string{"name": v.Name}, nil)
	if err != nil && errorCode(err) != errResourceExists {
		return "", err
	}
	body := map[string]any{"name": v.Name, "source": v.Source}
	if v.RunID != "" {
		body["run_id"] = v.RunID
	}
	if v.Checksum != "" {
		body["tags"] = []mlflowTag{{Key: checksumTag, Value: v.Checksum}}
	}
	var resp struct {
		ModelVersion mlflowVersion `json:"model_version"`
	}
	if err := m.do(ctx, http.MethodPost, "model-versions/create", nil, body, &resp); err != nil {
		return "", err
	}
	version := resp.ModelVersion.Version
	if stage != model.StageNone {
		if err := m.Transition(ctx, v.Name, version, stage, false); err != nil {
			return version, err
		}
	}
	return version, nil
}

// Transition calls model-versions/transition-stage.
func (m *MLflowBackend) Transition(ctx context.Context, name, version string, stage model.Stage, archiveExisting bool) error {
	body := map[string]any{
		"name":                      name,
		"version":                   version,
		"stage":                     string(stage),
		"archive_existing_versions": archiveExisting,
	}
	err := m.do(ctx, http.MethodPost, "model-versions/transition-stage", nil, body, nil)
	if errorCode(err) == errResourceMissing {
		return model.ErrModelNotFound(name + "/" + version)
	}
	return err
}

// RunMetrics returns the latest metric values logged by a training run.
func (m *MLflowBackend) RunMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	var resp struct {
		Run struct {
			Data struct {
				Metrics []struct {
					Key   string  `json:"key"`
					Value float64 `json:"value"`
				} `json:"metrics"`
			} `json:"data"`
		} `json:"run"`
	}
	if err := m.do(ctx, http.MethodGet, "runs/get", url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(resp.Run.Data.Metrics))
	for _, mt := range resp.Run.Data.Metrics {
		out[mt.Key] = mt.Value
	}
	return out, nil
}

// Close releases idle connections.
func (m *MLflowBackend) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
