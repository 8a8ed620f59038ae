package registry

import (
	"context"
	"testing"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

type recordingNotifier struct {
	*FileBackend
	notified []string
}

func (r *recordingNotifier) NotifyPromotion(ctx context.Context, name, version string, stage model.Stage) error {
	r.notified = append(r.notified, name+"/"+version+"/"+string(stage))
	return nil
}

func seed(t *testing.T, fb *FileBackend, vs ...types.ModelVersion) {
	t.Helper()
	for _, v := range vs {
		v.Name = "m"
		if _, err := fb.Register(context.Background(), v); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
}

func stageOf(t *testing.T, fb *FileBackend, version string) string {
	t.Helper()
	vs, err := fb.ListVersions(context.Background(), "m")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, v := range vs {
		if v.Version == version {
			return v.Stage
		}
	}
	t.Fatalf("version %s not found", version)
	return ""
}

func TestPromoteIfBetter_NoProductionPromotes(t *testing.T) {
	fb := newFileBackend(t)
	seed(t, fb, types.ModelVersion{Version: "1", Metrics: map[string]float64{"auc": 0.6}})
	d, err := NewPromoter(fb, testLogger()).PromoteIfBetter(context.Background(), "m", "1", "auc", true, true)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !d.Promoted || stageOf(t, fb, "1") != "Production" {
		t.Fatalf("expected promotion: %+v", d)
	}
}

func TestPromoteIfBetter_ComparesMetric(t *testing.T) {
	fb := newFileBackend(t)
	seed(t, fb,
		types.ModelVersion{Version: "1", Stage: "Production", Metrics: map[string]float64{"auc": 0.8, "logloss": 0.4}},
		types.ModelVersion{Version: "2", Metrics: map[string]float64{"auc": 0.7, "logloss": 0.3}},
	)
	p := NewPromoter(fb, testLogger())
	ctx := context.Background()

	d, err := p.PromoteIfBetter(ctx, "m", "2", "auc", true, true)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if d.Promoted || d.ProductionVersion != "1" || d.Production != 0.8 {
		t.Fatalf("worse candidate promoted: %+v", d)
	}

	d, err = p.PromoteIfBetter(ctx, "m", "2", "logloss", false, true)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !d.Promoted {
		t.Fatalf("lower logloss must promote: %+v", d)
	}
	if stageOf(t, fb, "1") != "Archived" || stageOf(t, fb, "2") != "Production" {
		t.Fatalf("archive_existing not applied")
	}
}

func TestPromoteIfBetter_CandidateWithoutMetric(t *testing.T) {
	fb := newFileBackend(t)
	seed(t, fb, types.ModelVersion{Version: "1"})
	d, err := NewPromoter(fb, testLogger()).PromoteIfBetter(context.Background(), "m", "1", "auc", true, false)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if d.Promoted || stageOf(t, fb, "1") != "None" {
		t.Fatalf("candidate without metric must not be promoted: %+v", d)
	}
}

func TestPromoteIfBetter_ProductionWithoutMetricPromotes(t *testing.T) {
	fb := newFileBackend(t)
	seed(t, fb,
		types.ModelVersion{Version: "1", Stage: "Production"},
		types.ModelVersion{Version: "2", Metrics: map[string]float64{"auc": 0.5}},
	)
	d, err := NewPromoter(fb, testLogger()).PromoteIfBetter(context.Background(), "m", "2", "auc", true, false)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !d.Promoted {
		t.Fatalf("expected promotion: %+v", d)
	}
	if stageOf(t, fb, "1") != "Production" {
		t.Fatalf("without archive_existing the old version keeps its stage")
	}
}

func TestPromoteIfBetter_UnknownCandidate(t *testing.T) {
	fb := newFileBackend(t)
	seed(t, fb, types.ModelVersion{Version: "1"})
	_, err := NewPromoter(fb, testLogger()).PromoteIfBetter(context.Background(), "m", "9", "auc", true, false)
	if !model.IsModelNotFound(err) {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
}

func TestPromote_Notifies(t *testing.T) {
	rn := &recordingNotifier{FileBackend: newFileBackend(t)}
	seed(t, rn.FileBackend, types.ModelVersion{Version: "1"})
	if err := NewPromoter(rn, testLogger()).Promote(context.Background(), "m", "1", true); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(rn.notified) != 1 || rn.notified[0] != "m/1/Production" {
		t.Fatalf("notifications = %v", rn.notified)
	}
}
