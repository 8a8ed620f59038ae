package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func validRequest() types.PredictionRequest {
	return types.PredictionRequest{
		PatientID:      ptr(int64(29872499824296)),
		Gender:         ptr("F"),
		Age:            ptr(62),
		ScheduledDay:   ptr("2016-04-27T18:38:08Z"),
		AppointmentDay: ptr("2016-04-29T00:00:00Z"),
		Neighbourhood:  ptr("JARDIM DA PENHA"),
		Scholarship:    ptr(false),
		Hypertension:   ptr(true),
		Diabetes:       ptr(false),
		Alcoholism:     ptr(false),
		Handicap:       ptr(0),
		SMSReceived:    ptr(true),
	}
}

// fakeResolver returns whatever reference or error it currently holds.
type fakeResolver struct {
	mu  sync.Mutex
	ref model.Reference
	err error
}

func (f *fakeResolver) set(version string, stage model.Stage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ref = model.Reference{Name: "m", Version: version, Stage: stage, Source: "mem://" + version}
	f.err = nil
}

func (f *fakeResolver) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeResolver) ResolveProduction(ctx context.Context, name string) (model.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Reference{}, f.err
	}
	return f.ref, nil
}

// constPredictor returns a fixed probability and records Close.
type constPredictor struct {
	p      float64
	closed atomic.Bool
}

func (c *constPredictor) Predict(model.Vector) (float64, error) { return c.p, nil }
func (c *constPredictor) Close() error {
	c.closed.Store(true)
	return nil
}

// blockingPredictor parks every call until release is closed.
type blockingPredictor struct {
	constPredictor
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingPredictor(p float64) *blockingPredictor {
	return &blockingPredictor{constPredictor: constPredictor{p: p}, entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingPredictor) Predict(v model.Vector) (float64, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.p, nil
}

// fakeLoader builds handles from a per-version predictor table. hook, when
// set, runs before loading and may fail or block.
type fakeLoader struct {
	mu         sync.Mutex
	predictors map[string]model.Predictor
	hook       func(ctx context.Context, ref model.Reference) error
	calls      int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{predictors: map[string]model.Predictor{}}
}

func (f *fakeLoader) setHook(h func(ctx context.Context, ref model.Reference) error) {
	f.mu.Lock()
	f.hook = h
	f.mu.Unlock()
}

func (f *fakeLoader) Load(ctx context.Context, ref model.Reference) (*model.Handle, error) {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	p, ok := f.predictors[ref.Version]
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, ref); err != nil {
			return nil, err
		}
	}
	if !ok {
		p = &constPredictor{p: 0.3}
	}
	return &model.Handle{Ref: ref, LoadedAt: time.Now(), Predictor: p, Contract: model.Contract{Features: []string{model.FeatureAge}}}, nil
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestGateway(res *fakeResolver, ld *fakeLoader, pub EventPublisher) *Gateway {
	return New(Config{ModelName: "m", Resolver: res, Loader: ld, Publisher: pub, ReloadTimeout: 5 * time.Second})
}
