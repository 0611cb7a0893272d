package optimizer

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"tinman/internal/model"
	"tinman/internal/trainer"
)

func xorDataset() *model.Dataset {
	rows := []model.Row{
		{Label: 0, Columns: []float64{0, 0}},
		{Label: 1, Columns: []float64{1, 0}},
		{Label: 1, Columns: []float64{0, 1}},
		{Label: 0, Columns: []float64{1, 1}},
	}
	return &model.Dataset{
		TableInfo: model.TableInfo{TableName: "xor"},
		ResultMap: []string{"false", "true"},
		Data:      append(append([]model.Row(nil), rows...), rows...),
	}
}

// oneClassDataset is scored 100% by any network with a single sigmoid
// output unit.
func oneClassDataset() *model.Dataset {
	return &model.Dataset{
		TableInfo: model.TableInfo{TableName: "one"},
		ResultMap: []string{"only"},
		Data: []model.Row{
			{Label: 0, Columns: []float64{0, 1}},
			{Label: 0, Columns: []float64{1, 0}},
			{Label: 0, Columns: []float64{1, 1}},
			{Label: 0, Columns: []float64{0, 0}},
		},
	}
}

func baseConfig(outputs int) model.NetworkConfig {
	return model.NetworkConfig{
		QueryID:   9,
		InputSize: 2,
		Layers: []model.LayerConfig{
			{ActivationFunction: "sigmoid", WeightRange: [2]float64{-1, 1}, OutputUnits: 2, LearningRate: 0.1, Momentum: 0.1},
			{ActivationFunction: "sigmoid", WeightRange: [2]float64{-1, 1}, OutputUnits: outputs, LearningRate: 0.1},
		},
	}
}

func baseRequest(outputs int) model.OptimizerRequest {
	return model.OptimizerRequest{
		TemperatureDrops:              3,
		HeritabilityBiasDrops:         2,
		CurrentCandidateConfiguration: baseConfig(outputs),
		TestTrainCutoffIdx:            4,
		TrainRoundsPerEpoch:           5,
		MaxTrainEpochs:                2,
		MaxConfigChangingEpochs:       1,
		FinalNumberOfNnetSettings:     3,
		WinnersPerRound:               2,
		MinAcceptableAccuracy:         0,
		CPUsToUse:                     2,
	}
}

func newOptimizer(t *testing.T, cfg Config) *Optimizer {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 11
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}
	return o
}

func TestNewRejectsNegativeWorkers(t *testing.T) {
	if _, err := New(Config{Workers: -1}); err == nil {
		t.Fatal("expected workers error")
	}
}

func TestRunReturnsFinalNumberSortedUnique(t *testing.T) {
	req := baseRequest(2)
	var rounds int
	o := newOptimizer(t, Config{OnRound: func(model.RoundReport) { rounds++ }})
	res, err := o.Run(context.Background(), &req, xorDataset())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.StopReason != StopTargetReached {
		t.Fatalf("unexpected stop reason: %s", res.StopReason)
	}
	if len(res.Tuned) != req.FinalNumberOfNnetSettings {
		t.Fatalf("expected %d tuned configs, got %d", req.FinalNumberOfNnetSettings, len(res.Tuned))
	}
	if len(req.TunedSettings) != len(res.Tuned) {
		t.Fatalf("request tuned settings not written back")
	}
	if !sort.SliceIsSorted(res.Tuned, func(i, j int) bool { return res.Tuned[i].Accuracy > res.Tuned[j].Accuracy }) {
		t.Fatalf("tuned configs not sorted by accuracy: %+v", res.Tuned)
	}
	ids := make(map[int]bool)
	for _, cfg := range res.Tuned {
		if ids[cfg.ConfigID] {
			t.Fatalf("duplicate config id %d", cfg.ConfigID)
		}
		ids[cfg.ConfigID] = true
		if cfg.QueryID != 9 {
			t.Fatalf("query id lost: %d", cfg.QueryID)
		}
		if !cfg.HasWeights() {
			t.Fatalf("tuned config %d has no weights", cfg.ConfigID)
		}
		for i, layer := range cfg.Layers {
			if layer.WeightRange[0] >= layer.WeightRange[1] {
				t.Fatalf("config %d layer %d has bad weight range %v", cfg.ConfigID, i, layer.WeightRange)
			}
		}
	}
	if rounds == 0 || rounds != len(res.History) || res.Generations != len(res.History) {
		t.Fatalf("rounds=%d history=%d generations=%d", rounds, len(res.History), res.Generations)
	}
	if res.History[0].Phase != PhaseSeed.String() || res.History[0].Candidates != 1 {
		t.Fatalf("first round should score the base config: %+v", res.History[0])
	}
	if res.Evaluations < res.Generations {
		t.Fatalf("evaluations %d < generations %d", res.Evaluations, res.Generations)
	}
	if res.Workers != 2 {
		t.Fatalf("unexpected workers: %d", res.Workers)
	}
}

func TestRunDoesNotMutateBaseConfig(t *testing.T) {
	req := baseRequest(2)
	o := newOptimizer(t, Config{})
	if _, err := o.Run(context.Background(), &req, xorDataset()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if req.CurrentCandidateConfiguration.Layers[0].LayerWeights != nil {
		t.Fatal("caller's base config should be left untouched")
	}
}

func TestRunUnreachableTargetReturnsNone(t *testing.T) {
	req := baseRequest(2)
	req.MinAcceptableAccuracy = 101
	o := newOptimizer(t, Config{})
	res, err := o.Run(context.Background(), &req, xorDataset())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.StopReason != StopEpochsExhausted {
		t.Fatalf("unexpected stop reason: %s", res.StopReason)
	}
	if len(res.Tuned) != 0 || len(req.TunedSettings) != 0 {
		t.Fatalf("expected no tuned configs, got %d", len(res.Tuned))
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	run := func() Result {
		req := baseRequest(2)
		o := newOptimizer(t, Config{Seed: 5})
		res, err := o.Run(context.Background(), &req, xorDataset())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if len(a.History) != len(b.History) {
		t.Fatalf("history lengths differ: %d vs %d", len(a.History), len(b.History))
	}
	for i := range a.Tuned {
		if a.Tuned[i].ConfigID != b.Tuned[i].ConfigID || a.Tuned[i].Accuracy != b.Tuned[i].Accuracy {
			t.Fatalf("tuned config %d differs: %+v vs %+v", i, a.Tuned[i], b.Tuned[i])
		}
	}
}

type countingVariation struct{ calls int }

func (v *countingVariation) Vary(_ context.Context, elites []*model.NetworkConfig) error {
	v.calls++
	for _, cfg := range elites {
		cfg.Layers[0].ActivationFunction = "tanh"
	}
	return nil
}

type countingStructure struct {
	increases int
	trims     int
	trimmed   []model.NetworkConfig
}

// IncreaseNodes adds one unit to the first layer of every elite.
func (s *countingStructure) IncreaseNodes(_ context.Context, elites []*model.NetworkConfig) (bool, error) {
	s.increases++
	for _, cfg := range elites {
		first := &cfg.Layers[0]
		first.OutputUnits++
		first.LayerWeights = append(first.LayerWeights, make([]float64, cfg.InputSize))
		second := &cfg.Layers[1]
		for r := range second.LayerWeights {
			second.LayerWeights[r] = append(second.LayerWeights[r], 0)
		}
	}
	return true, nil
}

func (s *countingStructure) Trim(_ context.Context, elites []*model.NetworkConfig, _ *model.Dataset) error {
	s.trims++
	for _, cfg := range elites {
		s.trimmed = append(s.trimmed, cfg.Clone())
	}
	return nil
}

func TestRunPlateauHooks(t *testing.T) {
	req := baseRequest(1)
	req.MinAcceptableAccuracy = 101
	req.TestTrainCutoffIdx = 2
	req.MaxTrainEpochs = 6
	req.MaxConfigChangingEpochs = 2
	variation := &countingVariation{}
	structure := &countingStructure{}
	o := newOptimizer(t, Config{Variation: variation, Structure: structure})
	res, err := o.Run(context.Background(), &req, oneClassDataset())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.BestAccuracy != 100 {
		t.Fatalf("expected 100%% accuracy, got %f", res.BestAccuracy)
	}
	if variation.calls != 2*maxPlateauRetries {
		t.Fatalf("expected %d variation calls, got %d", 2*maxPlateauRetries, variation.calls)
	}
	if structure.increases != 1 || structure.trims != 1 {
		t.Fatalf("increases=%d trims=%d", structure.increases, structure.trims)
	}
	if len(structure.trimmed) == 0 {
		t.Fatal("trim saw no elites")
	}
	for _, cfg := range structure.trimmed {
		if cfg.Layers[0].OutputUnits != 3 {
			t.Fatalf("config %d: expected 3 units after growth, got %d", cfg.ConfigID, cfg.Layers[0].OutputUnits)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("config %d: %v", cfg.ConfigID, err)
		}
	}
}

type breakingVariation struct{}

func (breakingVariation) Vary(_ context.Context, elites []*model.NetworkConfig) error {
	for _, cfg := range elites {
		cfg.Layers[0].OutputUnits = 7
	}
	return nil
}

func TestRunRejectsVariationThatChangesStructure(t *testing.T) {
	req := baseRequest(1)
	req.MinAcceptableAccuracy = 101
	req.TestTrainCutoffIdx = 2
	o := newOptimizer(t, Config{Variation: breakingVariation{}})
	if _, err := o.Run(context.Background(), &req, oneClassDataset()); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := baseRequest(2)
	o := newOptimizer(t, Config{})
	if _, err := o.Run(ctx, &req, xorDataset()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunSurfacesWorkerPanic(t *testing.T) {
	req := baseRequest(2)
	o := newOptimizer(t, Config{})
	o.evaluate = func(*trainer.Trainer, *model.Dataset, bool) error {
		panic("boom")
	}
	if _, err := o.Run(context.Background(), &req, xorDataset()); !errors.Is(err, ErrWorkerPanic) {
		t.Fatalf("expected ErrWorkerPanic, got %v", err)
	}
}

func TestRunScoresWeightRoundsOnEveryRow(t *testing.T) {
	req := baseRequest(2)
	req.MinAcceptableAccuracy = 101
	ds := xorDataset()
	o := newOptimizer(t, Config{})

	var mu sync.Mutex
	tested := map[bool]map[int]int{true: {}, false: {}}
	o.evaluate = func(tr *trainer.Trainer, ds *model.Dataset, train bool) error {
		if _, err := tr.Evaluate(ds, train); err != nil {
			return err
		}
		mu.Lock()
		tested[train][tr.Result().Total]++
		mu.Unlock()
		return nil
	}
	if _, err := o.Run(context.Background(), &req, ds); err != nil {
		t.Fatalf("run: %v", err)
	}

	cases := []struct {
		name  string
		train bool
		total int
	}{
		{name: "train rounds hold out the tail", train: true, total: len(ds.Data) - req.TestTrainCutoffIdx},
		{name: "weight rounds test every row", train: false, total: len(ds.Data)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen := tested[tc.train]
			if len(seen) == 0 {
				t.Fatal("no rounds of this kind were evaluated")
			}
			for total, n := range seen {
				if total != tc.total {
					t.Fatalf("%d evaluations tested %d rows, want %d", n, total, tc.total)
				}
			}
		})
	}
}

func TestRunRejectsMismatchedDataset(t *testing.T) {
	req := baseRequest(2)
	ds := xorDataset()
	ds.Data[0].Columns = []float64{1}
	o := newOptimizer(t, Config{})
	if _, err := o.Run(context.Background(), &req, ds); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPrepareRequest(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		name   string
		mutate func(*model.OptimizerRequest)
		ok     bool
	}{
		{name: "valid", mutate: func(*model.OptimizerRequest) {}, ok: true},
		{name: "temperature drops", mutate: func(r *model.OptimizerRequest) { r.TemperatureDrops = 0 }},
		{name: "bias drops", mutate: func(r *model.OptimizerRequest) { r.HeritabilityBiasDrops = 0 }},
		{name: "train epochs", mutate: func(r *model.OptimizerRequest) { r.MaxTrainEpochs = 0 }},
		{name: "config epochs", mutate: func(r *model.OptimizerRequest) { r.MaxConfigChangingEpochs = 0 }},
		{name: "final number", mutate: func(r *model.OptimizerRequest) { r.FinalNumberOfNnetSettings = 0 }},
		{name: "train rounds", mutate: func(r *model.OptimizerRequest) { r.TrainRoundsPerEpoch = -1 }},
		{name: "cutoff", mutate: func(r *model.OptimizerRequest) { r.TestTrainCutoffIdx = -1 }},
		{name: "activation", mutate: func(r *model.OptimizerRequest) {
			r.CurrentCandidateConfiguration.Layers[1].ActivationFunction = "nope"
		}},
		{name: "no layers", mutate: func(r *model.OptimizerRequest) { r.CurrentCandidateConfiguration.Layers = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest(2)
			tc.mutate(&req)
			_, err := PrepareRequest(req, rng)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestPrepareRequestRepairs(t *testing.T) {
	req := baseRequest(2)
	req.WinnersPerRound = 0
	req.CPUsToUse = 0
	req.TunedSettings = []model.NetworkConfig{{ConfigID: 1}}
	req.CurrentCandidateConfiguration.Accuracy = 55
	req.CurrentCandidateConfiguration.Layers[0].WeightRange = [2]float64{0.5, 0.5}
	out, err := PrepareRequest(req, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if out.WinnersPerRound != minWinnersPerRound {
		t.Fatalf("winners not raised: %d", out.WinnersPerRound)
	}
	if out.CPUsToUse != 1 {
		t.Fatalf("cpus not clamped: %d", out.CPUsToUse)
	}
	if out.TunedSettings != nil {
		t.Fatal("tuned settings should be cleared")
	}
	base := out.CurrentCandidateConfiguration
	if base.Accuracy != 0 || !base.HasWeights() {
		t.Fatalf("unexpected base: %+v", base)
	}
	if r := base.Layers[0].WeightRange; r[0] >= r[1] {
		t.Fatalf("weight range not repaired: %v", r)
	}
	if req.CurrentCandidateConfiguration.Layers[0].LayerWeights != nil {
		t.Fatal("input request mutated")
	}
	if workerCount(out.CPUsToUse) != minWorkers {
		t.Fatalf("expected worker floor %d", minWorkers)
	}
}
