package storage

import (
	"context"
	"testing"

	"tinman/internal/model"
)

func sampleRun(id, createdAt string) model.RunRecord {
	return model.RunRecord{
		VersionedRecord:   CurrentVersion(),
		ID:                id,
		CreatedAtUTC:      createdAt,
		DatasetName:       "xor",
		Seed:              7,
		Workers:           2,
		Generations:       12,
		Evaluations:       90,
		BestAccuracy:      87.5,
		TunedCount:        1,
		StopReason:        "target_reached",
		MinAcceptableAcc:  80,
		FinalNumberWanted: 1,
	}
}

func sampleConfigs() []model.NetworkConfig {
	return []model.NetworkConfig{{
		QueryID:   3,
		ConfigID:  41,
		Accuracy:  87.5,
		InputSize: 2,
		Layers: []model.LayerConfig{{
			ActivationFunction: "tanh",
			WeightRange:        [2]float64{-1, 1},
			LayerWeights:       [][]float64{{0.25, -0.5}},
			OutputUnits:        1,
			LearningRate:       0.1,
		}},
	}}
}

// exerciseStore runs the behaviour every Store backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}

	older := sampleRun("run-a", "2026-01-01T00:00:00Z")
	newer := sampleRun("run-b", "2026-02-01T00:00:00Z")
	for _, run := range []model.RunRecord{older, newer} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}
	updated := older
	updated.BestAccuracy = 91
	if err := store.SaveRun(ctx, updated); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if got.BestAccuracy != 91 || got.DatasetName != "xor" || got.StopReason != "target_reached" {
		t.Fatalf("unexpected run: %+v", got)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	configs := sampleConfigs()
	if err := store.SaveTunedConfigs(ctx, "run-a", configs); err != nil {
		t.Fatalf("save tuned: %v", err)
	}
	configs[0].Layers[0].LayerWeights[0][0] = 99
	tuned, ok, err := store.GetTunedConfigs(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get tuned: ok=%v err=%v", ok, err)
	}
	if len(tuned) != 1 || tuned[0].ConfigID != 41 || tuned[0].Layers[0].LayerWeights[0][0] != 0.25 {
		t.Fatalf("unexpected tuned configs: %+v", tuned)
	}
	if _, ok, err := store.GetTunedConfigs(ctx, "run-b"); err != nil || ok {
		t.Fatalf("expected no tuned configs for run-b, ok=%v err=%v", ok, err)
	}

	history := []model.RoundReport{
		{Generation: 1, Phase: "seed", Candidates: 1, BestAccuracy: 50},
		{Generation: 2, Phase: "sa_hyper", Candidates: 6, BestAccuracy: 62.5, MeanAccuracy: 55},
	}
	if err := store.SaveRoundHistory(ctx, "run-a", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	loaded, ok, err := store.GetRoundHistory(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get history: ok=%v err=%v", ok, err)
	}
	if len(loaded) != 2 || loaded[1].Phase != "sa_hyper" || loaded[1].MeanAccuracy != 55 {
		t.Fatalf("unexpected history: %+v", loaded)
	}
}
