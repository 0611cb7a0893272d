package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tinman/internal/config"
	"tinman/internal/dataset"
	"tinman/internal/model"
	"tinman/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func writeXOR(t *testing.T, path string) {
	t.Helper()
	rows := []model.Row{
		{Label: 0, Columns: []float64{0, 0}},
		{Label: 1, Columns: []float64{1, 0}},
		{Label: 1, Columns: []float64{0, 1}},
		{Label: 0, Columns: []float64{1, 1}},
	}
	ds := model.Dataset{
		TableInfo: model.TableInfo{TableName: "xor", ColumnNames: []string{"a", "b"}},
		ResultMap: []string{"false", "true"},
		Data:      append(append([]model.Row(nil), rows...), rows...),
	}
	if err := dataset.Write(path, ds); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
}

func smallRequest() model.OptimizerRequest {
	req := config.ExampleRequest()
	req.TemperatureDrops = 3
	req.HeritabilityBiasDrops = 2
	req.TestTrainCutoffIdx = 4
	req.TrainRoundsPerEpoch = 3
	req.MaxTrainEpochs = 1
	req.MaxConfigChangingEpochs = 1
	req.FinalNumberOfNnetSettings = 2
	req.WinnersPerRound = 2
	req.MinAcceptableAccuracy = 0
	req.CPUsToUse = 1
	return req
}

func TestRunRequiresKnownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"bogus"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestInitWritesSettingsAndRequest(t *testing.T) {
	workdir := chdirTemp(t)

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"init", "--log-format", "json"})
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "initialized store=memory") {
		t.Fatalf("unexpected init output: %q", out)
	}
	s, err := config.Load(filepath.Join(workdir, defaultSettingsPath))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if s.Log.Format != config.FormatJSON || s.Store.Kind != "memory" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	req, err := config.LoadRequest(filepath.Join(workdir, defaultRequestPath))
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if req.CurrentCandidateConfiguration.InputSize != 2 {
		t.Fatalf("unexpected example request: %+v", req)
	}

	// A second init leaves existing files alone.
	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"init", "--log-format", "text"})
	})
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if strings.Contains(out, defaultSettingsPath) {
		t.Fatalf("settings should not be rewritten: %q", out)
	}
}

func TestOptimizeRunsShowExportFlow(t *testing.T) {
	workdir := chdirTemp(t)
	writeXOR(t, "xor.json")
	if err := config.WriteRequest("request.json", smallRequest()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"optimize",
			"--store", "memory",
			"--dataset", "xor.json",
			"--seed", "5",
			"--workers", "1",
			"--log-level", "error",
			"--out", "tuned.json",
		})
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !strings.Contains(out, "run completed run_id=") || strings.Count(out, "tuned rank=") != 2 {
		t.Fatalf("unexpected optimize output: %q", out)
	}

	tunedReq, err := config.LoadRequest("tuned.json")
	if err != nil {
		t.Fatalf("load tuned request: %v", err)
	}
	if len(tunedReq.TunedSettings) != 2 {
		t.Fatalf("expected 2 tuned settings, got %d", len(tunedReq.TunedSettings))
	}

	entries, err := stats.ListRunIndex("runs")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one indexed run, got %+v err=%v", entries, err)
	}
	runID := entries[0].RunID

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"runs", "--json"})
	})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var listed []model.RunRecord
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != runID {
		t.Fatalf("unexpected runs: %+v", listed)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"show", "--latest", "--history"})
	})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "run_id="+runID) || !strings.Contains(out, "round generation=1") {
		t.Fatalf("unexpected show output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"export", "--run-id", runID, "--out", "out"})
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "exported run_id="+runID) {
		t.Fatalf("unexpected export output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(workdir, "out", runID, "round_history.csv")); err != nil {
		t.Fatalf("expected exported history: %v", err)
	}

	if err := run(context.Background(), []string{"export"}); err == nil {
		t.Fatal("expected export without run id to fail")
	}
	if err := run(context.Background(), []string{"show", "--run-id", "x", "--latest"}); err == nil {
		t.Fatal("expected show with both selectors to fail")
	}
}

func TestOptimizeRequiresDataset(t *testing.T) {
	chdirTemp(t)
	if err := run(context.Background(), []string{"optimize"}); err == nil || !strings.Contains(err.Error(), "--dataset") {
		t.Fatalf("expected dataset error, got %v", err)
	}
}

func TestTrainAndTestCommands(t *testing.T) {
	chdirTemp(t)
	writeXOR(t, "xor.json")
	cfg := model.NetworkConfig{
		ConfigID:  2,
		InputSize: 2,
		Layers: []model.LayerConfig{
			{ActivationFunction: "sigmoid", WeightRange: [2]float64{-1, 1}, OutputUnits: 3, LearningRate: 0.1},
			{ActivationFunction: "sigmoid", WeightRange: [2]float64{-1, 1}, OutputUnits: 2, LearningRate: 0.1},
		},
	}
	if err := config.WriteNetworkConfig("net.json", cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"train", "--config", "net.json", "--dataset", "xor.json", "--cutoff", "4", "--rounds", "5", "--out", "trained.json"})
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !strings.Contains(out, "train config_id=2") || !strings.Contains(out, "total=4") {
		t.Fatalf("unexpected train output: %q", out)
	}
	trained, err := config.LoadNetworkConfig("trained.json")
	if err != nil {
		t.Fatalf("load trained: %v", err)
	}
	if !trained.HasWeights() {
		t.Fatal("expected trained config to carry weights")
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"test", "--config", "trained.json", "--dataset", "xor.json", "--cutoff", "4"})
	})
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if !strings.Contains(out, "test config_id=2") {
		t.Fatalf("unexpected test output: %q", out)
	}

	if err := run(context.Background(), []string{"train", "--dataset", "xor.json"}); err == nil {
		t.Fatal("expected missing config error")
	}
}

func TestDatasetCommand(t *testing.T) {
	chdirTemp(t)
	body := "a,b,c,label\n1,10,5,x\n2,20,5,y\n3,30,5,z\n4,40,5,x\n"
	if err := os.WriteFile("table.csv", []byte(body), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"dataset", "--in", "table.csv", "--out", "picked.json", "--columns", "1,0", "--classes", "x,z", "--normalize"})
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if !strings.Contains(out, "rows=3 classes=2") {
		t.Fatalf("unexpected dataset output: %q", out)
	}
	ds, err := dataset.Load("picked.json")
	if err != nil {
		t.Fatalf("load picked: %v", err)
	}
	if len(ds.Data[0].Columns) != 2 || ds.Data[0].Columns[0] != 0 || ds.Data[2].Columns[0] != 1 {
		t.Fatalf("unexpected rows: %+v", ds.Data)
	}
	if ds.Data[1].Label != 1 || ds.ResultMap[1] != "z" {
		t.Fatalf("unexpected relabelling: %+v %v", ds.Data, ds.ResultMap)
	}

	if _, err := transformDataset(ds, datasetOptions{columns: []string{"x"}}); err == nil {
		t.Fatal("expected bad column index error")
	}
}

func TestActivationsCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"activations"})
	})
	if err != nil {
		t.Fatalf("activations: %v", err)
	}
	if !strings.Contains(out, "name=sigmoid") || !strings.Contains(out, "name=tanh") {
		t.Fatalf("unexpected activations output: %q", out)
	}
}

func TestBuildLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	buildLogger(&buf, config.LogSettings{Level: "info", Format: config.FormatAuto}, false).Info("hello", "k", 1)
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON off a terminal, got %q", buf.String())
	}

	buf.Reset()
	buildLogger(&buf, config.LogSettings{Level: "info", Format: config.FormatAuto}, true).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text on a terminal, got %q", buf.String())
	}

	buf.Reset()
	buildLogger(&buf, config.LogSettings{Level: "error", Format: config.FormatText}, false).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{in: "", want: 0},
		{in: " ", want: 0},
		{in: "a", want: 1},
		{in: "a, b,,c ", want: 3},
	}
	for _, tc := range cases {
		if got := splitList(tc.in); len(got) != tc.want {
			t.Fatalf("splitList(%q) = %v, want %d items", tc.in, got, tc.want)
		}
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
