// Package tinman is the public entry point: it runs optimisations, persists
// their results and trains or tests single configurations.
package tinman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tinman/internal/breeder"
	"tinman/internal/dataset"
	"tinman/internal/model"
	"tinman/internal/nn"
	"tinman/internal/optimizer"
	"tinman/internal/stats"
	"tinman/internal/storage"
	"tinman/internal/trainer"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "tinman.db"
	defaultRunsLimit    = 20
)

var ErrNoRuns = errors.New("no runs available")

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store storage.Store
	log   *slog.Logger

	artifactsDir string
	exportsDir   string
}

type OptimizeRequest struct {
	Request model.OptimizerRequest
	Dataset model.Dataset
	// DatasetPath and RequestPath are recorded in the run config only.
	DatasetPath string
	RequestPath string
	Normalize   bool
	Shuffle     bool
	Seed        int64
	Workers     int
	Gates       *breeder.Gates
	Structure   optimizer.StructureHook
	Variation   optimizer.VariationHook
	OnRound     func(model.RoundReport)
}

type OptimizeSummary struct {
	RunID        string
	ArtifactsDir string
	Tuned        []model.NetworkConfig
	BestAccuracy float64
	Generations  int
	Evaluations  int
	Workers      int
	StopReason   string
	Duration     time.Duration
}

type TrainRequest struct {
	Config  model.NetworkConfig
	Dataset model.Dataset
	Cutoff  int
	Rounds  int
	Seed    int64
}

type TrainSummary struct {
	Result trainer.Result
	// Config carries the weights the network ended with.
	Config model.NetworkConfig
}

type RunsRequest struct {
	Limit int
}

type RunRef struct {
	RunID  string
	Latest bool
}

type RunDetail struct {
	Run     model.RunRecord
	Tuned   []model.NetworkConfig
	History []model.RoundReport
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ActivationItem struct {
	Code int
	Name string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		log:          logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Optimize runs the search, then records the run in the store and as on-disk
// artifacts under a fresh run id.
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeSummary, error) {
	ds := cloneDataset(req.Dataset)
	if req.Normalize {
		dataset.Normalize(&ds)
	}
	if req.Shuffle {
		dataset.Shuffle(&ds, rand.New(rand.NewSource(req.Seed)))
	}

	opt, err := optimizer.New(optimizer.Config{
		Seed:      req.Seed,
		Gates:     req.Gates,
		Workers:   req.Workers,
		Structure: req.Structure,
		Variation: req.Variation,
		Logger:    c.log,
		OnRound:   req.OnRound,
	})
	if err != nil {
		return OptimizeSummary{}, err
	}

	runID := uuid.NewString()
	c.log.Info("run started", "run_id", runID, "dataset", ds.TableInfo.TableName)
	started := time.Now()
	request := req.Request
	res, err := opt.Run(ctx, &request, &ds)
	if err != nil {
		return OptimizeSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}
	duration := time.Since(started)

	record := model.RunRecord{
		VersionedRecord:   storage.CurrentVersion(),
		ID:                runID,
		CreatedAtUTC:      time.Now().UTC().Format(time.RFC3339Nano),
		DatasetName:       ds.TableInfo.TableName,
		Seed:              req.Seed,
		Workers:           res.Workers,
		Generations:       res.Generations,
		Evaluations:       res.Evaluations,
		BestAccuracy:      res.BestAccuracy,
		TunedCount:        len(res.Tuned),
		StopReason:        res.StopReason,
		DurationMS:        duration.Milliseconds(),
		MinAcceptableAcc:  res.Request.MinAcceptableAccuracy,
		FinalNumberWanted: res.Request.FinalNumberOfNnetSettings,
	}
	if err := c.persist(ctx, record, res.Tuned, res.History); err != nil {
		return OptimizeSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:       runID,
			DatasetPath: req.DatasetPath,
			DatasetName: ds.TableInfo.TableName,
			RequestPath: req.RequestPath,
			Seed:        req.Seed,
			Workers:     res.Workers,
			Normalized:  req.Normalize,
			Request:     res.Request,
		},
		Summary: record,
		Tuned:   res.Tuned,
		History: res.History,
	})
	if err != nil {
		return OptimizeSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(record)); err != nil {
		return OptimizeSummary{}, err
	}
	c.log.Info("run recorded", "run_id", runID, "dir", runDir, "tuned", len(res.Tuned))

	return OptimizeSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Tuned:        res.Tuned,
		BestAccuracy: res.BestAccuracy,
		Generations:  res.Generations,
		Evaluations:  res.Evaluations,
		Workers:      res.Workers,
		StopReason:   res.StopReason,
		Duration:     duration,
	}, nil
}

func (c *Client) persist(ctx context.Context, record model.RunRecord, tuned []model.NetworkConfig, history []model.RoundReport) error {
	if err := c.store.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run %s: %w", record.ID, err)
	}
	if err := c.store.SaveTunedConfigs(ctx, record.ID, tuned); err != nil {
		return fmt.Errorf("save tuned configs %s: %w", record.ID, err)
	}
	if err := c.store.SaveRoundHistory(ctx, record.ID, history); err != nil {
		return fmt.Errorf("save round history %s: %w", record.ID, err)
	}
	return nil
}

// Train trains cfg on rows [0, cutoff) and tests it on the rest.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	return c.evaluate(ctx, req, true)
}

// Test scores cfg on rows [cutoff, len) without training it.
func (c *Client) Test(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	return c.evaluate(ctx, req, false)
}

func (c *Client) evaluate(ctx context.Context, req TrainRequest, train bool) (TrainSummary, error) {
	if err := ctx.Err(); err != nil {
		return TrainSummary{}, err
	}
	if err := req.Config.Validate(); err != nil {
		return TrainSummary{}, err
	}
	if err := dataset.Validate(&req.Dataset, req.Config.InputSize, req.Config.OutputUnits()); err != nil {
		return TrainSummary{}, err
	}
	t, err := trainer.New(req.Config, req.Cutoff, req.Rounds, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return TrainSummary{}, err
	}
	res, err := t.Evaluate(&req.Dataset, train)
	if err != nil {
		return TrainSummary{}, err
	}
	out := req.Config.Clone()
	if err := t.ExportWeights(&out); err != nil {
		return TrainSummary{}, err
	}
	out.Accuracy = res.Accuracy
	c.log.Debug("network evaluated", "config_id", out.ConfigID, "train", train, "correct", res.Correct, "total", res.Total)
	return TrainSummary{Result: res, Config: out}, nil
}

// Runs lists recorded runs, newest first. Runs held by the store win; the
// on-disk run index is used when the store has none.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			runs = append(runs, model.RunRecord{
				ID:           e.RunID,
				CreatedAtUTC: e.CreatedAtUTC,
				DatasetName:  e.DatasetName,
				Seed:         e.Seed,
				Workers:      e.Workers,
				Generations:  e.Generations,
				BestAccuracy: e.BestAccuracy,
				TunedCount:   e.TunedCount,
				StopReason:   e.StopReason,
			})
		}
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

// Show returns a run with its accepted configurations and round history,
// from the store or else from the run's artifacts.
func (c *Client) Show(ctx context.Context, ref RunRef) (RunDetail, error) {
	runID, err := c.resolveRun(ctx, ref)
	if err != nil {
		return RunDetail{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if ok {
		tuned, _, err := c.store.GetTunedConfigs(ctx, runID)
		if err != nil {
			return RunDetail{}, err
		}
		history, _, err := c.store.GetRoundHistory(ctx, runID)
		if err != nil {
			return RunDetail{}, err
		}
		return RunDetail{Run: run, Tuned: tuned, History: history}, nil
	}

	run, ok, err = stats.ReadSummary(c.artifactsDir, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		return RunDetail{}, fmt.Errorf("run not found: %s", runID)
	}
	tuned, _, err := stats.ReadTunedSettings(c.artifactsDir, runID)
	if err != nil {
		return RunDetail{}, err
	}
	history, _, err := stats.ReadRoundHistory(c.artifactsDir, runID)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Tuned: tuned, History: history}, nil
}

func (c *Client) TunedSettings(ctx context.Context, ref RunRef) ([]model.NetworkConfig, error) {
	detail, err := c.Show(ctx, ref)
	if err != nil {
		return nil, err
	}
	return detail.Tuned, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRun(ctx, RunRef{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRun(ctx context.Context, ref RunRef) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.RunID == "" && !ref.Latest {
		return "", errors.New("run id or latest is required")
	}
	if ref.RunID != "" {
		return ref.RunID, nil
	}
	runs, err := c.Runs(ctx, RunsRequest{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNoRuns
	}
	return runs[0].ID, nil
}

// Activations lists the activation functions a layer may name.
func Activations() []ActivationItem {
	names := nn.ListActivations()
	out := make([]ActivationItem, 0, len(names))
	for _, name := range names {
		a, err := nn.ParseActivation(name)
		if err != nil {
			continue
		}
		out = append(out, ActivationItem{Code: int(a), Name: name})
	}
	return out
}

func cloneDataset(ds model.Dataset) model.Dataset {
	out := model.Dataset{
		TableInfo: ds.TableInfo,
		ResultMap: append([]string(nil), ds.ResultMap...),
		Data:      make([]model.Row, len(ds.Data)),
	}
	out.TableInfo.ColumnNames = append([]string(nil), ds.TableInfo.ColumnNames...)
	for i, row := range ds.Data {
		out.Data[i] = model.Row{Label: row.Label, Columns: append([]float64(nil), row.Columns...)}
	}
	return out
}
