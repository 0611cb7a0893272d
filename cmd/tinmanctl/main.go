package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tinman/internal/config"
	"tinman/internal/dataset"
	"tinman/internal/model"
	"tinman/pkg/tinman"
)

const (
	defaultSettingsPath = "tinman.ini"
	defaultRequestPath  = "request.json"
	exportsDir          = "exports"
	accuracyFormat      = "#,###.##"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "optimize":
		return runOptimize(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:], true)
	case "test":
		return runTrain(ctx, args[1:], false)
	case "dataset":
		return runDataset(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "activations":
		return runActivations(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are the flags every store-backed command shares. Flags that
// were set on the command line override the settings file.
type commonFlags struct {
	settings  *string
	storeKind *string
	dbPath    *string
	artifacts *string
	logLevel  *string
	logFormat *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		settings:  fs.String("settings", defaultSettingsPath, "settings INI path (missing file uses defaults)"),
		storeKind: fs.String("store", "", "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", "", "sqlite database path"),
		artifacts: fs.String("artifacts", "", "run artifacts directory"),
		logLevel:  fs.String("log-level", "", "log level: debug|info|warn|error"),
		logFormat: fs.String("log-format", "", "log format: auto|text|json"),
	}
}

func (f commonFlags) load(fs *flag.FlagSet) (config.Settings, error) {
	s, err := config.Load(*f.settings)
	if err != nil {
		return config.Settings{}, err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "store":
			s.Store.Kind = strings.ToLower(*f.storeKind)
		case "db-path":
			s.Store.DBPath = *f.dbPath
		case "artifacts":
			s.Run.ArtifactsDir = *f.artifacts
		case "log-level":
			s.Log.Level = strings.ToLower(*f.logLevel)
		case "log-format":
			s.Log.Format = strings.ToLower(*f.logFormat)
		}
	})
	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

func openClient(ctx context.Context, s config.Settings, logger *slog.Logger) (*tinman.Client, error) {
	client, err := tinman.New(tinman.Options{
		StoreKind:    s.Store.Kind,
		DBPath:       s.Store.DBPath,
		ArtifactsDir: s.Run.ArtifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	requestPath := fs.String("request", defaultRequestPath, "example request path")
	force := fs.Bool("force", false, "overwrite existing settings and request files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := common.load(fs)
	if err != nil {
		return err
	}
	wrote := make([]string, 0, 2)
	if *force || !exists(*common.settings) {
		if err := config.Save(*common.settings, s); err != nil {
			return err
		}
		wrote = append(wrote, *common.settings)
	}
	if *force || !exists(*requestPath) {
		if err := config.WriteRequest(*requestPath, config.ExampleRequest()); err != nil {
			return err
		}
		wrote = append(wrote, *requestPath)
	}

	client, err := openClient(ctx, s, newLogger(s.Log))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	fmt.Printf("initialized store=%s wrote=%s\n", s.Store.Kind, strings.Join(wrote, ","))
	return nil
}

func runOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	common := addCommonFlags(fs)
	requestPath := fs.String("request", defaultRequestPath, "optimiser request JSON path")
	datasetPath := fs.String("dataset", "", "dataset path (.json or .csv)")
	seed := fs.Int64("seed", 0, "rng seed (overrides settings)")
	workers := fs.Int("workers", 0, "worker count, 0 uses cpus_to_use (overrides settings)")
	normalize := fs.Bool("normalize", false, "min-max normalise every column before the run")
	shuffle := fs.Bool("shuffle", false, "shuffle the rows with the run seed before the run")
	outPath := fs.String("out", "", "write the request with its tuned settings to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *datasetPath == "" {
		return errors.New("optimize requires --dataset")
	}

	s, err := common.load(fs)
	if err != nil {
		return err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "seed":
			s.Run.Seed = *seed
		case "workers":
			s.Run.Workers = *workers
		}
	})
	if s.Run.Workers < 0 {
		return errors.New("workers must be >= 0")
	}

	req, err := config.LoadRequest(*requestPath)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(*datasetPath)
	if err != nil {
		return err
	}

	logger := newLogger(s.Log)
	client, err := openClient(ctx, s, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	gates := s.Breeder.Gates()
	summary, err := client.Optimize(ctx, tinman.OptimizeRequest{
		Request:     req,
		Dataset:     ds,
		DatasetPath: *datasetPath,
		RequestPath: *requestPath,
		Normalize:   *normalize,
		Shuffle:     *shuffle,
		Seed:        s.Run.Seed,
		Workers:     s.Run.Workers,
		Gates:       &gates,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run completed run_id=%s dataset=%s rows=%s seed=%d workers=%d\n",
		summary.RunID,
		ds.TableInfo.TableName,
		humanize.Comma(int64(len(ds.Data))),
		s.Run.Seed,
		summary.Workers,
	)
	fmt.Printf("generations=%s evaluations=%s duration=%s stop_reason=%s\n",
		humanize.Comma(int64(summary.Generations)),
		humanize.Comma(int64(summary.Evaluations)),
		summary.Duration.Round(time.Millisecond),
		summary.StopReason,
	)
	for i, cfg := range summary.Tuned {
		fmt.Printf("tuned rank=%d config_id=%d accuracy=%s\n", i+1, cfg.ConfigID, humanize.FormatFloat(accuracyFormat, cfg.Accuracy))
	}
	fmt.Printf("best_accuracy=%s\n", humanize.FormatFloat(accuracyFormat, summary.BestAccuracy))
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))

	if *outPath != "" {
		req.TunedSettings = summary.Tuned
		if err := config.WriteRequest(*outPath, req); err != nil {
			return err
		}
		fmt.Printf("request written to=%s\n", *outPath)
	}
	return nil
}

func runTrain(ctx context.Context, args []string, train bool) error {
	name := "test"
	if train {
		name = "train"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "network config JSON path")
	datasetPath := fs.String("dataset", "", "dataset path (.json or .csv)")
	cutoff := fs.Int("cutoff", 0, "rows before this index train, the rest test")
	rounds := fs.Int("rounds", 1, "training rounds over the training rows")
	seed := fs.Int64("seed", 1, "rng seed for missing weights and row order")
	normalize := fs.Bool("normalize", false, "min-max normalise every column first")
	outPath := fs.String("out", "", "write the resulting network config to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" || *datasetPath == "" {
		return fmt.Errorf("%s requires --config and --dataset", name)
	}

	cfg, err := config.LoadNetworkConfig(*configPath)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(*datasetPath)
	if err != nil {
		return err
	}
	if *normalize {
		dataset.Normalize(&ds)
	}

	client, err := tinman.New(tinman.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := tinman.TrainRequest{Config: cfg, Dataset: ds, Cutoff: *cutoff, Rounds: *rounds, Seed: *seed}
	var summary tinman.TrainSummary
	if train {
		summary, err = client.Train(ctx, req)
	} else {
		summary, err = client.Test(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s config_id=%d correct=%s total=%s failed_predictions=%d accuracy=%s\n",
		name,
		summary.Config.ConfigID,
		humanize.Comma(int64(summary.Result.Correct)),
		humanize.Comma(int64(summary.Result.Total)),
		summary.Result.FailedPredictions,
		humanize.FormatFloat(accuracyFormat, summary.Result.Accuracy),
	)
	if *outPath != "" {
		if err := config.WriteNetworkConfig(*outPath, summary.Config); err != nil {
			return err
		}
		fmt.Printf("config written to=%s\n", *outPath)
	}
	return nil
}

func runDataset(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("dataset", flag.ContinueOnError)
	in := fs.String("in", "", "input dataset path (.json or .csv)")
	out := fs.String("out", "", "output dataset JSON path")
	classes := fs.String("classes", "", "comma separated class names to keep, in their new order")
	columns := fs.String("columns", "", "comma separated column indices to keep, in their new order")
	normalize := fs.Bool("normalize", false, "min-max normalise every column")
	shuffle := fs.Bool("shuffle", false, "shuffle the rows")
	seed := fs.Int64("seed", 1, "shuffle seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("dataset requires --in and --out")
	}

	ds, err := dataset.Load(*in)
	if err != nil {
		return err
	}
	ds, err = transformDataset(ds, datasetOptions{
		classes:   splitList(*classes),
		columns:   splitList(*columns),
		normalize: *normalize,
		shuffle:   *shuffle,
		seed:      *seed,
	})
	if err != nil {
		return err
	}
	if err := dataset.Write(*out, ds); err != nil {
		return err
	}
	fmt.Printf("dataset written to=%s rows=%s classes=%d\n", *out, humanize.Comma(int64(len(ds.Data))), len(ds.ResultMap))
	return nil
}

func runActivations(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("activations", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, item := range tinman.Activations() {
		fmt.Printf("code=%d name=%s\n", item.Code, item.Name)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: tinmanctl <init|optimize|train|test|dataset|runs|show|export|activations> [flags]", msg)
}

// describeConfig renders one configuration as a single line.
func describeConfig(cfg model.NetworkConfig) string {
	layers := make([]string, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		layers = append(layers, fmt.Sprintf("%s:%d", l.ActivationFunction, l.OutputUnits))
	}
	return fmt.Sprintf("config_id=%d accuracy=%s inputs=%d layers=%s",
		cfg.ConfigID,
		humanize.FormatFloat(accuracyFormat, cfg.Accuracy),
		cfg.InputSize,
		strings.Join(layers, ","),
	)
}
