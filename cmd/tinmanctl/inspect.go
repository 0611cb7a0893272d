package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"tinman/internal/model"
	"tinman/pkg/tinman"
)

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	s, err := common.load(fs)
	if err != nil {
		return err
	}
	client, err := openClient(ctx, s, newLogger(s.Log))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, tinman.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		if runs == nil {
			runs = []model.RunRecord{}
		}
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s created=%s dataset=%s seed=%d generations=%s best_accuracy=%s tuned=%d stop_reason=%s\n",
			r.ID,
			relativeTime(r.CreatedAtUTC),
			r.DatasetName,
			r.Seed,
			humanize.Comma(int64(r.Generations)),
			humanize.FormatFloat(accuracyFormat, r.BestAccuracy),
			r.TunedCount,
			r.StopReason,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run")
	history := fs.Bool("history", false, "print the per-round history")
	jsonOut := fs.Bool("json", false, "emit the tuned settings as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("show requires --run-id or --latest")
	}
	s, err := common.load(fs)
	if err != nil {
		return err
	}
	client, err := openClient(ctx, s, newLogger(s.Log))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	detail, err := client.Show(ctx, tinman.RunRef{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		tuned := detail.Tuned
		if tuned == nil {
			tuned = []model.NetworkConfig{}
		}
		return printJSON(tuned)
	}

	r := detail.Run
	fmt.Printf("run_id=%s created=%s dataset=%s seed=%d workers=%d\n", r.ID, relativeTime(r.CreatedAtUTC), r.DatasetName, r.Seed, r.Workers)
	fmt.Printf("generations=%s evaluations=%s best_accuracy=%s stop_reason=%s\n",
		humanize.Comma(int64(r.Generations)),
		humanize.Comma(int64(r.Evaluations)),
		humanize.FormatFloat(accuracyFormat, r.BestAccuracy),
		r.StopReason,
	)
	for i, cfg := range detail.Tuned {
		fmt.Printf("tuned rank=%d %s\n", i+1, describeConfig(cfg))
	}
	if *history {
		for _, h := range detail.History {
			fmt.Printf("round generation=%d config_epoch=%d train_epoch=%d phase=%s candidates=%d best=%s mean=%s elapsed_ms=%d\n",
				h.Generation,
				h.ConfigEpoch,
				h.TrainEpoch,
				h.Phase,
				h.Candidates,
				humanize.FormatFloat(accuracyFormat, h.BestAccuracy),
				humanize.FormatFloat(accuracyFormat, h.MeanAccuracy),
				h.ElapsedMS,
			)
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	s, err := common.load(fs)
	if err != nil {
		return err
	}
	client, err := openClient(ctx, s, newLogger(s.Log))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, tinman.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

// relativeTime renders an RFC 3339 timestamp as "3 minutes ago", falling
// back to the raw value.
func relativeTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return fmt.Sprintf("%q", humanize.Time(t))
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
