package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tinman/internal/model"
)

const (
	runIndexFile     = "run_index.json"
	configFile       = "config.json"
	tunedFile        = "tuned_settings.json"
	historyFile      = "round_history.csv"
	summaryFile      = "summary.json"
	historyFieldsLen = 13
)

// RunConfig records what a run was asked to do and with which runtime
// settings.
type RunConfig struct {
	RunID       string                 `json:"run_id"`
	DatasetPath string                 `json:"dataset_path,omitempty"`
	DatasetName string                 `json:"dataset_name"`
	RequestPath string                 `json:"request_path,omitempty"`
	Seed        int64                  `json:"seed"`
	Workers     int                    `json:"workers"`
	StoreKind   string                 `json:"store_kind,omitempty"`
	Normalized  bool                   `json:"normalized"`
	Request     model.OptimizerRequest `json:"request"`
}

type RunArtifacts struct {
	Config  RunConfig             `json:"config"`
	Summary model.RunRecord       `json:"summary"`
	Tuned   []model.NetworkConfig `json:"tuned_settings"`
	History []model.RoundReport   `json:"history"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	DatasetName  string  `json:"dataset_name"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
	Generations  int     `json:"generations"`
	BestAccuracy float64 `json:"best_accuracy"`
	TunedCount   int     `json:"tuned_count"`
	StopReason   string  `json:"stop_reason"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// IndexEntry summarises a run record for the run index.
func IndexEntry(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.ID,
		DatasetName:  run.DatasetName,
		Seed:         run.Seed,
		Workers:      run.Workers,
		Generations:  run.Generations,
		BestAccuracy: run.BestAccuracy,
		TunedCount:   run.TunedCount,
		StopReason:   run.StopReason,
		CreatedAtUTC: run.CreatedAtUTC,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	tuned := artifacts.Tuned
	if tuned == nil {
		tuned = []model.NetworkConfig{}
	}
	if err := writeJSON(filepath.Join(runDir, tunedFile), tuned); err != nil {
		return "", err
	}
	if err := WriteRoundHistory(filepath.Join(runDir, historyFile), artifacts.History); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first. Entries with equal timestamps
// keep the later appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, idx := range order {
		sorted = append(sorted, entries[idx])
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, tunedFile, historyFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	summaryPath := filepath.Join(src, summaryFile)
	if _, err := os.Stat(summaryPath); err == nil {
		if err := copyFile(summaryPath, filepath.Join(dst, summaryFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadTunedSettings(baseDir, runID string) ([]model.NetworkConfig, bool, error) {
	var tuned []model.NetworkConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, tunedFile), &tuned)
	return tuned, ok, err
}

func ReadSummary(baseDir, runID string) (model.RunRecord, bool, error) {
	var run model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &run)
	return run, ok, err
}

var historyHeader = []string{
	"generation", "config_epoch", "train_epoch", "phase", "candidates",
	"best_accuracy", "mean_accuracy", "stddev_accuracy", "max_accuracy",
	"temperature", "favourability", "failed_predictions", "elapsed_ms",
}

// WriteRoundHistory writes one CSV row per evaluated round.
func WriteRoundHistory(path string, history []model.RoundReport) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(historyHeader); err != nil {
		return err
	}
	for _, r := range history {
		if err := writer.Write([]string{
			strconv.Itoa(r.Generation),
			strconv.Itoa(r.ConfigEpoch),
			strconv.Itoa(r.TrainEpoch),
			r.Phase,
			strconv.Itoa(r.Candidates),
			formatFloat(r.BestAccuracy),
			formatFloat(r.MeanAccuracy),
			formatFloat(r.StdDevAccuracy),
			formatFloat(r.MaxAccuracy),
			formatFloat(r.Temperature),
			formatFloat(r.Favourability),
			strconv.Itoa(r.FailedPredicts),
			strconv.FormatInt(r.ElapsedMS, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadRoundHistory(baseDir, runID string) ([]model.RoundReport, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.RoundReport{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != historyFieldsLen {
		return nil, false, fmt.Errorf("round history header must have %d columns", historyFieldsLen)
	}

	history := make([]model.RoundReport, 0, 128)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		r, err := parseHistoryRecord(record)
		if err != nil {
			return nil, false, fmt.Errorf("round history line %d: %w", line, err)
		}
		history = append(history, r)
	}
	return history, true, nil
}

// historyParser accumulates the first conversion error of a record.
type historyParser struct {
	err error
}

func (p *historyParser) atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *historyParser) atof(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func parseHistoryRecord(record []string) (model.RoundReport, error) {
	if len(record) != historyFieldsLen {
		return model.RoundReport{}, fmt.Errorf("expected %d columns, got %d", historyFieldsLen, len(record))
	}
	var p historyParser
	r := model.RoundReport{
		Generation:     p.atoi(record[0]),
		ConfigEpoch:    p.atoi(record[1]),
		TrainEpoch:     p.atoi(record[2]),
		Phase:          record[3],
		Candidates:     p.atoi(record[4]),
		BestAccuracy:   p.atof(record[5]),
		MeanAccuracy:   p.atof(record[6]),
		StdDevAccuracy: p.atof(record[7]),
		MaxAccuracy:    p.atof(record[8]),
		Temperature:    p.atof(record[9]),
		Favourability:  p.atof(record[10]),
		FailedPredicts: p.atoi(record[11]),
		ElapsedMS:      int64(p.atoi(record[12])),
	}
	return r, p.err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
