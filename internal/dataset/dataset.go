// Package dataset loads, checks and reshapes labelled classification tables.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tinman/internal/model"
)

var (
	ErrEmpty         = fmt.Errorf("%w: dataset has no rows", model.ErrConfiguration)
	ErrRowWidth      = fmt.Errorf("%w: row width does not match input size", model.ErrConfiguration)
	ErrLabelRange    = fmt.Errorf("%w: label outside class range", model.ErrConfiguration)
	ErrUnknownFormat = errors.New("unknown dataset format")
	ErrUnknownClass  = fmt.Errorf("%w: unknown class", model.ErrConfiguration)
)

// Load reads a dataset from a .json or .csv file.
func Load(path string) (model.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Dataset{}, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadJSON(f)
	case ".csv":
		return ReadCSV(f, name)
	default:
		return model.Dataset{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func ReadJSON(r io.Reader) (model.Dataset, error) {
	var ds model.Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return model.Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	return ds, nil
}

// ReadCSV reads a table with a header row. The column named "label" or
// "class" holds the class name, or the last column when neither exists.
// Class indices follow first appearance.
func ReadCSV(r io.Reader, name string) (model.Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	ds := model.Dataset{TableInfo: model.TableInfo{TableName: strings.TrimSpace(name)}}
	header, err := reader.Read()
	if err == io.EOF {
		return ds, nil
	}
	if err != nil {
		return model.Dataset{}, fmt.Errorf("read dataset csv header: %w", err)
	}
	labelCol := len(header) - 1
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "label" || key == "class" {
			labelCol = i
			break
		}
	}
	for i, h := range header {
		if i != labelCol {
			ds.TableInfo.ColumnNames = append(ds.TableInfo.ColumnNames, strings.TrimSpace(h))
		}
	}

	classes := make(map[string]int)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return model.Dataset{}, fmt.Errorf("read dataset csv line %d: %w", line, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return model.Dataset{}, fmt.Errorf("dataset csv line %d: got %d fields, want %d", line, len(record), len(header))
		}
		row := model.Row{Columns: make([]float64, 0, len(record)-1)}
		for i, raw := range record {
			if i == labelCol {
				class := strings.TrimSpace(raw)
				idx, ok := classes[class]
				if !ok {
					idx = len(ds.ResultMap)
					classes[class] = idx
					ds.ResultMap = append(ds.ResultMap, class)
				}
				row.Label = idx
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return model.Dataset{}, fmt.Errorf("dataset csv line %d column %d: %w", line, i, err)
			}
			row.Columns = append(row.Columns, v)
		}
		ds.Data = append(ds.Data, row)
	}
	return ds, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// Write stores ds as indented JSON.
func Write(path string, ds model.Dataset) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that ds can be fed to a network with the given input size
// and number of output units.
func Validate(ds *model.Dataset, inputSize, classes int) error {
	if len(ds.Data) == 0 {
		return ErrEmpty
	}
	for i, row := range ds.Data {
		if len(row.Columns) != inputSize {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrRowWidth, i, len(row.Columns), inputSize)
		}
		if row.Label < 0 || row.Label >= classes {
			return fmt.Errorf("%w: row %d label %d, classes %d", ErrLabelRange, i, row.Label, classes)
		}
	}
	return nil
}

// Normalize rescales every column to [0, 1] in place. Constant columns
// become 0.
func Normalize(ds *model.Dataset) {
	if len(ds.Data) == 0 {
		return
	}
	width := len(ds.Data[0].Columns)
	for c := 0; c < width; c++ {
		lo, hi := ds.Data[0].Columns[c], ds.Data[0].Columns[c]
		for _, row := range ds.Data {
			if c >= len(row.Columns) {
				continue
			}
			lo = min(lo, row.Columns[c])
			hi = max(hi, row.Columns[c])
		}
		span := hi - lo
		for _, row := range ds.Data {
			if c >= len(row.Columns) {
				continue
			}
			if span == 0 {
				row.Columns[c] = 0
				continue
			}
			row.Columns[c] = (row.Columns[c] - lo) / span
		}
	}
}

// Shuffle permutes the rows in place.
func Shuffle(ds *model.Dataset, rng *rand.Rand) {
	rng.Shuffle(len(ds.Data), func(i, j int) {
		ds.Data[i], ds.Data[j] = ds.Data[j], ds.Data[i]
	})
}

// SelectClasses returns the rows whose class is in names, relabelled so that
// names[i] becomes class i.
func SelectClasses(ds model.Dataset, names []string) (model.Dataset, error) {
	remap := make(map[int]int, len(names))
	for newIdx, name := range names {
		found := false
		for oldIdx, class := range ds.ResultMap {
			if class == name {
				remap[oldIdx] = newIdx
				found = true
				break
			}
		}
		if !found {
			return model.Dataset{}, fmt.Errorf("%w: %q", ErrUnknownClass, name)
		}
	}
	out := model.Dataset{TableInfo: ds.TableInfo, ResultMap: append([]string(nil), names...)}
	for _, row := range ds.Data {
		label, ok := remap[row.Label]
		if !ok {
			continue
		}
		out.Data = append(out.Data, model.Row{Label: label, Columns: append([]float64(nil), row.Columns...)})
	}
	return out, nil
}

// SelectColumns keeps only the listed columns, in the given order.
func SelectColumns(ds model.Dataset, columns []int) (model.Dataset, error) {
	out := model.Dataset{TableInfo: ds.TableInfo, ResultMap: append([]string(nil), ds.ResultMap...)}
	out.TableInfo.ColumnNames = nil
	for _, c := range columns {
		if c < 0 {
			return model.Dataset{}, fmt.Errorf("%w: column %d", model.ErrConfiguration, c)
		}
		if c < len(ds.TableInfo.ColumnNames) {
			out.TableInfo.ColumnNames = append(out.TableInfo.ColumnNames, ds.TableInfo.ColumnNames[c])
		}
	}
	for i, row := range ds.Data {
		cols := make([]float64, len(columns))
		for k, c := range columns {
			if c >= len(row.Columns) {
				return model.Dataset{}, fmt.Errorf("%w: row %d has no column %d", model.ErrConfiguration, i, c)
			}
			cols[k] = row.Columns[c]
		}
		out.Data = append(out.Data, model.Row{Label: row.Label, Columns: cols})
	}
	return out, nil
}
