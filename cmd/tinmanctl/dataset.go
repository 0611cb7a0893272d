package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"tinman/internal/dataset"
	"tinman/internal/model"
)

type datasetOptions struct {
	classes   []string
	columns   []string
	normalize bool
	shuffle   bool
	seed      int64
}

// transformDataset applies column selection, class selection, normalisation
// and shuffling, in that order.
func transformDataset(ds model.Dataset, opts datasetOptions) (model.Dataset, error) {
	var err error
	if len(opts.columns) > 0 {
		idx := make([]int, 0, len(opts.columns))
		for _, c := range opts.columns {
			v, convErr := strconv.Atoi(c)
			if convErr != nil {
				return model.Dataset{}, fmt.Errorf("%w: column %q is not an index", model.ErrConfiguration, c)
			}
			idx = append(idx, v)
		}
		if ds, err = dataset.SelectColumns(ds, idx); err != nil {
			return model.Dataset{}, err
		}
	}
	if len(opts.classes) > 0 {
		if ds, err = dataset.SelectClasses(ds, opts.classes); err != nil {
			return model.Dataset{}, err
		}
	}
	if opts.normalize {
		dataset.Normalize(&ds)
	}
	if opts.shuffle {
		dataset.Shuffle(&ds, rand.New(rand.NewSource(opts.seed)))
	}
	return ds, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
