package config

import (
	"encoding/json"
	"fmt"
	"os"

	"tinman/internal/model"
)

// LoadRequest reads an optimiser request. Unknown fields are rejected so
// that misspelled keys do not silently fall back to zero.
func LoadRequest(path string) (model.OptimizerRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.OptimizerRequest{}, err
	}
	defer f.Close()

	var req model.OptimizerRequest
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.OptimizerRequest{}, fmt.Errorf("decode request %s: %w", path, err)
	}
	return req, nil
}

func WriteRequest(path string, req model.OptimizerRequest) error {
	return writeJSON(path, req)
}

func WriteNetworkConfig(path string, cfg model.NetworkConfig) error {
	return writeJSON(path, cfg)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// LoadNetworkConfig reads a single network configuration.
func LoadNetworkConfig(path string) (model.NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.NetworkConfig{}, err
	}
	var cfg model.NetworkConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.NetworkConfig{}, fmt.Errorf("decode network config %s: %w", path, err)
	}
	return cfg, nil
}

// ExampleRequest is the request written by `tinmanctl init`: a two layer
// sigmoid network for a two input, two class table.
func ExampleRequest() model.OptimizerRequest {
	return model.OptimizerRequest{
		TemperatureDrops:      10,
		HeritabilityBiasDrops: 8,
		CurrentCandidateConfiguration: model.NetworkConfig{
			InputSize: 2,
			Layers: []model.LayerConfig{
				{ActivationFunction: "sigmoid", WeightRange: [2]float64{-1, 1}, OutputUnits: 4, LearningRate: 0.1, Momentum: 0.1},
				{ActivationFunction: "sigmoid", WeightRange: [2]float64{-1, 1}, OutputUnits: 2, LearningRate: 0.1, Momentum: 0.1},
			},
		},
		TestTrainCutoffIdx:        100,
		TrainRoundsPerEpoch:       20,
		MaxTrainEpochs:            4,
		MaxConfigChangingEpochs:   1,
		FinalNumberOfNnetSettings: 3,
		WinnersPerRound:           4,
		MinAcceptableAccuracy:     90,
		CPUsToUse:                 4,
	}
}
