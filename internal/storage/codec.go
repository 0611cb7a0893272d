package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"tinman/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

// tunedRecord wraps the accepted configurations of one run.
type tunedRecord struct {
	model.VersionedRecord
	Configs []model.NetworkConfig `json:"configs"`
}

func EncodeTunedConfigs(configs []model.NetworkConfig) ([]byte, error) {
	return json.Marshal(tunedRecord{VersionedRecord: CurrentVersion(), Configs: configs})
}

func DecodeTunedConfigs(data []byte) ([]model.NetworkConfig, error) {
	var record tunedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return nil, err
	}
	return record.Configs, nil
}

func EncodeRoundHistory(history []model.RoundReport) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeRoundHistory(data []byte) ([]model.RoundReport, error) {
	var history []model.RoundReport
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortRuns orders runs newest first, ties by id.
func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
