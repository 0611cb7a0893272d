package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// LayerConfig describes one fully connected layer. LayerWeights holds one row
// per output unit and one column per input; nil means the weights are drawn
// from WeightRange when a network is built.
type LayerConfig struct {
	ActivationFunction string      `json:"activation_function"`
	WeightRange        [2]float64  `json:"weight_range"`
	LayerWeights       [][]float64 `json:"layer_weights"`
	OutputUnits        int         `json:"output_units"`
	Bias               float64     `json:"bias"`
	LearningRate       float64     `json:"learning_rate"`
	Momentum           float64     `json:"momentum"`
}

// NetworkConfig is one candidate configuration.
type NetworkConfig struct {
	QueryID   int           `json:"query_id"`
	ConfigID  int           `json:"config_id"`
	Accuracy  float64       `json:"accuracy"`
	InputSize int           `json:"input_size"`
	Layers    []LayerConfig `json:"layers"`
}

type TableInfo struct {
	TableName   string   `json:"table_name"`
	QueryID     int      `json:"query_id"`
	ColumnNames []string `json:"column_names,omitempty"`
}

type Row struct {
	Label   int       `json:"label"`
	Columns []float64 `json:"columns"`
}

// Dataset is a labelled classification table. Label indexes ResultMap.
type Dataset struct {
	TableInfo TableInfo `json:"table_info"`
	ResultMap []string  `json:"result_map"`
	Data      []Row     `json:"data"`
}

// OptimizerRequest is the order form for one optimisation run. TunedSettings
// is filled with the accepted configurations when the run finishes.
type OptimizerRequest struct {
	TemperatureDrops              int             `json:"temperature_drops"`
	HeritabilityBiasDrops         int             `json:"heritability_bias_drops"`
	CurrentCandidateConfiguration NetworkConfig   `json:"current_candidate_configuration"`
	TestTrainCutoffIdx            int             `json:"test_train_cutoff_idx"`
	TrainRoundsPerEpoch           int             `json:"train_rounds_per_epoch"`
	MaxTrainEpochs                int             `json:"max_train_epochs"`
	MaxConfigChangingEpochs       int             `json:"max_config_changing_epochs"`
	FinalNumberOfNnetSettings     int             `json:"final_number_of_nnet_settings"`
	WinnersPerRound               int             `json:"winners_per_round"`
	TunedSettings                 []NetworkConfig `json:"tuned_settings"`
	MinAcceptableAccuracy         float64         `json:"min_acceptable_accuracy"`
	CPUsToUse                     int             `json:"cpus_to_use"`
}

// RoundReport summarises one parallel evaluation round.
type RoundReport struct {
	Generation     int     `json:"generation"`
	ConfigEpoch    int     `json:"config_epoch"`
	TrainEpoch     int     `json:"train_epoch"`
	Phase          string  `json:"phase"`
	Candidates     int     `json:"candidates"`
	BestAccuracy   float64 `json:"best_accuracy"`
	MeanAccuracy   float64 `json:"mean_accuracy"`
	StdDevAccuracy float64 `json:"stddev_accuracy"`
	MaxAccuracy    float64 `json:"max_accuracy"`
	Temperature    float64 `json:"temperature"`
	Favourability  float64 `json:"favourability"`
	FailedPredicts int     `json:"failed_predictions"`
	ElapsedMS      int64   `json:"elapsed_ms"`
}

// RunRecord is the persisted summary of a finished optimisation run.
type RunRecord struct {
	VersionedRecord
	ID                string  `json:"id"`
	CreatedAtUTC      string  `json:"created_at_utc"`
	DatasetName       string  `json:"dataset_name"`
	Seed              int64   `json:"seed"`
	Workers           int     `json:"workers"`
	Generations       int     `json:"generations"`
	Evaluations       int     `json:"evaluations"`
	BestAccuracy      float64 `json:"best_accuracy"`
	TunedCount        int     `json:"tuned_count"`
	StopReason        string  `json:"stop_reason"`
	DurationMS        int64   `json:"duration_ms"`
	MinAcceptableAcc  float64 `json:"min_acceptable_accuracy"`
	FinalNumberWanted int     `json:"final_number_wanted"`
}
