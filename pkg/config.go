package calodigi

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Configuration struct {
	MaxEvents        int                  `json:"max_events" yaml:"max_events" validate:"gte=0"`
	Skip             int                  `json:"skip" yaml:"skip" validate:"gte=0"`
	Verbosity        int                  `json:"verbosity" yaml:"verbosity" validate:"gte=0"`
	Discard          bool                 `json:"discard" yaml:"discard"`
	NumWorkers       int                  `json:"num_workers" yaml:"num_workers" validate:"gte=1"`
	RunSeed          uint64               `json:"run_seed" yaml:"run_seed"`
	RunNumber        int                  `json:"run_number" yaml:"run_number" validate:"gte=0"`
	FileIn           string               `json:"file_in" yaml:"file_in"`
	FileOut          string               `json:"file_out" yaml:"file_out"`
	MetricsFile      string               `json:"metrics_file" yaml:"metrics_file"`
	RecordFile       string               `json:"record_file" yaml:"record_file"`
	WriteData        bool                 `json:"write_data" yaml:"write_data"`
	WriteDigis       bool                 `json:"write_digis" yaml:"write_digis"`
	CompressionLevel int                  `json:"compression_level" yaml:"compression_level" validate:"gte=0,lte=9"`
	GeometryVersion  string               `json:"geometry_version" yaml:"geometry_version"`
	NoDB             bool                 `json:"no_db" yaml:"no_db"`
	Host             string               `json:"host" yaml:"host" validate:"required_if=NoDB false"`
	User             string               `json:"user" yaml:"user"`
	Passwd           string               `json:"pass" yaml:"pass"`
	DBName           string               `json:"dbname" yaml:"dbname" validate:"required_if=NoDB false"`
	Noise            NoiseParameters      `json:"noise" yaml:"noise"`
	Thresholds       ThresholdMultipliers `json:"thresholds" yaml:"thresholds"`
	Digi             DigiSettings         `json:"digi" yaml:"digi"`
}

// DefaultConfiguration returns the values used for every field missing from
// the configuration file.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxEvents:        1000000000,
		Verbosity:        0,
		Discard:          true,
		NumWorkers:       1,
		RunSeed:          1,
		WriteData:        true,
		CompressionLevel: 4,
		GeometryVersion:  DefaultGeometryVersion,
		NoDB:             true,
		Host:             "localhost",
		User:             "ecalreader",
		Passwd:           "readonly",
		DBName:           "ECAL_CONDITIONS",
		Noise:            DefaultNoiseParameters(),
		Thresholds:       DefaultThresholdMultipliers(),
		Digi:             DefaultDigiSettings(),
	}
}

// Validate checks field ranges and cross-field constraints of a configuration.
func (c Configuration) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Digi.SOI >= c.Digi.NumSamples {
		return &ErrInvalidSampleIndex{Index: c.Digi.SOI, NumSamples: c.Digi.NumSamples}
	}
	return nil
}

var configuration = DefaultConfiguration()

func GetConfiguration() Configuration {
	return configuration
}

func SetConfiguration(config Configuration) {
	configuration = config
}
