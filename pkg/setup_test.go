package calodigi

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagesRequireGeometry(t *testing.T) {
	s := NewRunSetup(builtinRegistry(t), DefaultNoiseParameters())

	var notSelected *ErrGeometryNotSelected
	_, err := s.NewDigitizer()
	require.ErrorAs(t, err, &notSelected)
	assert.Equal(t, "digitizer", notSelected.Stage)

	_, err = s.NewReconstructor()
	require.ErrorAs(t, err, &notSelected)
	assert.Equal(t, "reconstructor", notSelected.Stage)

	_, _, err = s.Stages()
	assert.ErrorAs(t, err, &notSelected)

	// a failed build does not freeze anything
	assert.NoError(t, s.SetNumSamples(8))
	assert.False(t, s.Registry().Frozen())
}

func TestStagesRejectTOTThresholdAboveADCRange(t *testing.T) {
	s := NewRunSetup(builtinRegistry(t), DefaultNoiseParameters())
	require.NoError(t, s.SelectGeometry("v12"))
	require.NoError(t, s.SetThresholdMultipliers(ThresholdMultipliers{Readout: 4, TOT: 200, TOA: 5}))

	_, _, err := s.Stages()
	var outOfRange *ErrThresholdOutOfRange
	require.ErrorAs(t, err, &outOfRange)
	assert.Equal(t, "TOT", outOfRange.Threshold)
	assert.False(t, s.Registry().Frozen())

	require.NoError(t, s.SetThresholdMultipliers(DefaultThresholdMultipliers()))
	_, _, err = s.Stages()
	assert.NoError(t, err)
}

func TestSetupFreezesOnFirstStage(t *testing.T) {
	s := NewRunSetup(builtinRegistry(t), DefaultNoiseParameters())
	require.NoError(t, s.SelectGeometry("v9"))
	require.NoError(t, s.SetTimingJitter(0.5))

	d, r, err := s.Stages()
	require.NoError(t, err)
	assert.Same(t, d.Profile(), r.Profile())
	assert.Equal(t, 0.5, s.DigiSettings().TimingJitterNs)

	var frozen *ErrParametersFrozen
	assert.ErrorAs(t, s.SetNumSamples(4), &frozen)
	assert.ErrorAs(t, s.SetSampleOfInterest(1), &frozen)
	assert.ErrorAs(t, s.SetClockCycle(20), &frozen)
	assert.ErrorAs(t, s.SetNoiseOnlyChannels(true), &frozen)
	assert.ErrorAs(t, s.SetRejectSaturated(true), &frozen)
	assert.ErrorAs(t, s.SetThresholdMultipliers(ThresholdMultipliers{}), &frozen)
	assert.ErrorAs(t, s.SelectGeometry("v12"), &frozen)
	assert.ErrorAs(t, s.Noise().SetCapacitance(1), &frozen)
	assert.True(t, s.Registry().Frozen())

	var invalid *ErrInvalidProfile
	assert.ErrorAs(t, s.Registry().Register("v13", 1, 1, 1, []float64{1}, 1), &invalid)
}

func TestSetupFromConfiguration(t *testing.T) {
	config := DefaultConfiguration()
	config.GeometryVersion = "v2"
	config.Thresholds.Readout = 6
	config.Digi.NumSamples = 6

	s, err := NewRunSetupFromConfiguration(builtinRegistry(t), config)
	require.NoError(t, err)
	profile, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, "v2", profile.Version())
	assert.Equal(t, 6, s.DigiSettings().NumSamples)

	rms, thresholds, err := s.Calibration()
	require.NoError(t, err)
	assert.Equal(t, 6*rms, thresholds.ReadoutMeV)

	config.GeometryVersion = "v99"
	_, err = NewRunSetupFromConfiguration(builtinRegistry(t), config)
	var unknown *ErrUnknownGeometryVersion
	assert.ErrorAs(t, err, &unknown)

	config.GeometryVersion = ""
	s, err = NewRunSetupFromConfiguration(builtinRegistry(t), config)
	require.NoError(t, err)
	_, ok = s.Profile()
	assert.False(t, ok)
}

func TestRunRecord(t *testing.T) {
	s := NewRunSetup(builtinRegistry(t), DefaultNoiseParameters())

	_, err := NewRunRecord(s, 7)
	var notSelected *ErrGeometryNotSelected
	require.ErrorAs(t, err, &notSelected)

	require.NoError(t, s.SelectGeometry("v12"))
	record, err := NewRunRecord(s, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, record.RunID)

	expected := map[string]string{
		"run_seed":                "7",
		"geometry_version":        "v12",
		"num_layers":              "34",
		"second_order_correction": "0.99750623",
		"capacitance_pf":          "20",
		"layer_weight_00":         "1.675",
		"layer_weight_33":         "8.99",
		"sample_of_interest":      "2",
		"pedestal":                "50",
		"reject_saturated":        "false",
	}
	for key, value := range expected {
		got, ok := record.Lookup(key)
		assert.Truef(t, ok, "missing %s", key)
		assert.Equal(t, value, got, key)
	}
	_, ok := record.Lookup("layer_weight_34")
	assert.False(t, ok)

	var buf bytes.Buffer
	require.NoError(t, record.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "geometry_version")

	decoded, err := ReadRunRecord(&buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(record, decoded))
}

func TestRunRecordIDsDiffer(t *testing.T) {
	s := NewRunSetup(builtinRegistry(t), DefaultNoiseParameters())
	require.NoError(t, s.SelectGeometry("v12"))
	a, err := NewRunRecord(s, 1)
	require.NoError(t, err)
	b, err := NewRunRecord(s, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Entries, b.Entries)
}

func TestConfigurationValidate(t *testing.T) {
	assert.NoError(t, DefaultConfiguration().Validate())

	config := DefaultConfiguration()
	config.NumWorkers = 0
	assert.Error(t, config.Validate())

	config = DefaultConfiguration()
	config.NoDB = false
	config.Host = ""
	assert.Error(t, config.Validate())

	config = DefaultConfiguration()
	config.Noise.ElectronsPerMIP = 0
	assert.Error(t, config.Validate())

	config = DefaultConfiguration()
	config.CompressionLevel = 10
	assert.Error(t, config.Validate())

	config = DefaultConfiguration()
	config.Digi.SOI = config.Digi.NumSamples
	var invalid *ErrInvalidSampleIndex
	assert.ErrorAs(t, config.Validate(), &invalid)
}

func TestSummarizeEnergies(t *testing.T) {
	assert.Equal(t, EnergySummary{}, SummarizeEnergies(nil))

	one := SummarizeEnergies([]float64{5})
	assert.Equal(t, EnergySummary{Events: 1, MeanMeV: 5}, one)

	s := SummarizeEnergies([]float64{1, 2, 3})
	assert.Equal(t, 3, s.Events)
	assert.InDelta(t, 2, s.MeanMeV, 1e-12)
	assert.InDelta(t, 1, s.RMSMeV, 1e-12)
	assert.InDelta(t, 0.5, s.Resolution(), 1e-12)
}

func TestSecondOrderCorrection(t *testing.T) {
	correction, err := SecondOrderCorrection([]float64{4000, 4014}, 4000, 1)
	require.NoError(t, err)
	assert.InDelta(t, 4000./4007., correction, 1e-12)

	correction, err = SecondOrderCorrection([]float64{2000}, 4000, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, correction, 1e-12)

	// v9 was calibrated on 4 GeV electrons averaging 4012 MeV
	v9, err := builtinRegistry(t).Select("v9")
	require.NoError(t, err)
	correction, err = SecondOrderCorrection([]float64{4010, 4014}, 4000, 1)
	require.NoError(t, err)
	assert.InDelta(t, v9.SecondOrderCorrection(), correction, 1e-12)

	_, err = SecondOrderCorrection(nil, 4000, 1)
	assert.Error(t, err)
	_, err = SecondOrderCorrection([]float64{1}, 0, 1)
	assert.Error(t, err)
}
