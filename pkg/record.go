package calodigi

import (
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type KeyValue struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// RunRecord is the flat key-value dump of the run-scoped constants, written
// next to the output so a run can be reproduced.
type RunRecord struct {
	RunID   string     `yaml:"run_id"`
	Entries []KeyValue `yaml:"entries"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// NewRunRecord collects the constants of a built setup. It fails if the
// setup has no geometry or its noise parameters are invalid.
func NewRunRecord(s *RunSetup, runSeed uint64) (RunRecord, error) {
	profile, ok := s.Profile()
	if !ok {
		return RunRecord{}, &ErrGeometryNotSelected{Stage: "run record"}
	}
	rms, thresholds, err := s.Calibration()
	if err != nil {
		return RunRecord{}, err
	}
	noise := s.Noise().Parameters()
	m := s.ThresholdMultipliers()
	digi := s.DigiSettings()
	enc := s.Encoding()

	entries := []KeyValue{
		{"run_seed", strconv.FormatUint(runSeed, 10)},
		{"geometry_version", profile.Version()},
		{"num_layers", strconv.Itoa(profile.NumLayers())},
		{"modules_per_layer", strconv.Itoa(profile.ModulesPerLayer())},
		{"cells_per_module", strconv.Itoa(profile.CellsPerModule())},
		{"second_order_correction", formatFloat(profile.SecondOrderCorrection())},
		{"noise_intercept", formatFloat(noise.Intercept)},
		{"noise_slope", formatFloat(noise.Slope)},
		{"capacitance_pf", formatFloat(noise.CapacitancePF)},
		{"electrons_per_mip", formatFloat(noise.ElectronsPerMIP)},
		{"mip_response_mev", formatFloat(noise.MIPResponseMeV)},
		{"noise_rms_mev", formatFloat(rms)},
		{"readout_multiplier", formatFloat(m.Readout)},
		{"tot_multiplier", formatFloat(m.TOT)},
		{"toa_multiplier", formatFloat(m.TOA)},
		{"readout_threshold_mev", formatFloat(thresholds.ReadoutMeV)},
		{"tot_threshold_mev", formatFloat(thresholds.TOTMeV)},
		{"toa_threshold_mev", formatFloat(thresholds.TOAMeV)},
		{"num_samples", strconv.Itoa(digi.NumSamples)},
		{"sample_of_interest", strconv.Itoa(digi.SOI)},
		{"timing_jitter_ns", formatFloat(digi.TimingJitterNs)},
		{"clock_cycle_ns", formatFloat(digi.ClockCycleNs)},
		{"pulse_decay_ns", formatFloat(digi.PulseDecayNs)},
		{"noise_only_channels", strconv.FormatBool(digi.NoiseOnlyChannels)},
		{"reject_saturated", strconv.FormatBool(digi.RejectSaturated)},
		{"pedestal", strconv.Itoa(int(enc.Pedestal))},
		{"adc_lsb_mev", formatFloat(enc.ADCLSBMeV)},
		{"tot_lsb_mev", formatFloat(enc.TOTLSBMeV)},
		{"adc_full_scale_mev", formatFloat(enc.ADCFullScaleMeV())},
		{"tot_full_scale_mev", formatFloat(enc.TOTFullScaleMeV())},
	}
	for i, w := range profile.LayerWeights() {
		entries = append(entries, KeyValue{fmt.Sprintf("layer_weight_%02d", i), formatFloat(w)})
	}
	return RunRecord{RunID: uuid.NewString(), Entries: entries}, nil
}

func (r RunRecord) Lookup(key string) (string, bool) {
	for _, kv := range r.Entries {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (r RunRecord) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("error encoding run record: %w", err)
	}
	return enc.Close()
}

func ReadRunRecord(r io.Reader) (RunRecord, error) {
	var record RunRecord
	if err := yaml.NewDecoder(r).Decode(&record); err != nil {
		return RunRecord{}, fmt.Errorf("error decoding run record: %w", err)
	}
	return record, nil
}
