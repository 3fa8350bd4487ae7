package calodigi

import (
	"fmt"
	"math"
)

type Thresholds struct {
	ReadoutMeV float64
	TOTMeV     float64
	TOAMeV     float64
}

func (t Thresholds) Describe() string {
	return fmt.Sprintf("Thresholds{readout_MeV=%g tot_MeV=%g toa_MeV=%g}", t.ReadoutMeV, t.TOTMeV, t.TOAMeV)
}

// ThresholdMultipliers scale the noise RMS (readout) and the MIP response
// (TOT, TOA) into thresholds.
type ThresholdMultipliers struct {
	Readout float64 `json:"readout_threshold_noise_rms" yaml:"readout_threshold_noise_rms" validate:"gte=0"`
	TOT     float64 `json:"tot_threshold_mips" yaml:"tot_threshold_mips" validate:"gte=0"`
	TOA     float64 `json:"toa_threshold_mips" yaml:"toa_threshold_mips" validate:"gte=0"`
}

func DefaultThresholdMultipliers() ThresholdMultipliers {
	return ThresholdMultipliers{Readout: 4, TOT: 50, TOA: 5}
}

func (m ThresholdMultipliers) Describe() string {
	return fmt.Sprintf("ThresholdMultipliers{readout=%g tot=%g toa=%g}", m.Readout, m.TOT, m.TOA)
}

func (m ThresholdMultipliers) Derive(noiseRMS, mipResponseMeV float64) (Thresholds, error) {
	if noiseRMS < 0 || math.IsNaN(noiseRMS) || math.IsInf(noiseRMS, 0) {
		return Thresholds{}, &ErrInvalidNoiseParameters{Parameter: "noise_rms_mev", Value: noiseRMS}
	}
	if !(mipResponseMeV > 0) || math.IsInf(mipResponseMeV, 0) {
		return Thresholds{}, &ErrInvalidNoiseParameters{Parameter: "mip_response_mev", Value: mipResponseMeV}
	}
	return Thresholds{
		ReadoutMeV: m.Readout * noiseRMS,
		TOTMeV:     m.TOT * mipResponseMeV,
		TOAMeV:     m.TOA * mipResponseMeV,
	}, nil
}

// Derive computes thresholds with the default multipliers.
func Derive(noiseRMS, mipResponseMeV float64) (Thresholds, error) {
	return DefaultThresholdMultipliers().Derive(noiseRMS, mipResponseMeV)
}

// DeriveFromModel computes the noise RMS of the model and derives thresholds from it.
func DeriveFromModel(m ThresholdMultipliers, model *NoiseModel) (float64, Thresholds, error) {
	rms, err := model.RMS()
	if err != nil {
		return 0, Thresholds{}, err
	}
	thresholds, err := m.Derive(rms, model.Parameters().MIPResponseMeV)
	if err != nil {
		return 0, Thresholds{}, err
	}
	return rms, thresholds, nil
}
