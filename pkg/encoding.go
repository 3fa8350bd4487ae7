package calodigi

import (
	"fmt"
	"math"
)

const (
	adcBits = 10
	totBits = 12
	toaBits = 10

	// Full ADC range of the HGCROC in fC
	adcRangeFC = 320.0
	// Charge per TOT count in fC
	totGainFC = 0.5

	DefaultPedestal     = 50
	DefaultClockCycleNs = 25.0
	// Fall time of the shaped pulse
	DefaultPulseDecayNs = 87.7649
)

// Encoding converts deposited energy into HGCROC-like counts and back.
// Amplitudes below the TOT threshold are measured by the ADC in the sample of
// interest; larger ones switch the channel into time-over-threshold mode and
// the energy is carried by the TOT counter.
type Encoding struct {
	Pedestal     int32
	ADCLSBMeV    float64
	ADCMax       int32
	TOTLSBMeV    float64
	TOTMax       int32
	ClockCycleNs float64
	PulseDecayNs float64
}

// NewEncoding builds the default chip response for the given noise
// parameters, converting charge LSBs into energy through the MIP response.
func NewEncoding(params NoiseParameters, clockCycleNs, pulseDecayNs float64) Encoding {
	mevPerFC := params.MeVPerFC()
	return Encoding{
		Pedestal:     DefaultPedestal,
		ADCLSBMeV:    adcRangeFC / (1 << adcBits) * mevPerFC,
		ADCMax:       1<<adcBits - 1,
		TOTLSBMeV:    totGainFC * mevPerFC,
		TOTMax:       1<<totBits - 1,
		ClockCycleNs: clockCycleNs,
		PulseDecayNs: pulseDecayNs,
	}
}

func (e Encoding) Validate() error {
	switch {
	case !(e.ADCLSBMeV > 0):
		return fmt.Errorf("ADC LSB must be positive, got %g MeV", e.ADCLSBMeV)
	case !(e.TOTLSBMeV > 0):
		return fmt.Errorf("TOT LSB must be positive, got %g MeV", e.TOTLSBMeV)
	case e.Pedestal < 0 || e.Pedestal >= e.ADCMax:
		return fmt.Errorf("pedestal %d outside ADC range [0, %d)", e.Pedestal, e.ADCMax)
	case !(e.ClockCycleNs > 0):
		return fmt.Errorf("clock cycle must be positive, got %g ns", e.ClockCycleNs)
	case !(e.PulseDecayNs > 0):
		return fmt.Errorf("pulse decay must be positive, got %g ns", e.PulseDecayNs)
	}
	return nil
}

func (e Encoding) Describe() string {
	return fmt.Sprintf("Encoding{pedestal=%d adc_lsb_MeV=%g adc_max=%d tot_lsb_MeV=%g tot_max=%d clock_cycle_ns=%g pulse_decay_ns=%g}",
		e.Pedestal, e.ADCLSBMeV, e.ADCMax, e.TOTLSBMeV, e.TOTMax, e.ClockCycleNs, e.PulseDecayNs)
}

func clampCount(v float64, max int32) int32 {
	if v < 0 {
		return 0
	}
	if v > float64(max) {
		return max
	}
	return int32(v)
}

// adcCounts returns the ADC reading for an energy, pedestal included.
func (e Encoding) adcCounts(energyMeV float64) int32 {
	return clampCount(float64(e.Pedestal)+math.Round(energyMeV/e.ADCLSBMeV), e.ADCMax)
}

// ADCFullScaleMeV is the largest energy the ADC measures above the pedestal.
func (e Encoding) ADCFullScaleMeV() float64 {
	return float64(e.ADCMax-e.Pedestal) * e.ADCLSBMeV
}

// TOTFullScaleMeV is the largest energy the TOT counter measures.
func (e Encoding) TOTFullScaleMeV() float64 {
	return float64(e.TOTMax) * e.TOTLSBMeV
}

// totCounts returns the TOT reading for an energy and whether the counter
// overflowed. An overflowed counter holds TOTMax.
func (e Encoding) totCounts(energyMeV float64) (int32, bool) {
	rounded := math.Round(energyMeV / e.TOTLSBMeV)
	counts := clampCount(rounded, e.TOTMax)
	if counts == 0 {
		// zero TOT means ADC mode
		counts = 1
	}
	return counts, rounded > float64(e.TOTMax)
}

// toaCounts measures the arrival phase within the clock cycle with 10 bits.
func (e Encoding) toaCounts(timeNs float64) int32 {
	phase := math.Mod(timeNs, e.ClockCycleNs)
	if phase < 0 {
		phase += e.ClockCycleNs
	}
	countsPerNs := float64(int32(1)<<toaBits) / e.ClockCycleNs
	return clampCount(math.Round(phase*countsPerNs), 1<<toaBits-1)
}

// Samples fills the sample window for one hit. The SOI carries the
// amplitude, earlier samples only the pedestal and later ones the pulse tail.
func (e Encoding) Samples(energyMeV float64, numSamples, soi int) []int32 {
	samples := make([]int32, numSamples)
	amplitude := float64(e.adcCounts(energyMeV) - e.Pedestal)
	for i := range samples {
		switch d := i - soi; {
		case d < 0:
			samples[i] = e.Pedestal
		case d == 0:
			samples[i] = e.Pedestal + int32(amplitude)
		default:
			tail := amplitude * math.Exp(-float64(d)*e.ClockCycleNs/e.PulseDecayNs)
			samples[i] = clampCount(float64(e.Pedestal)+math.Round(tail), e.ADCMax)
		}
	}
	return samples
}

// Decode returns the energy measured by a digitized hit.
func (e Encoding) Decode(hit DigitizedHit) (float64, error) {
	if hit.SOI < 0 || hit.SOI >= len(hit.ADCSamples) {
		return 0, &ErrInvalidSampleIndex{Index: hit.SOI, NumSamples: len(hit.ADCSamples)}
	}
	if hit.TOT > 0 {
		return float64(hit.TOT) * e.TOTLSBMeV, nil
	}
	return float64(hit.ADCSamples[hit.SOI]-e.Pedestal) * e.ADCLSBMeV, nil
}

// EnergyResolution is the largest quantization error of a decoded energy.
func (e Encoding) EnergyResolution() float64 {
	return math.Max(e.ADCLSBMeV, e.TOTLSBMeV) / 2
}
