package calodigi

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/stat/distuv"
)

type DigiSettings struct {
	NumSamples        int     `json:"num_samples" yaml:"num_samples" validate:"gt=0"`
	SOI               int     `json:"sample_of_interest" yaml:"sample_of_interest" validate:"gte=0"`
	TimingJitterNs    float64 `json:"timing_jitter_ns" yaml:"timing_jitter_ns" validate:"gte=0"`
	ClockCycleNs      float64 `json:"clock_cycle_ns" yaml:"clock_cycle_ns" validate:"gt=0"`
	PulseDecayNs      float64 `json:"pulse_decay_ns" yaml:"pulse_decay_ns" validate:"gt=0"`
	NoiseOnlyChannels bool    `json:"noise_only_channels" yaml:"noise_only_channels"`
	// RejectSaturated fails the event when a TOT counter overflows instead
	// of flagging the hit
	RejectSaturated bool `json:"reject_saturated" yaml:"reject_saturated"`
}

func DefaultDigiSettings() DigiSettings {
	return DigiSettings{
		NumSamples:     10,
		SOI:            2,
		TimingJitterNs: 0.25,
		ClockCycleNs:   DefaultClockCycleNs,
		PulseDecayNs:   DefaultPulseDecayNs,
	}
}

func (s DigiSettings) Describe() string {
	return fmt.Sprintf("DigiSettings{num_samples=%d soi=%d timing_jitter_ns=%g clock_cycle_ns=%g pulse_decay_ns=%g noise_only_channels=%t reject_saturated=%t}",
		s.NumSamples, s.SOI, s.TimingJitterNs, s.ClockCycleNs, s.PulseDecayNs, s.NoiseOnlyChannels, s.RejectSaturated)
}

func (s DigiSettings) validate() error {
	if s.SOI < 0 || s.SOI >= s.NumSamples {
		return &ErrInvalidSampleIndex{Index: s.SOI, NumSamples: s.NumSamples}
	}
	if !(s.ClockCycleNs > 0) {
		return fmt.Errorf("clock cycle must be positive, got %g ns", s.ClockCycleNs)
	}
	if s.TimingJitterNs < 0 || math.IsNaN(s.TimingJitterNs) {
		return fmt.Errorf("timing jitter must be non-negative, got %g ns", s.TimingJitterNs)
	}
	return nil
}

// Digitizer emulates the readout chip for one geometry. It holds only
// run-scoped constants, so one Digitizer can serve concurrent events as long
// as every event brings its own random source.
type Digitizer struct {
	profile    *GeometryProfile
	settings   DigiSettings
	thresholds Thresholds
	noiseRMS   float64
	encoding   Encoding
}

func NewDigitizer(profile *GeometryProfile, settings DigiSettings, thresholds Thresholds,
	noiseRMS float64, encoding Encoding) (*Digitizer, error) {
	if profile == nil {
		return nil, &ErrGeometryNotSelected{Stage: "digitizer"}
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	if noiseRMS < 0 || math.IsNaN(noiseRMS) || math.IsInf(noiseRMS, 0) {
		return nil, &ErrInvalidNoiseParameters{Parameter: "noise_rms_mev", Value: noiseRMS}
	}
	encoding.ClockCycleNs = settings.ClockCycleNs
	if settings.PulseDecayNs > 0 {
		encoding.PulseDecayNs = settings.PulseDecayNs
	}
	if err := encoding.Validate(); err != nil {
		return nil, err
	}
	// Between the ADC full scale and the TOT threshold every energy would
	// read as the full scale.
	if limit := encoding.ADCFullScaleMeV(); !(thresholds.TOTMeV <= limit) {
		return nil, &ErrThresholdOutOfRange{Threshold: "TOT", ValueMeV: thresholds.TOTMeV, LimitMeV: limit}
	}
	return &Digitizer{
		profile:    profile,
		settings:   settings,
		thresholds: thresholds,
		noiseRMS:   noiseRMS,
		encoding:   encoding,
	}, nil
}

func (d *Digitizer) Profile() *GeometryProfile { return d.profile }
func (d *Digitizer) Encoding() Encoding        { return d.encoding }
func (d *Digitizer) Thresholds() Thresholds    { return d.thresholds }

type channelSum struct {
	layer  int
	energy float64
	time   float64
}

// Digitize turns the deposits of one event into digitized hits. Channels are
// visited in ascending id so that a given random source always produces the
// same hits.
func (d *Digitizer) Digitize(deposits []RawDeposit, src rand.Source) ([]DigitizedHit, error) {
	channels := make(map[uint32]*channelSum, len(deposits))
	for _, dep := range deposits {
		if dep.LayerIndex < 0 || dep.LayerIndex >= d.profile.NumLayers() {
			return nil, &ErrLayerIndexOutOfRange{
				ChannelID: dep.ChannelID,
				Layer:     dep.LayerIndex,
				NumLayers: d.profile.NumLayers(),
				Version:   d.profile.Version(),
			}
		}
		if dep.EnergyMeV < 0 || math.IsNaN(dep.EnergyMeV) {
			return nil, &ErrInvalidDeposit{ChannelID: dep.ChannelID, EnergyMeV: dep.EnergyMeV}
		}
		if d.settings.NoiseOnlyChannels {
			// deposits must use the dense numbering of the noise-only channels
			if layer, _, _ := d.profile.DecodeChannel(dep.ChannelID); layer != dep.LayerIndex {
				return nil, &ErrChannelLayerMismatch{ChannelID: dep.ChannelID, LayerIndex: dep.LayerIndex, DecodedLayer: layer}
			}
		}
		sum, ok := channels[dep.ChannelID]
		if !ok {
			channels[dep.ChannelID] = &channelSum{layer: dep.LayerIndex, energy: dep.EnergyMeV, time: dep.TimeNs}
			continue
		}
		sum.energy += dep.EnergyMeV
		// TOA is set by the first contribution
		sum.time = math.Min(sum.time, dep.TimeNs)
	}

	noise := distuv.Normal{Mu: 0, Sigma: d.noiseRMS, Src: src}
	jitter := distuv.Normal{Mu: 0, Sigma: d.settings.TimingJitterNs, Src: src}

	ids := maps.Keys(channels)
	slices.Sort(ids)

	hits := make([]DigitizedHit, 0, len(ids))
	for _, id := range ids {
		sum := channels[id]
		energy := sum.energy + noise.Rand()
		hit, ok := d.digitizeChannel(id, sum.layer, energy, sum.time, jitter)
		if !ok {
			continue
		}
		if hit.Saturated {
			if d.settings.RejectSaturated {
				return nil, &ErrChannelSaturated{ChannelID: id, EnergyMeV: energy, LimitMeV: d.encoding.TOTFullScaleMeV()}
			}
			if configuration.Verbosity > 1 {
				message := fmt.Sprintf("Channel %d saturated: %g MeV above TOT full scale %g MeV",
					id, energy, d.encoding.TOTFullScaleMeV())
				logger.Info(message, "digitizer")
			}
		}
		hits = append(hits, hit)
	}

	if d.settings.NoiseOnlyChannels {
		nChannels := uint32(d.profile.NumChannels())
		cellsPerLayer := d.profile.CellsPerLayer()
		for id := uint32(0); id < nChannels; id++ {
			if _, ok := channels[id]; ok {
				continue
			}
			layer := int(id) / cellsPerLayer
			if hit, ok := d.digitizeChannel(id, layer, noise.Rand(), 0, jitter); ok {
				hits = append(hits, hit)
			}
		}
	}

	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("%d channels with deposits, %d hits above %g MeV",
			len(channels), len(hits), d.thresholds.ReadoutMeV)
		logger.Info(message, "digitizer")
	}
	return hits, nil
}

func (d *Digitizer) digitizeChannel(id uint32, layer int, energy, time float64, jitter distuv.Normal) (DigitizedHit, bool) {
	// Threshold is inclusive
	if energy < d.thresholds.ReadoutMeV {
		return DigitizedHit{}, false
	}
	time += jitter.Rand()

	hit := DigitizedHit{
		ChannelID:  id,
		LayerIndex: layer,
		ADCSamples: d.encoding.Samples(energy, d.settings.NumSamples, d.settings.SOI),
		SOI:        d.settings.SOI,
		TimeNs:     time,
	}
	if energy >= d.thresholds.TOTMeV {
		hit.TOT, hit.Saturated = d.encoding.totCounts(energy)
	}
	if energy >= d.thresholds.TOAMeV {
		hit.TOA = d.encoding.toaCounts(time)
	}
	return hit, true
}

// Digitize is the single-call form of the digitization stage for callers
// that do not keep a Digitizer around.
func Digitize(deposits []RawDeposit, profile *GeometryProfile, settings DigiSettings,
	thresholds Thresholds, noiseRMS float64, encoding Encoding, src rand.Source) ([]DigitizedHit, error) {
	d, err := NewDigitizer(profile, settings, thresholds, noiseRMS, encoding)
	if err != nil {
		return nil, err
	}
	return d.Digitize(deposits, src)
}
