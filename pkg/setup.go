package calodigi

import (
	"fmt"
	"sync"
)

// RunSetup is the configuration surface of a run. All values can be changed
// until the first stage is built; building a stage freezes the noise model,
// the registry and the settings so every event of the run sees the same
// constants.
type RunSetup struct {
	mu          sync.Mutex
	registry    *Registry
	noise       *NoiseModel
	multipliers ThresholdMultipliers
	digi        DigiSettings
	profile     *GeometryProfile
	frozen      bool
}

func NewRunSetup(registry *Registry, noise NoiseParameters) *RunSetup {
	return &RunSetup{
		registry:    registry,
		noise:       NewNoiseModel(noise),
		multipliers: DefaultThresholdMultipliers(),
		digi:        DefaultDigiSettings(),
	}
}

// NewRunSetupFromConfiguration applies every run-scoped field of a
// configuration and selects its geometry version.
func NewRunSetupFromConfiguration(registry *Registry, config Configuration) (*RunSetup, error) {
	s := NewRunSetup(registry, config.Noise)
	s.multipliers = config.Thresholds
	s.digi = config.Digi
	if config.GeometryVersion == "" {
		return s, nil
	}
	if err := s.SelectGeometry(config.GeometryVersion); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RunSetup) Registry() *Registry { return s.registry }
func (s *RunSetup) Noise() *NoiseModel  { return s.noise }

func (s *RunSetup) update(name string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return &ErrParametersFrozen{Parameter: name}
	}
	apply()
	return nil
}

func (s *RunSetup) SetThresholdMultipliers(m ThresholdMultipliers) error {
	return s.update("threshold_multipliers", func() { s.multipliers = m })
}

func (s *RunSetup) SetNumSamples(n int) error {
	return s.update("num_samples", func() { s.digi.NumSamples = n })
}

func (s *RunSetup) SetSampleOfInterest(soi int) error {
	return s.update("sample_of_interest", func() { s.digi.SOI = soi })
}

func (s *RunSetup) SetTimingJitter(ns float64) error {
	return s.update("timing_jitter_ns", func() { s.digi.TimingJitterNs = ns })
}

func (s *RunSetup) SetClockCycle(ns float64) error {
	return s.update("clock_cycle_ns", func() { s.digi.ClockCycleNs = ns })
}

func (s *RunSetup) SetNoiseOnlyChannels(enabled bool) error {
	return s.update("noise_only_channels", func() { s.digi.NoiseOnlyChannels = enabled })
}

func (s *RunSetup) SetRejectSaturated(reject bool) error {
	return s.update("reject_saturated", func() { s.digi.RejectSaturated = reject })
}

func (s *RunSetup) SelectGeometry(version string) error {
	profile, err := s.registry.Select(version)
	if err != nil {
		return err
	}
	return s.update("geometry_version", func() { s.profile = profile })
}

func (s *RunSetup) Profile() (*GeometryProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.profile != nil
}

func (s *RunSetup) DigiSettings() DigiSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digi
}

func (s *RunSetup) ThresholdMultipliers() ThresholdMultipliers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multipliers
}

// Calibration derives the noise RMS and the thresholds from the current constants.
func (s *RunSetup) Calibration() (float64, Thresholds, error) {
	return DeriveFromModel(s.ThresholdMultipliers(), s.noise)
}

func (s *RunSetup) Encoding() Encoding {
	digi := s.DigiSettings()
	return NewEncoding(s.noise.Parameters(), digi.ClockCycleNs, digi.PulseDecayNs)
}

func (s *RunSetup) freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
	s.noise.Freeze()
	s.registry.Freeze()
}

func (s *RunSetup) NewDigitizer() (*Digitizer, error) {
	profile, ok := s.Profile()
	if !ok {
		return nil, &ErrGeometryNotSelected{Stage: "digitizer"}
	}
	rms, thresholds, err := s.Calibration()
	if err != nil {
		return nil, err
	}
	d, err := NewDigitizer(profile, s.DigiSettings(), thresholds, rms, s.Encoding())
	if err != nil {
		return nil, err
	}
	s.freeze()
	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Digitizer for geometry %s: noise RMS %g MeV, %s", profile.Version(), rms, thresholds.Describe())
		logger.Info(message, "setup")
	}
	return d, nil
}

func (s *RunSetup) NewReconstructor() (*Reconstructor, error) {
	profile, ok := s.Profile()
	if !ok {
		return nil, &ErrGeometryNotSelected{Stage: "reconstructor"}
	}
	r, err := NewReconstructor(profile, s.Encoding())
	if err != nil {
		return nil, err
	}
	s.freeze()
	return r, nil
}

// Stages builds the digitizer and the reconstructor of the run from the same constants.
func (s *RunSetup) Stages() (*Digitizer, *Reconstructor, error) {
	d, err := s.NewDigitizer()
	if err != nil {
		return nil, nil, err
	}
	r, err := s.NewReconstructor()
	if err != nil {
		return nil, nil, err
	}
	return d, r, nil
}
