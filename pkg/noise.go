package calodigi

import (
	"fmt"
	"math"
	"sync"
)

// Default ECal constants for 0.5 mm thick silicon read out by an HGCROC.
const (
	DefaultElectronsPerMIP = 37000.0 // e-h pairs per MIP
	DefaultMIPResponseMeV  = 0.130   // ~3.5 eV per e-h pair
	DefaultCapacitancePF   = 20.0    // readout pad capacitance
	DefaultNoiseIntercept  = 700.0   // electrons
	DefaultNoiseSlope      = 25.0    // electrons / pF

	// Charge of one electron in fC.
	electronChargeFC = 0.162 / 1000
)

type NoiseParameters struct {
	Intercept       float64 `json:"noise_intercept" yaml:"noise_intercept" validate:"gte=0"`
	Slope           float64 `json:"noise_slope" yaml:"noise_slope" validate:"gte=0"`
	CapacitancePF   float64 `json:"capacitance_pf" yaml:"capacitance_pf" validate:"gte=0"`
	ElectronsPerMIP float64 `json:"electrons_per_mip" yaml:"electrons_per_mip" validate:"gt=0"`
	MIPResponseMeV  float64 `json:"mip_response_mev" yaml:"mip_response_mev" validate:"gt=0"`
}

func DefaultNoiseParameters() NoiseParameters {
	return NoiseParameters{
		Intercept:       DefaultNoiseIntercept,
		Slope:           DefaultNoiseSlope,
		CapacitancePF:   DefaultCapacitancePF,
		ElectronsPerMIP: DefaultElectronsPerMIP,
		MIPResponseMeV:  DefaultMIPResponseMeV,
	}
}

func (p NoiseParameters) Describe() string {
	return fmt.Sprintf("NoiseParameters{intercept=%g slope=%g capacitance_pF=%g electrons_per_mip=%g mip_response_MeV=%g}",
		p.Intercept, p.Slope, p.CapacitancePF, p.ElectronsPerMIP, p.MIPResponseMeV)
}

// ChargePerMIP is the charge in fC collected for one MIP.
func (p NoiseParameters) ChargePerMIP() float64 {
	return p.ElectronsPerMIP * electronChargeFC
}

// MeVPerFC converts collected charge back to deposited energy.
func (p NoiseParameters) MeVPerFC() float64 {
	return p.MIPResponseMeV / p.ChargePerMIP()
}

func (p NoiseParameters) RMS() (float64, error) {
	return ComputeNoiseRMS(p.Intercept, p.Slope, p.CapacitancePF, p.ElectronsPerMIP, p.MIPResponseMeV)
}

// ComputeNoiseRMS returns the electronic noise in MeV. The noise in electrons
// grows linearly with the pad capacitance and is converted to energy through
// the MIP response.
func ComputeNoiseRMS(intercept, slope, capacitancePF, electronsPerMIP, mipResponseMeV float64) (float64, error) {
	if !(electronsPerMIP > 0) || math.IsInf(electronsPerMIP, 0) {
		return 0, &ErrInvalidNoiseParameters{Parameter: "electrons_per_mip", Value: electronsPerMIP}
	}
	checks := []struct {
		name  string
		value float64
	}{
		{"noise_intercept", intercept},
		{"noise_slope", slope},
		{"capacitance_pf", capacitancePF},
		{"mip_response_mev", mipResponseMeV},
	}
	for _, c := range checks {
		if c.value < 0 || math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return 0, &ErrInvalidNoiseParameters{Parameter: c.name, Value: c.value}
		}
	}
	noiseElectrons := intercept + slope*capacitancePF
	return noiseElectrons * (mipResponseMeV / electronsPerMIP), nil
}

// NoiseModel caches the noise RMS for a set of parameters. The cache is
// invalidated by every setter. Once frozen, the parameters can no longer be
// changed.
type NoiseModel struct {
	mu     sync.Mutex
	params NoiseParameters
	rms    float64
	cached bool
	frozen bool
}

func NewNoiseModel(params NoiseParameters) *NoiseModel {
	return &NoiseModel{params: params}
}

func (m *NoiseModel) set(name string, field *float64, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return &ErrParametersFrozen{Parameter: name}
	}
	*field = value
	m.cached = false
	return nil
}

func (m *NoiseModel) SetIntercept(v float64) error {
	return m.set("noise_intercept", &m.params.Intercept, v)
}

func (m *NoiseModel) SetSlope(v float64) error {
	return m.set("noise_slope", &m.params.Slope, v)
}

func (m *NoiseModel) SetCapacitance(v float64) error {
	return m.set("capacitance_pf", &m.params.CapacitancePF, v)
}

func (m *NoiseModel) SetElectronsPerMIP(v float64) error {
	return m.set("electrons_per_mip", &m.params.ElectronsPerMIP, v)
}

func (m *NoiseModel) SetMIPResponse(v float64) error {
	return m.set("mip_response_mev", &m.params.MIPResponseMeV, v)
}

func (m *NoiseModel) Parameters() NoiseParameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

func (m *NoiseModel) RMS() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached {
		return m.rms, nil
	}
	rms, err := m.params.RMS()
	if err != nil {
		return 0, err
	}
	m.rms = rms
	m.cached = true
	return rms, nil
}

func (m *NoiseModel) Freeze() {
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()
}

func (m *NoiseModel) Frozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

func (m *NoiseModel) Describe() string {
	return m.Parameters().Describe()
}
