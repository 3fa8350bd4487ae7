package calodigi

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

type EnergySummary struct {
	Events  int
	MeanMeV float64
	RMSMeV  float64
}

// Resolution is the relative width of the energy distribution.
func (s EnergySummary) Resolution() float64 {
	if s.MeanMeV == 0 {
		return math.NaN()
	}
	return s.RMSMeV / s.MeanMeV
}

func SummarizeEnergies(energies []float64) EnergySummary {
	if len(energies) == 0 {
		return EnergySummary{}
	}
	mean, std := stat.MeanStdDev(energies, nil)
	if len(energies) == 1 {
		std = 0
	}
	return EnergySummary{Events: len(energies), MeanMeV: mean, RMSMeV: std}
}

// SecondOrderCorrection returns the factor that brings the mean reconstructed
// energy of a single-particle sample to the beam energy, the way the profile
// corrections were determined (e.g. 4000/4012 for v9 with 4 GeV electrons). The
// energies must have been reconstructed with the correction of the profile
// in use, which is folded into the result.
func SecondOrderCorrection(energies []float64, referenceMeV, currentCorrection float64) (float64, error) {
	if !(referenceMeV > 0) {
		return 0, fmt.Errorf("reference energy must be positive, got %g MeV", referenceMeV)
	}
	summary := SummarizeEnergies(energies)
	if !(summary.MeanMeV > 0) {
		return 0, fmt.Errorf("mean reconstructed energy of %d events is %g MeV", summary.Events, summary.MeanMeV)
	}
	return currentCorrection * referenceMeV / summary.MeanMeV, nil
}
