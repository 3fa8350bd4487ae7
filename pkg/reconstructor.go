package calodigi

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Reconstructor converts digitized hits back to energies and applies the
// layer weights and second order correction of its geometry.
type Reconstructor struct {
	profile  *GeometryProfile
	encoding Encoding
}

func NewReconstructor(profile *GeometryProfile, encoding Encoding) (*Reconstructor, error) {
	if profile == nil {
		return nil, &ErrGeometryNotSelected{Stage: "reconstructor"}
	}
	if err := encoding.Validate(); err != nil {
		return nil, err
	}
	return &Reconstructor{profile: profile, encoding: encoding}, nil
}

func (r *Reconstructor) Profile() *GeometryProfile { return r.profile }

func (r *Reconstructor) Reconstruct(hits []DigitizedHit) (ReconstructedEvent, error) {
	event := ReconstructedEvent{Hits: make([]ReconstructedHit, 0, len(hits))}
	energies := make([]float64, len(hits))
	correction := r.profile.SecondOrderCorrection()

	for i, hit := range hits {
		weight, ok := r.profile.LayerWeight(hit.LayerIndex)
		if !ok {
			return ReconstructedEvent{}, &ErrLayerIndexOutOfRange{
				ChannelID: hit.ChannelID,
				Layer:     hit.LayerIndex,
				NumLayers: r.profile.NumLayers(),
				Version:   r.profile.Version(),
			}
		}
		measured, err := r.encoding.Decode(hit)
		if err != nil {
			return ReconstructedEvent{}, fmt.Errorf("channel %d: %w", hit.ChannelID, err)
		}
		energies[i] = measured * weight * correction
		event.Hits = append(event.Hits, ReconstructedHit{
			ChannelID:  hit.ChannelID,
			LayerIndex: hit.LayerIndex,
			EnergyMeV:  energies[i],
			TimeNs:     hit.TimeNs,
			Saturated:  hit.Saturated,
		})
		if hit.Saturated {
			event.SaturatedHits++
		}
	}
	event.TotalEnergyMeV = floats.Sum(energies)
	return event, nil
}

// Reconstruct is the single-call form of the reconstruction stage.
func Reconstruct(hits []DigitizedHit, profile *GeometryProfile, encoding Encoding) (ReconstructedEvent, error) {
	r, err := NewReconstructor(profile, encoding)
	if err != nil {
		return ReconstructedEvent{}, err
	}
	return r.Reconstruct(hits)
}
