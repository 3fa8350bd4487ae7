package calodigi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructSingleDepositV12(t *testing.T) {
	d := quietDigitizer(t, "v12")
	r, err := NewReconstructor(d.Profile(), d.Encoding())
	require.NoError(t, err)

	hits, err := d.Digitize([]RawDeposit{{ChannelID: 0, LayerIndex: 0, EnergyMeV: 6.5}}, EventRandomSource(1, 0))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	// 6.5 MeV is exactly the TOT threshold
	assert.Greater(t, hits[0].TOT, int32(0))

	event, err := r.Reconstruct(hits)
	require.NoError(t, err)
	require.Len(t, event.Hits, 1)

	scale := 1.675 * 0.99750623
	bound := scale * d.Encoding().EnergyResolution()
	assert.InDelta(t, 6.5*scale, event.Hits[0].EnergyMeV, bound)
	assert.InDelta(t, 10.865, event.Hits[0].EnergyMeV, 0.02)
	assert.Equal(t, event.Hits[0].EnergyMeV, event.TotalEnergyMeV)
}

func TestReconstructAppliesLayerWeights(t *testing.T) {
	d := quietDigitizer(t, "v9")
	r, err := NewReconstructor(d.Profile(), d.Encoding())
	require.NoError(t, err)

	deposits := []RawDeposit{
		{ChannelID: 1, LayerIndex: 0, EnergyMeV: 1},
		{ChannelID: 2, LayerIndex: 10, EnergyMeV: 1},
		{ChannelID: 3, LayerIndex: 33, EnergyMeV: 1},
	}
	hits, err := d.Digitize(deposits, EventRandomSource(1, 0))
	require.NoError(t, err)
	event, err := r.Reconstruct(hits)
	require.NoError(t, err)
	require.Len(t, event.Hits, 3)

	correction := d.Profile().SecondOrderCorrection()
	total := 0.0
	for _, hit := range event.Hits {
		weight, ok := d.Profile().LayerWeight(hit.LayerIndex)
		require.True(t, ok)
		assert.InDelta(t, weight*correction, hit.EnergyMeV, weight*correction*d.Encoding().ADCLSBMeV/2)
		total += hit.EnergyMeV
	}
	assert.InDelta(t, total, event.TotalEnergyMeV, 1e-9)
}

func TestReconstructIdempotent(t *testing.T) {
	d := quietDigitizer(t, "v12")
	hits, err := d.Digitize([]RawDeposit{
		{ChannelID: 4, LayerIndex: 2, EnergyMeV: 0.8, TimeNs: 1},
		{ChannelID: 8, LayerIndex: 20, EnergyMeV: 15, TimeNs: 2},
	}, EventRandomSource(3, 9))
	require.NoError(t, err)

	first, err := Reconstruct(hits, d.Profile(), d.Encoding())
	require.NoError(t, err)
	second, err := Reconstruct(hits, d.Profile(), d.Encoding())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestReconstructLayerOutOfRange(t *testing.T) {
	d := quietDigitizer(t, "v12")
	r, err := NewReconstructor(d.Profile(), d.Encoding())
	require.NoError(t, err)

	hit := DigitizedHit{ChannelID: 1234, LayerIndex: 40, ADCSamples: make([]int32, 10), SOI: 2}
	_, err = r.Reconstruct([]DigitizedHit{hit})
	var outOfRange *ErrLayerIndexOutOfRange
	require.ErrorAs(t, err, &outOfRange)
	assert.Equal(t, uint32(1234), outOfRange.ChannelID)
	assert.Equal(t, 40, outOfRange.Layer)
	assert.Equal(t, EcalLayers, outOfRange.NumLayers)
	assert.Contains(t, err.Error(), "channel 1234")
}

func TestReconstructInvalidSOI(t *testing.T) {
	d := quietDigitizer(t, "v12")
	hit := DigitizedHit{ChannelID: 1, LayerIndex: 0, ADCSamples: make([]int32, 4), SOI: 4}
	_, err := Reconstruct([]DigitizedHit{hit}, d.Profile(), d.Encoding())
	var invalid *ErrInvalidSampleIndex
	assert.ErrorAs(t, err, &invalid)
}

func TestReconstructWithoutGeometry(t *testing.T) {
	_, err := NewReconstructor(nil, defaultEncoding())
	var notSelected *ErrGeometryNotSelected
	require.ErrorAs(t, err, &notSelected)
	assert.Equal(t, "reconstructor", notSelected.Stage)
}

func TestReconstructEmpty(t *testing.T) {
	d := quietDigitizer(t, "v2")
	event, err := Reconstruct(nil, d.Profile(), d.Encoding())
	require.NoError(t, err)
	assert.Empty(t, event.Hits)
	assert.Zero(t, event.TotalEnergyMeV)
}
