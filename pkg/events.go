package calodigi

// RawDeposit is one simulated energy deposit in a readout channel.
type RawDeposit struct {
	ChannelID  uint32
	LayerIndex int
	EnergyMeV  float64
	TimeNs     float64
}

type DigitizedHit struct {
	ChannelID  uint32
	LayerIndex int
	ADCSamples []int32
	SOI        int
	// A non-zero TOT means the channel was read out in time-over-threshold mode
	TOT    int32
	TOA    int32
	TimeNs float64
	// Saturated is set when the TOT counter overflowed. The decoded energy
	// is then only a lower bound.
	Saturated bool
}

type ReconstructedHit struct {
	ChannelID  uint32
	LayerIndex int
	EnergyMeV  float64
	TimeNs     float64
	Saturated  bool
}

type ReconstructedEvent struct {
	EventNumber    int
	TotalEnergyMeV float64
	Hits           []ReconstructedHit
	// Number of hits whose energy is a lower bound
	SaturatedHits int
}
