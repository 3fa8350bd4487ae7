package calodigi

import "fmt"

// ErrInvalidProfile represents a geometry profile that cannot be registered.
type ErrInvalidProfile struct {
	Version string
	Reason  string
}

func (e *ErrInvalidProfile) Error() string {
	return fmt.Sprintf("invalid geometry profile %q: %s", e.Version, e.Reason)
}

// ErrUnknownGeometryVersion represents a lookup of a version that was never registered.
type ErrUnknownGeometryVersion struct {
	Version string
}

func (e *ErrUnknownGeometryVersion) Error() string {
	return fmt.Sprintf("unknown geometry version %q", e.Version)
}

// ErrInvalidNoiseParameters represents a noise constant outside its domain.
type ErrInvalidNoiseParameters struct {
	Parameter string
	Value     float64
}

func (e *ErrInvalidNoiseParameters) Error() string {
	return fmt.Sprintf("invalid noise parameter %s=%g", e.Parameter, e.Value)
}

// ErrInvalidSampleIndex represents a sample of interest outside the sample window.
type ErrInvalidSampleIndex struct {
	Index      int
	NumSamples int
}

func (e *ErrInvalidSampleIndex) Error() string {
	return fmt.Sprintf("sample of interest %d outside [0, %d)", e.Index, e.NumSamples)
}

// ErrLayerIndexOutOfRange represents a channel whose layer does not exist in the active profile.
type ErrLayerIndexOutOfRange struct {
	ChannelID uint32
	Layer     int
	NumLayers int
	Version   string
}

func (e *ErrLayerIndexOutOfRange) Error() string {
	return fmt.Sprintf("channel %d: layer %d outside [0, %d) of geometry %q",
		e.ChannelID, e.Layer, e.NumLayers, e.Version)
}

// ErrGeometryNotSelected represents a stage built before a geometry was selected.
type ErrGeometryNotSelected struct {
	Stage string
}

func (e *ErrGeometryNotSelected) Error() string {
	return fmt.Sprintf("cannot build %s: no geometry selected", e.Stage)
}

// ErrParametersFrozen represents a write to run-scoped constants after the run started.
type ErrParametersFrozen struct {
	Parameter string
}

func (e *ErrParametersFrozen) Error() string {
	return fmt.Sprintf("cannot set %s: parameters are frozen for the run", e.Parameter)
}

// ErrInvalidDeposit represents a simulated deposit with a negative energy.
type ErrInvalidDeposit struct {
	ChannelID uint32
	EnergyMeV float64
}

func (e *ErrInvalidDeposit) Error() string {
	return fmt.Sprintf("channel %d: negative deposit energy %g MeV", e.ChannelID, e.EnergyMeV)
}

// ErrThresholdOutOfRange represents a threshold the chip cannot honour, such
// as a TOT threshold above the ADC full scale.
type ErrThresholdOutOfRange struct {
	Threshold string
	ValueMeV  float64
	LimitMeV  float64
}

func (e *ErrThresholdOutOfRange) Error() string {
	return fmt.Sprintf("%s threshold %g MeV exceeds the %g MeV the chip can measure", e.Threshold, e.ValueMeV, e.LimitMeV)
}

// ErrChannelSaturated represents a hit above the TOT full scale in a run that
// rejects saturated channels.
type ErrChannelSaturated struct {
	ChannelID uint32
	EnergyMeV float64
	LimitMeV  float64
}

func (e *ErrChannelSaturated) Error() string {
	return fmt.Sprintf("channel %d: %g MeV saturates the TOT counter at %g MeV", e.ChannelID, e.EnergyMeV, e.LimitMeV)
}

// ErrChannelLayerMismatch represents a deposit whose layer does not match the
// layer encoded in its channel id.
type ErrChannelLayerMismatch struct {
	ChannelID    uint32
	LayerIndex   int
	DecodedLayer int
}

func (e *ErrChannelLayerMismatch) Error() string {
	return fmt.Sprintf("channel %d belongs to layer %d, deposit says layer %d", e.ChannelID, e.DecodedLayer, e.LayerIndex)
}

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error {
	return e.Err
}

// ErrCreateGroup represents an error when creating a group.
type ErrCreateGroup struct {
	GroupName string
	Err       error
}

func (e *ErrCreateGroup) Error() string {
	return fmt.Sprintf("error creating group %q: %v", e.GroupName, e.Err)
}

func (e *ErrCreateGroup) Unwrap() error {
	return e.Err
}

// ErrCreateTable represents an error when creating a table.
type ErrCreateTable struct {
	TableName string
	Err       error
}

func (e *ErrCreateTable) Error() string {
	return fmt.Sprintf("error creating table %q: %v", e.TableName, e.Err)
}

func (e *ErrCreateTable) Unwrap() error {
	return e.Err
}
