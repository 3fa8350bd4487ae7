package calodigi

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// GeometryProfile describes the longitudinal structure of one calorimeter
// geometry version and the reconstruction weights calibrated for it.
// A profile never changes after registration.
type GeometryProfile struct {
	version               string
	numLayers             int
	modulesPerLayer       int
	cellsPerModule        int
	layerWeights          []float64
	secondOrderCorrection float64
}

func (p *GeometryProfile) Version() string                { return p.version }
func (p *GeometryProfile) NumLayers() int                 { return p.numLayers }
func (p *GeometryProfile) ModulesPerLayer() int           { return p.modulesPerLayer }
func (p *GeometryProfile) CellsPerModule() int            { return p.cellsPerModule }
func (p *GeometryProfile) SecondOrderCorrection() float64 { return p.secondOrderCorrection }

// LayerWeights returns a copy of the per-layer weights, ordered by depth.
func (p *GeometryProfile) LayerWeights() []float64 {
	weights := make([]float64, len(p.layerWeights))
	copy(weights, p.layerWeights)
	return weights
}

// LayerWeight returns the weight of one layer. The second return value is
// false when the layer does not exist in this geometry.
func (p *GeometryProfile) LayerWeight(layer int) (float64, bool) {
	if layer < 0 || layer >= p.numLayers {
		return 0, false
	}
	return p.layerWeights[layer], true
}

func (p *GeometryProfile) CellsPerLayer() int {
	return p.modulesPerLayer * p.cellsPerModule
}

func (p *GeometryProfile) NumChannels() int {
	return p.numLayers * p.CellsPerLayer()
}

// ChannelID packs (layer, module, cell) into the dense channel numbering used
// for noise-only channels.
func (p *GeometryProfile) ChannelID(layer, module, cell int) uint32 {
	return uint32((layer*p.modulesPerLayer+module)*p.cellsPerModule + cell)
}

func (p *GeometryProfile) DecodeChannel(id uint32) (layer, module, cell int) {
	n := int(id)
	cell = n % p.cellsPerModule
	n /= p.cellsPerModule
	module = n % p.modulesPerLayer
	layer = n / p.modulesPerLayer
	return layer, module, cell
}

func (p *GeometryProfile) Describe() string {
	weights := make([]string, len(p.layerWeights))
	for i, w := range p.layerWeights {
		weights[i] = fmt.Sprintf("%g", w)
	}
	return fmt.Sprintf("GeometryProfile{version=%s layers=%d modules_per_layer=%d cells_per_module=%d "+
		"second_order_correction=%g layer_weights=[%s]}",
		p.version, p.numLayers, p.modulesPerLayer, p.cellsPerModule,
		p.secondOrderCorrection, strings.Join(weights, " "))
}

// Registry maps geometry version tags to profiles. It is populated at startup
// and frozen before events are processed; after Freeze it is safe for
// concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*GeometryProfile
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]*GeometryProfile)}
}

func (r *Registry) Register(version string, numLayers, modulesPerLayer, cellsPerModule int,
	layerWeights []float64, secondOrderCorrection float64) error {
	invalid := func(format string, args ...any) error {
		return &ErrInvalidProfile{Version: version, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case version == "":
		return invalid("empty version tag")
	case numLayers <= 0:
		return invalid("layer count %d must be positive", numLayers)
	case modulesPerLayer <= 0:
		return invalid("modules per layer %d must be positive", modulesPerLayer)
	case cellsPerModule <= 0:
		return invalid("cells per module %d must be positive", cellsPerModule)
	case len(layerWeights) != numLayers:
		return invalid("%d layer weights for %d layers", len(layerWeights), numLayers)
	case !(secondOrderCorrection > 0) || math.IsInf(secondOrderCorrection, 0):
		return invalid("second order correction %g must be positive", secondOrderCorrection)
	}
	for i, w := range layerWeights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return invalid("layer %d weight %g must be a non-negative number", i, w)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return invalid("registry is frozen")
	}
	if _, ok := r.profiles[version]; ok {
		return invalid("version already registered")
	}

	weights := make([]float64, numLayers)
	copy(weights, layerWeights)
	r.profiles[version] = &GeometryProfile{
		version:               version,
		numLayers:             numLayers,
		modulesPerLayer:       modulesPerLayer,
		cellsPerModule:        cellsPerModule,
		layerWeights:          weights,
		secondOrderCorrection: secondOrderCorrection,
	}
	return nil
}

func (r *Registry) Select(version string) (*GeometryProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[version]
	if !ok {
		return nil, &ErrUnknownGeometryVersion{Version: version}
	}
	return profile, nil
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Versions returns the registered version tags in lexical order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]string, 0, len(r.profiles))
	for v := range r.profiles {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Dimensions is what the geometry provider knows about a version: the
// readout segmentation, without any calibration.
type Dimensions struct {
	NumLayers       int `db:"NLayers"`
	ModulesPerLayer int `db:"NModulesPerLayer"`
	CellsPerModule  int `db:"NCellsPerModule"`
}

type GeometryProvider interface {
	Lookup(version string) (Dimensions, error)
}

// RegisterFromProvider registers a profile whose segmentation comes from the
// external geometry provider.
func RegisterFromProvider(r *Registry, provider GeometryProvider, version string,
	layerWeights []float64, secondOrderCorrection float64) error {
	dims, err := provider.Lookup(version)
	if err != nil {
		return fmt.Errorf("error looking up geometry %q: %w", version, err)
	}
	return r.Register(version, dims.NumLayers, dims.ModulesPerLayer, dims.CellsPerModule,
		layerWeights, secondOrderCorrection)
}
