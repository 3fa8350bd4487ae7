package calodigi

// Segmentation shared by all known ECal geometries.
const (
	EcalLayers          = 34
	EcalModulesPerLayer = 7
	EcalCellsPerModule  = 432
)

// The second order corrections were determined by comparing the mean
// reconstructed energy of 1M single 4 GeV electron events with 4 GeV.
var builtinProfiles = []struct {
	version    string
	correction float64
	weights    []float64
}{
	{
		// Calculated before the v3 geometry.
		version:    "v2",
		correction: 0.948,
		weights: []float64{
			1.641, 3.526, 5.184, 6.841,
			8.222, 8.775, 8.775, 8.775, 8.775, 8.775, 8.775, 8.775, 8.775, 8.775,
			8.775, 8.775, 8.775, 8.775, 8.775, 8.775, 8.775, 8.775, 12.642, 16.51,
			16.51, 16.51, 16.51, 16.51, 16.51, 16.51, 16.51, 16.51, 16.51, 8.45,
		},
	},
	{
		version:    "v9",
		correction: 4000. / 4012.,
		weights: []float64{
			1.019, 1.707, 3.381, 5.022, 6.679, 8.060, 8.613, 8.613, 8.613, 8.613, 8.613,
			8.613, 8.613, 8.613, 8.613, 8.613, 8.613, 8.613, 8.613, 8.613, 8.613, 8.613,
			8.613, 12.480, 16.347, 16.347, 16.347, 16.347, 16.347, 16.347, 16.347, 16.347,
			16.347, 8.334,
		},
	},
	{
		version:    "v12",
		correction: 0.99750623,
		weights: []float64{
			1.675, 2.724, 4.398, 6.039, 7.696, 9.077, 9.630, 9.630, 9.630, 9.630, 9.630,
			9.630, 9.630, 9.630, 9.630, 9.630, 9.630, 9.630, 9.630, 9.630, 9.630, 9.630,
			9.630, 13.497, 17.364, 17.364, 17.364, 17.364, 17.364, 17.364, 17.364, 17.364,
			17.364, 8.990,
		},
	},
}

// DefaultGeometryVersion is the profile selected when the configuration does not name one.
const DefaultGeometryVersion = "v12"

// RegisterBuiltinProfiles adds the known ECal geometries to r.
func RegisterBuiltinProfiles(r *Registry) error {
	for _, p := range builtinProfiles {
		err := r.Register(p.version, EcalLayers, EcalModulesPerLayer, EcalCellsPerModule,
			p.weights, p.correction)
		if err != nil {
			return err
		}
	}
	return nil
}
