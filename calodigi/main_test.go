package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	calodigi "github.com/next-exp/calodigi_go/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestLoadConfigurationYAML(t *testing.T) {
	filename := writeConfig(t, "config.yaml", `
geometry_version: v9
num_workers: 4
run_seed: 17
noise:
  capacitance_pf: 1.0
digi:
  num_samples: 5
`)
	config, err := LoadConfiguration(filename)
	require.NoError(t, err)
	assert.Equal(t, "v9", config.GeometryVersion)
	assert.Equal(t, 4, config.NumWorkers)
	assert.Equal(t, uint64(17), config.RunSeed)
	assert.Equal(t, 1.0, config.Noise.CapacitancePF)
	// untouched fields keep their defaults
	assert.Equal(t, calodigi.DefaultNoiseSlope, config.Noise.Slope)
	assert.Equal(t, 5, config.Digi.NumSamples)
	assert.Equal(t, 2, config.Digi.SOI)
	assert.True(t, config.NoDB)
}

func TestLoadConfigurationJSON(t *testing.T) {
	filename := writeConfig(t, "config.json", `{"no_db": false, "host": "db.example", "dbname": "ECAL", "thresholds": {"tot_threshold_mips": 40}}`)
	config, err := LoadConfiguration(filename)
	require.NoError(t, err)
	assert.False(t, config.NoDB)
	assert.Equal(t, "db.example", config.Host)
	assert.Equal(t, 40.0, config.Thresholds.TOT)
	assert.Equal(t, 4.0, config.Thresholds.Readout)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigurationErrors(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfiguration(writeConfig(t, "broken.json", `{"num_workers": `))
	assert.ErrorContains(t, err, "error parsing")

	config, err := LoadConfiguration("")
	require.NoError(t, err)
	assert.Equal(t, calodigi.DefaultConfiguration(), config)
}

func TestLoggerFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := newLogger(&stdout, &stderr)

	l.Info("Reading configuration", "main")
	assert.Regexp(t, regexp.MustCompile(`^\[\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\] \[main\] Reading configuration\n$`), stdout.String())

	l.Error("something failed")
	assert.Contains(t, stderr.String(), `"msg":"something failed"`)
	assert.Contains(t, stderr.String(), `"level":"ERROR"`)
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFilename, geometryVersion, numWorkers, referenceEnergy = "", "", 0, 0
	t.Cleanup(func() {
		calodigi.SetConfiguration(calodigi.DefaultConfiguration())
		calodigi.SetLogger(nil)
	})

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProfilesCommand(t *testing.T) {
	out, err := executeCommand(t, "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "version=v2 ")
	assert.Contains(t, out, "version=v9 ")
	assert.Contains(t, out, "version=v12 ")
}

func TestThresholdsCommand(t *testing.T) {
	filename := writeConfig(t, "config.yaml", "noise:\n  capacitance_pf: 1.0\n")
	out, err := executeCommand(t, "thresholds", "--config", filename)
	require.NoError(t, err)
	assert.Contains(t, out, "noise RMS: 0.0025")
	assert.Contains(t, out, "tot_MeV=6.5")
}

func TestRunCommandUnknownGeometry(t *testing.T) {
	_, err := executeCommand(t, "run", "--geometry", "v99")
	var unknown *calodigi.ErrUnknownGeometryVersion
	assert.ErrorAs(t, err, &unknown)
}

func TestRunCommandInvalidConfiguration(t *testing.T) {
	filename := writeConfig(t, "config.json", `{"num_workers": 0}`)
	_, err := executeCommand(t, "run", "--config", filename)
	assert.Error(t, err)
}
