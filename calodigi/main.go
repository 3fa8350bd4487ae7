package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqlx "github.com/jmoiron/sqlx"
	calodigi "github.com/next-exp/calodigi_go/pkg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	configFilename  string
	geometryVersion string
	numWorkers      int
	referenceEnergy float64
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "calodigi",
		Short:         "ECal digitization and energy reconstruction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file path (JSON or YAML)")
	root.PersistentFlags().StringVar(&geometryVersion, "geometry", "", "Geometry version, overrides the configuration file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Digitize and reconstruct the simulated hits of a file",
		RunE:  runCommand,
	}
	run.Flags().IntVar(&numWorkers, "workers", 0, "Number of workers, overrides the configuration file")
	run.Flags().Float64Var(&referenceEnergy, "reference-energy", 0,
		"Beam energy in MeV; when set, print the second order correction matching the sample")

	thresholds := &cobra.Command{
		Use:   "thresholds",
		Short: "Print the noise RMS and the derived thresholds",
		RunE:  thresholdsCommand,
	}

	profiles := &cobra.Command{
		Use:   "profiles",
		Short: "List the known geometry profiles",
		RunE:  profilesCommand,
	}

	root.AddCommand(run, thresholds, profiles)
	return root
}

// setupConfiguration loads, overrides and validates the configuration and
// makes it visible to the library.
func setupConfiguration(cmd *cobra.Command) (calodigi.Configuration, error) {
	configuration, err := LoadConfiguration(configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		return configuration, err
	}
	if geometryVersion != "" {
		configuration.GeometryVersion = geometryVersion
	}
	if cmd.Flags().Lookup("workers") != nil && numWorkers > 0 {
		configuration.NumWorkers = numWorkers
	}
	if err := configuration.Validate(); err != nil {
		logger.Error(err.Error())
		return configuration, err
	}

	calodigi.SetConfiguration(configuration)
	calodigi.SetLogger(logger)
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading configuration file: %s", configFilename), "main")
		printConfiguration(configuration, logger)
	}
	return configuration, nil
}

// loadRegistry fills the registry from the conditions database, or with the
// built-in profiles when running without database.
func loadRegistry(configuration *calodigi.Configuration) (*calodigi.Registry, error) {
	registry := calodigi.NewRegistry()
	if configuration.NoDB {
		return registry, calodigi.RegisterBuiltinProfiles(registry)
	}

	dbConn, err := calodigi.ConnectToDatabase(configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
	if err != nil {
		message := fmt.Errorf("Error connection to database: %w", err)
		logger.Error(message.Error())
		return nil, err
	}
	defer dbConn.Close()

	if err := calodigi.LoadProfiles(dbConn, registry); err != nil {
		return nil, err
	}
	if configuration.RunNumber > 0 && geometryVersion == "" {
		if err := resolveGeometry(dbConn, configuration); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func resolveGeometry(dbConn *sqlx.DB, configuration *calodigi.Configuration) error {
	version, err := calodigi.GeometryVersionForRun(dbConn, configuration.RunNumber)
	if err != nil {
		return err
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Run %d uses geometry %s", configuration.RunNumber, version), "main")
	}
	configuration.GeometryVersion = version
	return nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	configuration, err := setupConfiguration(cmd)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(&configuration)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	setup, err := calodigi.NewRunSetupFromConfiguration(registry, configuration)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	digitizer, reconstructor, err := setup.Stages()
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	record, err := calodigi.NewRunRecord(setup, configuration.RunSeed)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	if err := writeRecord(configuration.RecordFile, record); err != nil {
		logger.Error(err.Error())
		return err
	}

	reader, err := calodigi.NewFileReader(configuration.FileIn, configuration.Skip, configuration.MaxEvents)
	if err != nil {
		message := fmt.Errorf("Error opening file: %w", err)
		logger.Error(message.Error())
		return err
	}

	var sink calodigi.EventSink = discardSink{}
	var digiSink calodigi.DigiSink
	if configuration.WriteData {
		writer, err := calodigi.NewWriter(configuration.FileOut, configuration.CompressionLevel)
		if err != nil {
			logger.Error(err.Error())
			return err
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error(err.Error())
			}
		}()
		if err := writer.WriteRunRecord(record); err != nil {
			logger.Error(err.Error())
			return err
		}
		sink = writer
		if configuration.WriteDigis {
			digiSink = writer
		}
	}

	registerer := prometheus.NewRegistry()
	pipeline, err := calodigi.NewPipeline(digitizer, reconstructor, calodigi.PipelineOptions{
		NumWorkers: configuration.NumWorkers,
		RunSeed:    configuration.RunSeed,
		Discard:    configuration.Discard,
		Metrics:    calodigi.NewMetrics(registerer),
		DigiSink:   digiSink,
	})
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summary, err := pipeline.Run(ctx, reader, sink)
	if err != nil {
		message := fmt.Errorf("run %s stopped: %w", record.RunID, err)
		logger.Error(message.Error())
		return err
	}
	duration := time.Since(start)

	energy := calodigi.SummarizeEnergies(summary.EventEnergies)
	logger.Info(fmt.Sprintf("Total events processed: %d (%d discarded) in %d ms",
		summary.EventsWritten, summary.EventsDiscarded, duration.Milliseconds()), "main")
	logger.Info(fmt.Sprintf("Mean energy %.3f MeV, RMS %.3f MeV, resolution %.4f",
		energy.MeanMeV, energy.RMSMeV, energy.Resolution()), "main")
	if summary.SaturatedHits > 0 {
		logger.Info(fmt.Sprintf("%d hits saturated the TOT counter, their energies are lower bounds",
			summary.SaturatedHits), "main")
	}

	if referenceEnergy > 0 {
		correction, err := calodigi.SecondOrderCorrection(summary.EventEnergies, referenceEnergy,
			reconstructor.Profile().SecondOrderCorrection())
		if err != nil {
			logger.Error(err.Error())
			return err
		}
		logger.Info(fmt.Sprintf("Second order correction for %g MeV: %.8f", referenceEnergy, correction), "main")
	}

	if configuration.MetricsFile != "" {
		if err := calodigi.WriteMetrics(configuration.MetricsFile, registerer); err != nil {
			logger.Error(fmt.Sprintf("Error writing metrics: %v", err))
			return err
		}
	}
	return nil
}

func writeRecord(filename string, record calodigi.RunRecord) error {
	if filename == "" {
		return nil
	}
	file, err := os.Create(filename)
	if err != nil {
		return &calodigi.ErrOpenFile{Filename: filename, Err: err}
	}
	if err := record.WriteYAML(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func thresholdsCommand(cmd *cobra.Command, args []string) error {
	configuration, err := setupConfiguration(cmd)
	if err != nil {
		return err
	}
	setup := calodigi.NewRunSetup(calodigi.NewRegistry(), configuration.Noise)
	if err := setup.SetThresholdMultipliers(configuration.Thresholds); err != nil {
		return err
	}
	rms, thresholds, err := setup.Calibration()
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, configuration.Noise.Describe())
	fmt.Fprintln(out, configuration.Thresholds.Describe())
	fmt.Fprintf(out, "noise RMS: %g MeV (%.1f electrons)\n", rms,
		configuration.Noise.Intercept+configuration.Noise.Slope*configuration.Noise.CapacitancePF)
	fmt.Fprintf(out, "charge per MIP: %g fC\n", configuration.Noise.ChargePerMIP())
	fmt.Fprintln(out, thresholds.Describe())
	fmt.Fprintln(out, setup.Encoding().Describe())
	return nil
}

func profilesCommand(cmd *cobra.Command, args []string) error {
	configuration, err := setupConfiguration(cmd)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(&configuration)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	out := cmd.OutOrStdout()
	for _, version := range registry.Versions() {
		profile, err := registry.Select(version)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, profile.Describe())
	}
	return nil
}

type discardSink struct{}

func (discardSink) WriteEvent(*calodigi.ReconstructedEvent) error { return nil }
