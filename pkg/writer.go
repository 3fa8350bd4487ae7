package calodigi

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/hdf5"
)

// Writer stores reconstructed events in an HDF5 file:
//
//	/Run/events         one row per event
//	/Run/configuration  run record, one row per parameter
//	/RECO/hits          one row per reconstructed hit
//	/DIGI/hits          one row per digitized hit
//	/DIGI/waveforms     ADC samples, pedestal included, one row per digitized hit
//
// The DIGI datasets are only filled when the writer is also used as DigiSink.
type Writer struct {
	File             *hdf5.File
	Filename         string
	RunGroup         *hdf5.Group
	RecoGroup        *hdf5.Group
	DigiGroup        *hdf5.Group
	EventTable       *hdf5.Dataset
	ConfigTable      *hdf5.Dataset
	HitsTable        *hdf5.Dataset
	DigiHitsTable    *hdf5.Dataset
	WaveformArray    *hdf5.Dataset
	EvtCounter       int
	HitCounter       int
	DigiCounter      int
	numSamples       int
	compressionLevel int
	closed           bool
}

func NewWriter(filename string, compressionLevel int) (*Writer, error) {
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Creating file: %s", filename), "hdf5writer")
	}
	writer := &Writer{Filename: filename, compressionLevel: compressionLevel}

	var err error
	if writer.File, err = openFile(filename); err != nil {
		return nil, err
	}
	if writer.RunGroup, err = createGroup(writer.File, "Run"); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.RecoGroup, err = createGroup(writer.File, "RECO"); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.DigiGroup, err = createGroup(writer.File, "DIGI"); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.EventTable, err = createTable(writer.RunGroup, "events", EventDataHDF5{}, compressionLevel); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.ConfigTable, err = createTable(writer.RunGroup, "configuration", RunParamHDF5{}, compressionLevel); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.HitsTable, err = createTable(writer.RecoGroup, "hits", RecoHitHDF5{}, compressionLevel); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.DigiHitsTable, err = createTable(writer.DigiGroup, "hits", DigiHitHDF5{}, compressionLevel); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	return writer, nil
}

// sortHitsByChannel orders the hits of one event so files do not depend on
// the order hits were produced in.
func sortHitsByChannel(event *ReconstructedEvent) []RecoHitHDF5 {
	// The array MUST be allocated at creation, if not, HDF5 will panic
	// doing appends will not work
	sorted := make([]RecoHitHDF5, len(event.Hits))
	for i, hit := range event.Hits {
		sorted[i] = RecoHitHDF5{
			evt_number: int32(event.EventNumber),
			channel:    hit.ChannelID,
			layer:      int32(hit.LayerIndex),
			energy:     hit.EnergyMeV,
			time:       hit.TimeNs,
			saturated:  boolToUint8(hit.Saturated),
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].channel < sorted[j].channel
	})
	return sorted
}

func (w *Writer) WriteEvent(event *ReconstructedEvent) error {
	if w.closed {
		return ErrSinkClosed
	}
	evtData := EventDataHDF5{
		evt_number:   int32(event.EventNumber),
		total_energy: event.TotalEnergyMeV,
		n_hits:       int32(len(event.Hits)),
		n_saturated:  int32(event.SaturatedHits),
	}
	if err := writeEntryToTable(w.EventTable, evtData, w.EvtCounter); err != nil {
		return fmt.Errorf("error writing event %d: %w", event.EventNumber, err)
	}

	hits := sortHitsByChannel(event)
	if err := writeArrayToTable(w.HitsTable, &hits, w.HitCounter); err != nil {
		return fmt.Errorf("error writing hits of event %d: %w", event.EventNumber, err)
	}
	if configuration.Verbosity > 1 {
		message := fmt.Sprintf("Event %d written: %d hits, %.3f MeV", event.EventNumber, len(hits), event.TotalEnergyMeV)
		logger.Info(message, "hdf5writer")
	}

	w.EvtCounter++
	w.HitCounter += len(hits)
	return nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// WriteDigis stores the digitized hits of one event sorted by channel. Row i
// of /DIGI/waveforms holds the samples of row i of /DIGI/hits. The waveform
// width is fixed by the first hit written.
func (w *Writer) WriteDigis(eventNumber int, hits []DigitizedHit) error {
	if w.closed {
		return ErrSinkClosed
	}
	if len(hits) == 0 {
		return nil
	}
	sorted := slices.Clone(hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChannelID < sorted[j].ChannelID
	})

	if w.WaveformArray == nil {
		numSamples := len(sorted[0].ADCSamples)
		array, err := create2dArray(w.DigiGroup, "waveforms", numSamples, w.compressionLevel)
		if err != nil {
			return err
		}
		w.WaveformArray = array
		w.numSamples = numSamples
	}

	rows := make([]DigiHitHDF5, len(sorted))
	samples := make([]int16, 0, len(sorted)*w.numSamples)
	for i, hit := range sorted {
		if len(hit.ADCSamples) != w.numSamples {
			return fmt.Errorf("event %d, channel %d: %d samples, file holds %d",
				eventNumber, hit.ChannelID, len(hit.ADCSamples), w.numSamples)
		}
		rows[i] = DigiHitHDF5{
			evt_number: int32(eventNumber),
			channel:    hit.ChannelID,
			layer:      int32(hit.LayerIndex),
			soi:        int32(hit.SOI),
			tot:        hit.TOT,
			toa:        hit.TOA,
			saturated:  boolToUint8(hit.Saturated),
			time:       hit.TimeNs,
		}
		for _, s := range hit.ADCSamples {
			samples = append(samples, int16(s))
		}
	}

	if err := writeArrayToTable(w.DigiHitsTable, &rows, w.DigiCounter); err != nil {
		return fmt.Errorf("error writing digis of event %d: %w", eventNumber, err)
	}
	if err := write2dArray(w.WaveformArray, &samples, w.DigiCounter, len(rows), w.numSamples); err != nil {
		return fmt.Errorf("error writing waveforms of event %d: %w", eventNumber, err)
	}
	w.DigiCounter += len(rows)
	return nil
}

// WriteRunRecord stores the run record as (param, value) rows. Values longer
// than the fixed string length are truncated.
func (w *Writer) WriteRunRecord(record RunRecord) error {
	entries := make([]RunParamHDF5, 0, len(record.Entries)+1)
	entries = append(entries, RunParamHDF5{
		paramStr: convertToHdf5String("run_id"),
		valueStr: convertToHdf5String(record.RunID),
	})
	for _, kv := range record.Entries {
		entries = append(entries, RunParamHDF5{
			paramStr: convertToHdf5String(kv.Key),
			valueStr: convertToHdf5String(kv.Value),
		})
	}
	return writeArrayToTable(w.ConfigTable, &entries, 0)
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Closing file %s", w.Filename), "hdf5writer")
	}
	var errs []error

	if w.EventTable != nil {
		if err := w.EventTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing event table: %w", err))
		}
	}
	if w.ConfigTable != nil {
		if err := w.ConfigTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing configuration table: %w", err))
		}
	}
	if w.HitsTable != nil {
		if err := w.HitsTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing hits table: %w", err))
		}
	}
	if w.DigiHitsTable != nil {
		if err := w.DigiHitsTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing digi hits table: %w", err))
		}
	}
	if w.WaveformArray != nil {
		if err := w.WaveformArray.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing waveform array: %w", err))
		}
	}
	if w.RunGroup != nil {
		if err := w.RunGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing run group: %w", err))
		}
	}
	if w.RecoGroup != nil {
		if err := w.RecoGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing RECO group: %w", err))
		}
	}
	if w.DigiGroup != nil {
		if err := w.DigiGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing DIGI group: %w", err))
		}
	}
	if w.File != nil {
		if err := w.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
