package calodigi

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/hdf5"
)

const simHitsTable = "Sim/hits"

// FileReader serves the simulated hits stored in an HDF5 file, one event at
// a time, honouring the skip and max-events settings.
type FileReader struct {
	Filename  string
	Skip      int
	MaxEvents int
	EvtCount  int

	events [][]RawDeposit
	ids    []int
	next   int
}

// NewFileReader loads the whole sim-hit table. Rows of the same event must be
// contiguous; events keep the order of the file.
func NewFileReader(filename string, skip, maxEvents int) (*FileReader, error) {
	file, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	defer file.Close()

	rows, err := readTable[SimHitHDF5](file, simHitsTable)
	if err != nil {
		return nil, err
	}

	if maxEvents <= 0 {
		maxEvents = math.MaxInt
	}
	reader := &FileReader{Filename: filename, Skip: skip, MaxEvents: maxEvents, EvtCount: -1}
	seen := make(map[int]bool)
	current := -1
	for _, row := range rows {
		evt := int(row.evt_number)
		if len(reader.ids) == 0 || evt != current {
			if seen[evt] {
				return nil, fmt.Errorf("%s: rows of event %d are not contiguous", filename, evt)
			}
			seen[evt] = true
			current = evt
			reader.ids = append(reader.ids, evt)
			reader.events = append(reader.events, nil)
		}
		last := len(reader.events) - 1
		reader.events[last] = append(reader.events[last], RawDeposit{
			ChannelID:  row.channel,
			LayerIndex: int(row.layer),
			EnergyMeV:  row.energy,
			TimeNs:     row.time,
		})
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Number of events: %d, sim hits: %d", len(reader.ids), len(rows)), "fileReader")
	}
	return reader, nil
}

func (f *FileReader) NumEvents() int {
	return len(f.ids)
}

func (f *FileReader) Next() (int, []RawDeposit, error) {
	for {
		if f.next >= len(f.ids) {
			return 0, nil, io.EOF
		}
		f.EvtCount++
		if f.EvtCount >= f.MaxEvents {
			if configuration.Verbosity > 0 {
				logger.Info("Max events reached", "fileReader")
			}
			return 0, nil, io.EOF
		}
		i := f.next
		f.next++
		if f.EvtCount < f.Skip {
			if configuration.Verbosity > 0 {
				logger.Info(fmt.Sprintf("Skipping event %d with ID %d", f.EvtCount, f.ids[i]), "fileReader")
			}
			continue
		}
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Reading event %d with ID %d", f.EvtCount, f.ids[i]), "fileReader")
		}
		return f.ids[i], f.events[i], nil
	}
}
