package calodigi

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

type EventDataHDF5 struct {
	evt_number   int32
	total_energy float64
	n_hits       int32
	n_saturated  int32
}

type RecoHitHDF5 struct {
	evt_number int32
	channel    uint32
	layer      int32
	energy     float64
	time       float64
	saturated  uint8
}

type DigiHitHDF5 struct {
	evt_number int32
	channel    uint32
	layer      int32
	soi        int32
	tot        int32
	toa        int32
	saturated  uint8
	time       float64
}

type SimHitHDF5 struct {
	evt_number int32
	channel    uint32
	layer      int32
	energy     float64
	time       float64
}

type RunParamHDF5 struct {
	paramStr [STRLEN]byte
	valueStr [STRLEN]byte
}

const STRLEN = 48

const tableChunkSize = 32768

const arrayChunkRows = 1024

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func convertFromHdf5String(b [STRLEN]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func openFile(fname string) (*hdf5.File, error) {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	return f, nil
}

func createGroup(file *hdf5.File, groupName string) (*hdf5.Group, error) {
	g, err := file.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

// createTable creates an extensible one dimensional dataset whose rows have
// the compound type of datatype.
func createTable(group *hdf5.Group, name string, datatype interface{}, compressionLevel int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	if err := plist.SetChunk([]uint{tableChunkSize}); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if compressionLevel > 0 {
		if err := plist.SetDeflate(compressionLevel); err != nil {
			return nil, &ErrCreateTable{TableName: name, Err: err}
		}
	}

	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}

	dset, err := group.CreateDatasetWith(name, dtype, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

// create2dArray creates an int16 dataset with nColumns columns that grows
// along the rows.
func create2dArray(group *hdf5.Group, name string, nColumns, compressionLevel int) (*hdf5.Dataset, error) {
	if nColumns < 1 {
		return nil, &ErrCreateTable{TableName: name, Err: fmt.Errorf("%d columns", nColumns)}
	}
	dims := []uint{0, 0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims), uint(nColumns)}
	chunks := []uint{arrayChunkRows, uint(nColumns)}
	return createArray(group, name, dims, maxDims, chunks, compressionLevel)
}

func createArray(group *hdf5.Group, name string, dims, maxDims, chunks []uint, compressionLevel int) (*hdf5.Dataset, error) {
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	if err := plist.SetChunk(chunks); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if compressionLevel > 0 {
		if err := plist.SetDeflate(compressionLevel); err != nil {
			return nil, &ErrCreateTable{TableName: name, Err: err}
		}
	}

	dset, err := group.CreateDatasetWith(name, hdf5.T_NATIVE_INT16, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

// write2dArray appends nRows rows of nColumns values, stored row after row
// in data, after the first rowsInArray rows.
func write2dArray(dataset *hdf5.Dataset, data *[]int16, rowsInArray, nRows, nColumns int) error {
	if nRows == 0 {
		return nil
	}
	if len(*data) != nRows*nColumns {
		return fmt.Errorf("%d values do not fill %d rows of %d columns", len(*data), nRows, nColumns)
	}
	// extend
	newsize := []uint{uint(rowsInArray + nRows), uint(nColumns)}
	if err := dataset.Resize(newsize); err != nil {
		return fmt.Errorf("error extending array: %w", err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{uint(rowsInArray), 0}
	count := []uint{uint(nRows), uint(nColumns)}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return fmt.Errorf("error selecting rows: %w", err)
	}

	dataspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return fmt.Errorf("error creating memory dataspace: %w", err)
	}
	defer dataspace.Close()

	if err := dataset.WriteSubset(data, dataspace, filespace); err != nil {
		return fmt.Errorf("error writing rows: %w", err)
	}
	return nil
}

func writeEntryToTable[T any](dataset *hdf5.Dataset, data T, rowsInTable int) error {
	array := []T{data}
	return writeArrayToTable(dataset, &array, rowsInTable)
}

// writeArrayToTable appends data after the first rowsInTable rows.
func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T, rowsInTable int) error {
	length := uint(len(*data))
	if length == 0 {
		return nil
	}
	dims := []uint{length}
	dataspace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("error creating memory dataspace: %w", err)
	}
	defer dataspace.Close()

	// extend
	start := uint(rowsInTable)
	if err := dataset.Resize([]uint{start + length}); err != nil {
		return fmt.Errorf("error extending table: %w", err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	if err := filespace.SelectHyperslab([]uint{start}, nil, []uint{length}, nil); err != nil {
		return fmt.Errorf("error selecting rows: %w", err)
	}
	if err := dataset.WriteSubset(data, dataspace, filespace); err != nil {
		return fmt.Errorf("error writing rows: %w", err)
	}
	return nil
}

// readTable loads every row of a compound table.
func readTable[T any](file *hdf5.File, path string) ([]T, error) {
	dset, err := file.OpenDataset(path)
	if err != nil {
		return nil, fmt.Errorf("error opening dataset %q: %w", path, err)
	}
	defer dset.Close()

	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("error reading dimensions of %q: %w", path, err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("dataset %q has %d dimensions, expected a table", path, len(dims))
	}

	rows := make([]T, dims[0])
	if len(rows) == 0 {
		return rows, nil
	}
	if err := dset.Read(&rows); err != nil {
		return nil, fmt.Errorf("error reading dataset %q: %w", path, err)
	}
	return rows, nil
}
