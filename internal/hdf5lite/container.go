// Package hdf5lite is a minimal single-file container mimicking the slice
// of HDF5 semantics the readers and writers here actually exercise: one
// resizable time-axis dataset per feature key, file-level attributes, and
// per-dataset starttime/endtime/data_generation_time attributes. It stands
// in for a full libhdf5 binding rather than reimplementing the HDF5
// on-disk format.
package hdf5lite

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const magic = "SMH5LITE"

// Dataset is one feature key's resizable time-axis array plus its
// attributes.
type Dataset struct {
	Name       string
	Rows       int
	Cols       int
	Values     []float64
	Attributes map[string]any
}

// File mirrors the small slice of an HDF5 file this module needs:
// file-level attributes plus named datasets.
type File struct {
	Attributes map[string]any
	Datasets   map[string]*Dataset
}

func NewFile() *File {
	return &File{Attributes: make(map[string]any), Datasets: make(map[string]*Dataset)}
}

// EnsureDataset returns the named dataset, creating an empty Rows x 0 one
// if it does not exist yet.
func (f *File) EnsureDataset(name string, rows int) *Dataset {
	ds, ok := f.Datasets[name]
	if !ok {
		ds = &Dataset{Name: name, Rows: rows, Attributes: make(map[string]any)}
		f.Datasets[name] = ds
	}
	return ds
}

// AppendColumns resizes ds along the time axis by appending cols (a
// row-major Rows x n slice).
func (ds *Dataset) AppendColumns(cols []float64, n int) {
	ds.Values = append(ds.Values, cols...)
	ds.Cols += n
}

type wireFile struct {
	Attributes map[string]any       `json:"attributes"`
	Datasets   map[string]*Dataset  `json:"datasets"`
}

// WriteTo serialises f as length-prefixed JSON behind a magic header,
// compression left to the caller: one knob for the whole file rather than
// per-dataset settings.
func (f *File) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return err
	}
	body, err := json.Marshal(wireFile{Attributes: f.Attributes, Datasets: f.Datasets})
	if err != nil {
		return fmt.Errorf("hdf5lite: encoding file: %w", err)
	}
	if err := binary.Write(bw, binary.BigEndian, uint64(len(body))); err != nil {
		return err
	}
	if _, err := bw.Write(body); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadFrom parses a file written by WriteTo.
func ReadFrom(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, err
	}
	if string(hdr) != magic {
		return nil, fmt.Errorf("hdf5lite: bad magic %q", hdr)
	}
	var n uint64
	if err := binary.Read(br, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	var wf wireFile
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("hdf5lite: decoding file: %w", err)
	}
	return &File{Attributes: wf.Attributes, Datasets: wf.Datasets}, nil
}

// Open reads a container from path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFrom(f)
}

// Save writes f to path, creating or truncating the file; the parent
// directory must already exist.
func (f *File) Save(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return f.WriteTo(out)
}
