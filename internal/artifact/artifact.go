// Package artifact opens model artifacts read-only. On unix the file is
// memory-mapped; elsewhere (or when mmap fails) it is read into memory.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrEmpty   = errors.New("artifact: empty file")
	ErrCorrupt = errors.New("artifact: corrupt file")
)

// File is an opened artifact. Bytes stays valid until Close.
type File struct {
	path    string
	data    []byte
	mmapped bool
	unmap   func([]byte) error
}

// Open maps path read-only. The returned file must be closed to release the
// mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("artifact %s: is a directory", path)
	}
	size64 := stat.Size()
	if size64 == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s: bad size %d", ErrCorrupt, path, size64)
	}
	size := int(size64)

	if data, unmap, err := mapFile(f, size); err == nil {
		return &File{path: path, data: data, mmapped: true, unmap: unmap}, nil
	}

	data, err := readAllAt(f, size)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &File{path: path, data: data}, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func (f *File) Path() string  { return f.path }
func (f *File) Bytes() []byte { return f.data }
func (f *File) Size() int     { return len(f.data) }

// Close releases the mapping. It is safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	data := f.data
	f.data = nil
	if f.mmapped && f.unmap != nil {
		return f.unmap(data)
	}
	return nil
}

// CheckONNX performs a cheap sanity check that data looks like a serialized
// ONNX ModelProto: the first field must be a varint (ir_version, field 1) or
// a length-delimited field, as written by every exporter we know of.
func CheckONNX(data []byte) error {
	if len(data) < 2 {
		return ErrCorrupt
	}
	tag := data[0]
	field, wire := tag>>3, tag&0x7
	if field == 0 || (wire != 0 && wire != 2) {
		return fmt.Errorf("%w: unexpected leading protobuf tag 0x%02x", ErrCorrupt, tag)
	}
	return nil
}
