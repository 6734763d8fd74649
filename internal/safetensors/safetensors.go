// Package safetensors reads and writes the Hugging Face safetensors weight
// format: an 8-byte little-endian header length, a JSON header, then raw
// little-endian tensor data.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

const metadataKey = "__metadata__"

// Supported dtypes.
const (
	F32  = "F32"
	F16  = "F16"
	BF16 = "BF16"
)

var (
	ErrCorruptFile    = errors.New("safetensors: corrupt file")
	ErrTensorNotFound = errors.New("safetensors: tensor not found")
	ErrUnsupported    = errors.New("safetensors: unsupported dtype")
)

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an opened safetensors file. Tensor data stays in the mapping (or
// buffer) until Close.
type File struct {
	Path     string
	Tensors  map[string]TensorInfo
	Metadata map[string]string

	data    []byte
	body    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps path read-only, falling back to reading it into memory when
// mmap is unavailable. The file must be closed to release the mapping.
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
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s has size %d", ErrCorruptFile, path, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		sf, perr := parse(path, data, true)
		if perr != nil {
			_ = unix.Munmap(data)
			return nil, perr
		}
		return sf, nil
	}

	data = make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return parse(path, data, false)
}

// Parse reads a safetensors image already held in memory.
func Parse(data []byte) (*File, error) {
	return parse("", data, false)
}

func parse(path string, data []byte, mmapped bool) (*File, error) {
	if len(data) < 8 {
		return nil, ErrCorruptFile
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d exceeds file", ErrCorruptFile, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptFile, err)
	}

	sf := &File{
		Path:    path,
		Tensors: make(map[string]TensorInfo, len(raw)),
		data:    data,
		body:    data[8+headerLen:],
		mmapped: mmapped,
	}
	if meta, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(meta, &sf.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptFile, err)
		}
		delete(raw, metadataKey)
	}
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorruptFile, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > int64(len(sf.body)) {
			return nil, fmt.Errorf("%w: tensor %s has invalid data_offsets %v", ErrCorruptFile, name, th.DataOffsets)
		}
		sf.Tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return sf, nil
}

// Close releases the mapping. Slices returned by Raw are invalid after.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data, f.body, f.mmapped = nil, nil, false
	return err
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Raw returns the bytes of a tensor without copying.
func (f *File) Raw(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if f.body == nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: %s is closed", f.Path)
	}
	return f.body[t.Start:t.End], t, nil
}

// ReadF32 decodes a tensor to float32, converting from F16 or BF16.
func (f *File) ReadF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.Raw(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	var width int
	switch info.DType {
	case F32:
		width = 4
	case F16, BF16:
		width = 2
	default:
		return nil, TensorInfo{}, fmt.Errorf("%w %s for tensor %s", ErrUnsupported, info.DType, name)
	}
	if len(raw) != n*width {
		return nil, TensorInfo{}, fmt.Errorf("%w: tensor %s has %d bytes for %d %s values", ErrCorruptFile, name, len(raw), n, info.DType)
	}
	out := make([]float32, n)
	for i := range out {
		switch info.DType {
		case F32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		case BF16:
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		case F16:
			out[i] = fp16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	}
	return out, info, nil
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d > 0 && n > (int(^uint(0)>>1))/d {
			return 0, errors.New("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
