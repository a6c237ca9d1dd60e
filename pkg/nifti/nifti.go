// Package nifti implements loading and saving of NIfTI-1 volumes, the
// storage format consumed and produced by the confound-estimation pipeline.
// Functional images load as 4D time series; masks load as binarized 3D
// volumes and save with the source affine and grid metadata round-tripped.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"fmriconfounds/internal/models"
)

// NIfTI-1 datatype codes for the voxel formats the pipeline accepts.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
)

// Time unit codes from the xyzt_units header field.
const (
	unitsSec  = 8
	unitsMsec = 16
	unitsUsec = 24
)

const headerSize = 348

// header is the fixed 348-byte NIfTI-1 header.
type header struct {
	SizeOfHdr      int32
	UnusedData     [35]byte
	DimInfo        int8
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	DataType       int16
	BitPix         int16
	SliceStart     int16
	PixDim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      int8
	XYZTUnits      int8
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	TOffset        float32
	UnusedGlmax    int32
	UnusedGlmin    int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QFormCode      int16
	SFormCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QOffsetX       float32
	QOffsetY       float32
	QOffsetZ       float32
	SRowX          [4]float32
	SRowY          [4]float32
	SRowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// LoadVolume reads a NIfTI-1 file (.nii or .nii.gz) as a 4D functional
// volume. A 3D image loads with a single time point. The repetition time
// is taken from pixdim[4], converted to seconds per the header time units.
func LoadVolume(path string) (*models.Volume4D, error) {
	hdr, order, data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 4 {
		return nil, &models.DimensionError{
			Want: "a 3D or 4D NIfTI volume",
			Got:  fmt.Sprintf("%dD", ndim),
		}
	}
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	nt := 1
	if ndim == 4 {
		nt = int(hdr.Dim[4])
	}
	voxels, err := decodeVoxels(hdr, order, data, nx*ny*nz*nt)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &models.Volume4D{
		Data:           voxels,
		Nx:             nx,
		Ny:             ny,
		Nz:             nz,
		NumVolumes:     nt,
		RepetitionTime: repetitionTime(hdr),
		Affine:         affine(hdr),
	}, nil
}

// LoadMask reads a NIfTI-1 file as a binary mask: any voxel with a value
// greater than zero is active.
func LoadMask(path string) (*models.Mask, error) {
	vol, err := LoadVolume(path)
	if err != nil {
		return nil, err
	}
	if vol.NumVolumes != 1 {
		return nil, &models.DimensionError{
			Want: "a 3D mask volume",
			Got:  fmt.Sprintf("4D with %d volumes", vol.NumVolumes),
		}
	}
	mask := &models.Mask{
		Data:   make([]bool, len(vol.Data)),
		Nx:     vol.Nx,
		Ny:     vol.Ny,
		Nz:     vol.Nz,
		Affine: vol.Affine,
	}
	for i, v := range vol.Data {
		mask.Data[i] = v > 0
	}
	return mask, nil
}

// SaveMask writes a mask as a uint8 NIfTI-1 single-file volume, gzipped
// when the path ends in .gz. The mask's affine is written into the sform
// fields so derived masks stay aligned with their source image.
func SaveMask(mask *models.Mask, path string) error {
	hdr := header{
		SizeOfHdr: headerSize,
		DataType:  typeUint8,
		BitPix:    8,
		VoxOffset: headerSize + 4,
		SclSlope:  1,
		SFormCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(mask.Nx)
	hdr.Dim[2] = int16(mask.Ny)
	hdr.Dim[3] = int16(mask.Nz)
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.PixDim[0] = 1
	for i := 0; i < 3; i++ {
		hdr.SRowX[i] = float32(mask.Affine[i])
		hdr.SRowY[i] = float32(mask.Affine[4+i])
		hdr.SRowZ[i] = float32(mask.Affine[8+i])
		// Voxel sizes from the affine column norms.
		col := math.Sqrt(mask.Affine[i]*mask.Affine[i] +
			mask.Affine[4+i]*mask.Affine[4+i] +
			mask.Affine[8+i]*mask.Affine[8+i])
		if col == 0 {
			col = 1
		}
		hdr.PixDim[i+1] = float32(col)
	}
	hdr.SRowX[3] = float32(mask.Affine[3])
	hdr.SRowY[3] = float32(mask.Affine[7])
	hdr.SRowZ[3] = float32(mask.Affine[11])

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	// Four bytes of empty extension flags pad the header to vox_offset.
	buf.Write([]byte{0, 0, 0, 0})
	for _, on := range mask.Data {
		if on {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// readFile opens a .nii or .nii.gz file and returns the decoded header,
// its byte order, and the raw voxel bytes starting at vox_offset.
func readFile(path string) (*header, binary.ByteOrder, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw) < headerSize {
		return nil, nil, nil, fmt.Errorf("reading %s: truncated header (%d bytes)", path, len(raw))
	}

	// The sizeof_hdr field doubles as an endianness probe: it must decode
	// to 348 under the file's native byte order.
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != headerSize {
		if binary.BigEndian.Uint32(raw[:4]) != headerSize {
			return nil, nil, nil, fmt.Errorf("reading %s: not a NIfTI-1 file", path)
		}
		order = binary.BigEndian
	}

	hdr := new(header)
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, hdr); err != nil {
		return nil, nil, nil, fmt.Errorf("decoding %s header: %w", path, err)
	}
	if hdr.Magic[0] != 'n' || (hdr.Magic[1] != '+' && hdr.Magic[1] != 'i') || hdr.Magic[2] != '1' {
		return nil, nil, nil, fmt.Errorf("reading %s: bad NIfTI magic %q", path, hdr.Magic[:3])
	}

	offset := int(hdr.VoxOffset)
	if offset < headerSize || offset > len(raw) {
		return nil, nil, nil, fmt.Errorf("reading %s: bad vox_offset %d", path, offset)
	}
	return hdr, order, raw[offset:], nil
}

// decodeVoxels converts the raw voxel bytes to float64, applying the
// header's scaling slope and intercept when a slope is present.
func decodeVoxels(hdr *header, order binary.ByteOrder, data []byte, n int) ([]float64, error) {
	width := int(hdr.BitPix) / 8
	if len(data) < n*width {
		return nil, fmt.Errorf("voxel data truncated: have %d bytes, need %d", len(data), n*width)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*width:]
		switch hdr.DataType {
		case typeUint8:
			out[i] = float64(b[0])
		case typeInt16:
			out[i] = float64(int16(order.Uint16(b)))
		case typeInt32:
			out[i] = float64(int32(order.Uint32(b)))
		case typeFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case typeFloat64:
			out[i] = math.Float64frombits(order.Uint64(b))
		default:
			return nil, fmt.Errorf("unsupported NIfTI datatype %d", hdr.DataType)
		}
	}
	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		slope := float64(hdr.SclSlope)
		inter := float64(hdr.SclInter)
		for i := range out {
			out[i] = out[i]*slope + inter
		}
	}
	return out, nil
}

// repetitionTime extracts the volume sampling interval in seconds from
// pixdim[4], honoring the header's time-unit code.
func repetitionTime(hdr *header) float64 {
	tr := float64(hdr.PixDim[4])
	switch int(hdr.XYZTUnits) & 0x38 {
	case unitsMsec:
		tr /= 1e3
	case unitsUsec:
		tr /= 1e6
	case unitsSec:
		// Already seconds.
	}
	return tr
}

// affine assembles the row-major 4x4 voxel-to-world transform, preferring
// the sform rows and falling back to a pixdim-scaled identity.
func affine(hdr *header) [16]float64 {
	var a [16]float64
	a[15] = 1
	if hdr.SFormCode > 0 {
		for i := 0; i < 4; i++ {
			a[i] = float64(hdr.SRowX[i])
			a[4+i] = float64(hdr.SRowY[i])
			a[8+i] = float64(hdr.SRowZ[i])
		}
		return a
	}
	for i := 0; i < 3; i++ {
		d := float64(hdr.PixDim[i+1])
		if d == 0 {
			d = 1
		}
		a[i*4+i] = d
	}
	return a
}
