// Package imgstore persists camera frames, either as raw sensor bytes or as
// 16-bit FITS images carrying the acquisition settings in their header.
package imgstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/magis-lab/spintiming/internal/hw/camera"
)

// Formats accepted by New.
const (
	FormatRaw  = "raw"
	FormatFITS = "fits"
)

// Meta describes how a frame was taken.
type Meta struct {
	ExposureUs  float64
	BitDepth    int
	PixelFormat string
	Serial      string
	Time        time.Time
}

// Store writes frames under Dir.
type Store struct {
	Dir    string
	Format string
}

// New validates format and returns a Store. The directory is created on
// the first Save.
func New(dir, format string) (*Store, error) {
	switch format {
	case "":
		format = FormatRaw
	case FormatRaw, FormatFITS:
	default:
		return nil, fmt.Errorf("unknown image format %q (want %s or %s)", format, FormatRaw, FormatFITS)
	}
	return &Store{Dir: dir, Format: format}, nil
}

// CheckWritable creates Dir and probes it with a temporary file, so a run
// fails before touching the camera when frames could not be kept.
func (s *Store) CheckWritable() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	f, err := os.CreateTemp(s.Dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("image directory %s not writable: %w", s.Dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Save writes img as name plus the format extension and returns the path.
func (s *Store) Save(name string, img *camera.Image, meta Meta) (string, error) {
	if !img.Complete {
		return "", fmt.Errorf("refusing to save %s: %w", name, img.Err())
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	path := filepath.Join(s.Dir, name+"."+s.Format)
	var err error
	if s.Format == FormatFITS {
		var pix []uint16
		if pix, err = pixels(img); err == nil {
			err = writeFile(path, func(w io.Writer) error { return encodeFITS(w, img, pix, meta) })
		}
	} else {
		err = writeFile(path, func(w io.Writer) error {
			_, err := w.Write(img.Data)
			return err
		})
	}
	if err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// writeFile creates path, fills it through a buffered writer and syncs it.
// On any error the partial file is removed.
func writeFile(path string, fill func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func encodeFITS(w io.Writer, img *camera.Image, pix []uint16, meta Meta) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	im := fitsio.NewImage(16, []int{img.Width, img.Height})
	defer im.Close()

	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "EXPTIME", Value: meta.ExposureUs / 1e6, Comment: "exposure time, s"},
		{Name: "PIXFMT", Value: meta.PixelFormat},
	}
	if meta.BitDepth > 0 {
		cards = append(cards, fitsio.Card{Name: "BITDEPTH", Value: meta.BitDepth, Comment: "ADC bit depth"})
	}
	if meta.Serial != "" {
		cards = append(cards, fitsio.Card{Name: "SERIAL", Value: meta.Serial})
	}
	if !meta.Time.IsZero() {
		cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: meta.Time.UTC().Format("2006-01-02T15:04:05.000")})
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	ints := make([]int16, len(pix))
	for i, v := range pix {
		ints[i] = int16(int32(v) - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	if err := fits.Write(im); err != nil {
		return err
	}
	return fits.Close()
}

// pixels widens the frame to unsigned 16-bit samples.
func pixels(img *camera.Image) ([]uint16, error) {
	n := img.Width * img.Height
	switch img.BitsPerPixel {
	case 8:
		if len(img.Data) < n {
			return nil, fmt.Errorf("frame has %d bytes, want %d", len(img.Data), n)
		}
		out := make([]uint16, n)
		for i := range out {
			out[i] = uint16(img.Data[i])
		}
		return out, nil
	case 16:
		if len(img.Data) < 2*n {
			return nil, fmt.Errorf("frame has %d bytes, want %d", len(img.Data), 2*n)
		}
		out := make([]uint16, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(img.Data[2*i:])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported pixel depth %d", img.BitsPerPixel)
	}
}
