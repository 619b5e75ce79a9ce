package reencoder

import (
	"bytes"
	"errors"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// Format is the content format detected for a file, independent of its extension.
type Format int

const (
	FormatUnsupported Format = iota
	FormatJPEG
	FormatPNG
)

// String returns the upper-case format name.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "JPEG"
	case FormatPNG:
		return "PNG"
	default:
		return "Unsupported"
	}
}

// Detection is the outcome of sniffing a file's content.
type Detection struct {
	Format Format
	MIME   string
	// IsImage is true for any image type a registered decoder recognises, including
	// ones that are neither JPEG nor PNG.
	IsImage bool
}

// DetectFormat sniffs data with mimetype. Subtypes such as APNG are classified by
// their parent type.
func DetectFormat(data []byte) Detection {
	m := mimetype.Detect(data)
	d := Detection{MIME: m.String()}
	for p := m; p != nil; p = p.Parent() {
		switch {
		case p.Is("image/jpeg"):
			d.Format = FormatJPEG
		case p.Is("image/png"):
			d.Format = FormatPNG
		default:
			continue
		}
		d.IsImage = true
		return d
	}
	d.IsImage = hasDecoder(data)
	return d
}

// hasDecoder reports whether one of the registered image decoders claims data.
func hasDecoder(data []byte) bool {
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return !errors.Is(err, image.ErrFormat)
}

// imagingFormat maps a detected format to the codec format used for writing.
func imagingFormat(f Format) (imaging.Format, bool) {
	switch f {
	case FormatJPEG:
		return imaging.JPEG, true
	case FormatPNG:
		return imaging.PNG, true
	default:
		return 0, false
	}
}

// PNGCompressionLevel maps a 0-9 level onto the four levels image/png offers.
func PNGCompressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
