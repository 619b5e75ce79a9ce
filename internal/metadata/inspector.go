// Package metadata reports what a file contains before or after a re-encode:
// sniffed format, dimensions, and the EXIF tags the re-encode drops.
package metadata

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"image-recompressor/internal/logger"
	"image-recompressor/internal/reencoder"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
)

// Info describes one image file.
type Info struct {
	Path      string
	Size      int64
	ModTime   time.Time
	MIME      string
	Format    reencoder.Format
	Codec     string // name reported by image.DecodeConfig, empty if undecodable
	Width     int
	Height    int
	HasEXIF   bool
	Software  string
	DateTime  *time.Time
	Exiftool  map[string]interface{}
	DecodeErr error
}

// Inspector extracts Info from files.
type Inspector struct {
	logger      *logrus.Logger
	useExiftool bool
}

// NewInspector returns an Inspector. When useExiftool is set the exiftool binary is
// queried for the full tag set; a missing binary is logged and ignored.
func NewInspector(logger *logrus.Logger, useExiftool bool) *Inspector {
	return &Inspector{
		logger:      logger,
		useExiftool: useExiftool,
	}
}

// Inspect returns metadata for filePath. Only an unreadable file is an error; decode
// and EXIF problems are reflected in the returned Info.
func (i *Inspector) Inspect(filePath string) (*Info, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	det := reencoder.DetectFormat(data)
	info := &Info{
		Path:    filePath,
		Size:    fileInfo.Size(),
		ModTime: fileInfo.ModTime(),
		MIME:    det.MIME,
		Format:  det.Format,
	}

	if err := i.decodeConfig(filePath, info); err != nil {
		info.DecodeErr = err
	}

	if det.Format == reencoder.FormatJPEG {
		i.extractWithGoExif(filePath, info)
	}

	if i.useExiftool {
		i.extractWithExiftool(filePath, info)
	}

	return info, nil
}

func (i *Inspector) decodeConfig(filePath string, info *Info) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	cfg, codec, err := image.DecodeConfig(file)
	if err != nil {
		return err
	}
	info.Codec = codec
	info.Width = cfg.Width
	info.Height = cfg.Height
	return nil
}

// extractWithGoExif reads the Software and date tags with the rwcarlsen/goexif library.
func (i *Inspector) extractWithGoExif(filePath string, info *Info) {
	file, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		logger.WithFile(i.logger, filePath).WithError(err).Debug("No EXIF data")
		return
	}
	info.HasEXIF = true

	if tag, err := x.Get(exif.Software); err == nil {
		if val, err := tag.StringVal(); err == nil {
			info.Software = val
		}
	}

	if tm, err := x.DateTime(); err == nil {
		info.DateTime = &tm
		return
	}

	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized} {
		field, err := x.Get(name)
		if err != nil {
			continue
		}
		if dateStr, err := field.StringVal(); err == nil {
			if date := i.parseEXIFDateTime(dateStr); date != nil {
				info.DateTime = date
				return
			}
		}
	}
}

// extractWithExiftool fills Info.Exiftool using the barasher/go-exiftool wrapper.
func (i *Inspector) extractWithExiftool(filePath string, info *Info) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		i.logger.Debugf("exiftool unavailable: %v", err)
		return
	}
	defer et.Close()

	files := et.ExtractMetadata(filePath)
	if len(files) == 0 {
		return
	}
	if files[0].Err != nil {
		logger.WithFile(i.logger, filePath).WithError(files[0].Err).Debug("exiftool failed")
		return
	}
	info.Exiftool = files[0].Fields
}

// parseEXIFDateTime parses an EXIF date time string and returns a time.Time pointer.
// Returns nil if parsing fails.
func (i *Inspector) parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}

	i.logger.Debugf("Failed to parse date string: %s", dateStr)
	return nil
}
