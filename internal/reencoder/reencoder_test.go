package reencoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// createTestImage returns a gradient with some noise so quality changes size.
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: uint8((x*7 + y*13) % 255),
				A: 255,
			})
		}
	}
	return img
}

func jpegBytes(t *testing.T, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, createTestImage(64, 48), &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, createTestImage(64, 48)))
	return buf.Bytes()
}

// apngBytes returns a PNG with an acTL chunk right after IHDR, which is how
// animated PNGs announce themselves.
func apngBytes(t *testing.T) []byte {
	t.Helper()
	plain := pngBytes(t)
	const ihdrEnd = 8 + 4 + 4 + 13 + 4

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], 1) // frames
	binary.BigEndian.PutUint32(data[4:8], 0) // plays

	var chunk bytes.Buffer
	_ = binary.Write(&chunk, binary.BigEndian, uint32(len(data)))
	chunk.WriteString("acTL")
	chunk.Write(data)
	_ = binary.Write(&chunk, binary.BigEndian, crc32.ChecksumIEEE(append([]byte("acTL"), data...)))

	out := append([]byte(nil), plain[:ihdrEnd]...)
	out = append(out, chunk.Bytes()...)
	return append(out, plain[ihdrEnd:]...)
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, createTestImage(16, 16), nil))
	return buf.Bytes()
}

func bmpBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, createTestImage(16, 16)))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func decodedFormat(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.Decode(f)
	require.NoError(t, err)
	return format
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".recompress-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestReencode_JPEGRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", jpegBytes(t, 100))

	res := New(DefaultOptions()).Reencode(path)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, FormatJPEG, res.Format)
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 48, res.Height)
	assert.Positive(t, res.EncodedSize)
	assert.Equal(t, "jpeg", decodedFormat(t, path))
	assertNoTempFiles(t, dir)
}

func TestReencode_PNGRoundTripIgnoresQuality(t *testing.T) {
	dir := t.TempDir()
	original := pngBytes(t)
	path := writeFile(t, dir, "b.png", original)

	opts := DefaultOptions()
	opts.Quality = 1
	res := New(opts).Reencode(path)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, FormatPNG, res.Format)
	assert.Equal(t, "png", decodedFormat(t, path))

	// Lossless: pixels survive regardless of the quality value.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	want, err := png.Decode(bytes.NewReader(original))
	require.NoError(t, err)
	assert.Equal(t, want.At(10, 10), got.At(10, 10))
	assert.Less(t, res.EncodedSize, res.OriginalSize)
}

func TestReencode_Idempotent(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.jpg", jpegBytes(t, 95)),
		writeFile(t, dir, "b.png", pngBytes(t)),
	}

	r := New(DefaultOptions())
	for _, path := range paths {
		first := r.Reencode(path)
		require.NoError(t, first.Err)
		second := r.Reencode(path)
		require.NoError(t, second.Err)
		assert.Equal(t, first.Format, second.Format)
		assert.Equal(t, StatusSuccess, second.Status)
	}
	assert.Equal(t, "jpeg", decodedFormat(t, paths[0]))
	assert.Equal(t, "png", decodedFormat(t, paths[1]))
}

func TestReencode_QualityChangesSize(t *testing.T) {
	dir := t.TempDir()
	lowPath := writeFile(t, dir, "low.jpg", jpegBytes(t, 100))
	highPath := writeFile(t, dir, "high.jpg", jpegBytes(t, 100))

	low := DefaultOptions()
	low.Quality = 1
	high := DefaultOptions()
	high.Quality = 100

	lowRes := New(low).Reencode(lowPath)
	highRes := New(high).Reencode(highPath)
	require.NoError(t, lowRes.Err)
	require.NoError(t, highRes.Err)
	assert.Less(t, lowRes.EncodedSize, highRes.EncodedSize)
}

func TestReencode_CorruptedFile(t *testing.T) {
	cases := map[string][]byte{
		"garbage":   []byte("definitely not an image"),
		"truncated": jpegBytes(t, 90)[:40],
		"empty":     {},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "d.jpeg", data)

			res := New(DefaultOptions()).Reencode(path)
			assert.Equal(t, StatusFailed, res.Status)
			assert.True(t, errors.Is(res.Err, ErrDecodeFailed), "got %v", res.Err)
			assert.Equal(t, KindDecodeFailed, KindOf(res.Err))

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, data, after)
			assertNoTempFiles(t, dir)
		})
	}
}

func TestReencode_MissingFile(t *testing.T) {
	res := New(DefaultOptions()).Reencode(filepath.Join(t.TempDir(), "gone.png"))
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, ErrPathUnreadable))
	assert.True(t, errors.Is(res.Err, os.ErrNotExist))
}

func TestReencode_UnsupportedContentLeftUntouched(t *testing.T) {
	bodies := map[string][]byte{
		"gif": gifBytes(t),
		"bmp": bmpBytes(t),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "mislabeled.jpg", body)

			res := New(DefaultOptions()).Reencode(path)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Equal(t, FormatUnsupported, res.Format)
			assert.True(t, errors.Is(res.Err, ErrUnsupportedFormat))
			assert.False(t, IsFailure(res.Err))

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, body, after)
		})
	}
}

func TestReencode_AnimatedPNGSavedAsPNG(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anim.png", apngBytes(t))

	det := DetectFormat(apngBytes(t))
	assert.Equal(t, "image/apng", det.MIME)
	assert.Equal(t, FormatPNG, det.Format)

	res := New(DefaultOptions()).Reencode(path)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, FormatPNG, res.Format)
	assert.Equal(t, "png", decodedFormat(t, path))
}

func TestReencode_UndecodableImageTypeFails(t *testing.T) {
	bodies := map[string][]byte{
		"svg": []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="4" height="4"></svg>`),
		"psd": append([]byte("8BPS\x00\x01"), make([]byte, 64)...),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "icon.png", body)

			det := DetectFormat(body)
			assert.False(t, det.IsImage)

			res := New(DefaultOptions()).Reencode(path)
			assert.Equal(t, StatusFailed, res.Status)
			assert.True(t, errors.Is(res.Err, ErrDecodeFailed))

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, body, after)
		})
	}
}

func TestReencode_UnsupportedSilentCompatibility(t *testing.T) {
	dir := t.TempDir()
	body := gifBytes(t)
	path := writeFile(t, dir, "mislabeled.png", body)

	opts := DefaultOptions()
	opts.ReportUnsupported = false
	res := New(opts).Reencode(path)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.NoError(t, res.Err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, after)
}

func TestReencode_UniformSavesByExtension(t *testing.T) {
	dir := t.TempDir()
	gifAsJPEG := writeFile(t, dir, "anim.jpg", gifBytes(t))
	jpegAsPNG := writeFile(t, dir, "photo.png", jpegBytes(t, 90))

	opts := DefaultOptions()
	opts.Mode = ModeUniform
	r := New(opts)

	res := r.Reencode(gifAsJPEG)
	require.NoError(t, res.Err)
	assert.Equal(t, "jpeg", decodedFormat(t, gifAsJPEG))

	res = r.Reencode(jpegAsPNG)
	require.NoError(t, res.Err)
	assert.Equal(t, FormatJPEG, res.Format)
	assert.Equal(t, "png", decodedFormat(t, jpegAsPNG))
}

func TestReencode_UniformCorruptedFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "d.jpeg", []byte("broken"))

	opts := DefaultOptions()
	opts.Mode = ModeUniform
	res := New(opts).Reencode(path)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, ErrDecodeFailed))
}

func TestReencode_DryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	body := jpegBytes(t, 100)
	path := writeFile(t, dir, "a.jpg", body)

	opts := DefaultOptions()
	opts.DryRun = true
	res := New(opts).Reencode(path)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "dry-run", res.Reason)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, after)
}

func TestReencode_PreservesFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not comparable on windows")
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", jpegBytes(t, 90))
	require.NoError(t, os.Chmod(path, 0o600))

	res := New(DefaultOptions()).Reencode(path)
	require.NoError(t, res.Err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReencode_WriteFailed(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	dir := t.TempDir()
	body := pngBytes(t)
	path := writeFile(t, dir, "b.png", body)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	res := New(DefaultOptions()).Reencode(path)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, ErrWriteFailed))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, after)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJPEG, DetectFormat(jpegBytes(t, 90)).Format)
	assert.Equal(t, FormatPNG, DetectFormat(pngBytes(t)).Format)

	g := DetectFormat(gifBytes(t))
	assert.Equal(t, FormatUnsupported, g.Format)
	assert.True(t, g.IsImage)
	assert.Equal(t, "image/gif", g.MIME)

	txt := DetectFormat([]byte("hello"))
	assert.False(t, txt.IsImage)
}

func TestPNGCompressionLevel(t *testing.T) {
	assert.Equal(t, png.NoCompression, PNGCompressionLevel(0))
	assert.Equal(t, png.BestSpeed, PNGCompressionLevel(1))
	assert.Equal(t, png.DefaultCompression, PNGCompressionLevel(5))
	assert.Equal(t, png.BestCompression, PNGCompressionLevel(9))
}

func TestErrorMessage(t *testing.T) {
	err := newError("/x/a.jpg", KindDecodeFailed, errors.New("image: unknown format"))
	assert.Equal(t, "decode failed: image: unknown format", err.Error())
	assert.Equal(t, "decode_failed", err.Kind.String())
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("uniform")
	require.NoError(t, err)
	assert.Equal(t, ModeUniform, m)

	m, err = ParseMode("format_aware")
	require.NoError(t, err)
	assert.Equal(t, ModeFormatAware, m)

	_, err = ParseMode("bogus")
	assert.Error(t, err)
}
