package jpegfix

import (
	"context"
	"encoding/binary"
	"image"
	"strings"
	"testing"
)

type tiffTestEntry struct {
	tag   uint16
	typ   uint16
	value uint32
}

// buildTIFFThumb builds a little-endian TIFF blob with an empty IFD0, an IFD1
// from the given entries, and a trailing data blob. Returns the blob and the
// offset of the data area for the caller to reference in entries.
func buildTIFFThumbOffset(n int) uint32 {
	// header(8) + IFD0(2+0+4) + IFD1(2 + n*12 + 4)
	return uint32(8 + 6 + 2 + n*12 + 4)
}

func buildTIFFThumb(entries []tiffTestEntry, data []byte) []byte {
	b := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}

	// IFD0: no entries, next IFD right after.
	b = append(b, 0, 0)
	next := make([]byte, 4)
	binary.LittleEndian.PutUint32(next, 14)
	b = append(b, next...)

	// IFD1.
	count := make([]byte, 2)
	binary.LittleEndian.PutUint16(count, uint16(len(entries)))
	b = append(b, count...)
	for _, e := range entries {
		entry := make([]byte, 12)
		binary.LittleEndian.PutUint16(entry[0:], e.tag)
		binary.LittleEndian.PutUint16(entry[2:], e.typ)
		binary.LittleEndian.PutUint32(entry[4:], 1)
		if e.typ == 3 {
			binary.LittleEndian.PutUint16(entry[8:], uint16(e.value))
		} else {
			binary.LittleEndian.PutUint32(entry[8:], e.value)
		}
		b = append(b, entry...)
	}
	b = append(b, 0, 0, 0, 0) // end of chain

	return append(b, data...)
}

func failJPEGDecode(_ context.Context, _ []byte) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func TestJFIFThumbnail(t *testing.T) {
	segments := []Segment{&JFIF{XThumbnail: 1, YThumbnail: 1, Thumbnail: []byte{10, 20, 30}}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(string) { t.Fatal("unexpected warning") })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}
	if thumbs[0].Width() != 1 || thumbs[0].Height() != 1 {
		t.Errorf("size %dx%d, want 1x1", thumbs[0].Width(), thumbs[0].Height())
	}

	img, err := thumbs[0].Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rgba := img.(*image.RGBA)
	if rgba.Pix[0] != 10 || rgba.Pix[1] != 20 || rgba.Pix[2] != 30 {
		t.Errorf("pixel = %v", rgba.Pix[:3])
	}
}

func TestJFXXUnknownCodeSkipped(t *testing.T) {
	segments := []Segment{&JFXX{ExtensionCode: 9, Thumbnail: []byte{1, 2, 3}}}

	var warnings []string
	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { warnings = append(warnings, msg) })
	if len(thumbs) != 0 {
		t.Errorf("got %d thumbnails, want 0", len(thumbs))
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "JFXX") {
		t.Errorf("warnings = %q", warnings)
	}
}

func TestJFXXRGBThumbnail(t *testing.T) {
	segments := []Segment{&JFXX{ExtensionCode: JFXXRGB, Thumbnail: []byte{1, 1, 99, 88, 77}}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}

	img, err := thumbs[0].Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rgba := img.(*image.RGBA)
	if rgba.Pix[0] != 99 || rgba.Pix[1] != 88 || rgba.Pix[2] != 77 {
		t.Errorf("pixel = %v", rgba.Pix[:3])
	}
}

func TestJFXXIndexedThumbnail(t *testing.T) {
	data := []byte{1, 1}
	palette := make([]byte, 768)
	palette[3], palette[4], palette[5] = 11, 22, 33 // palette entry 1
	data = append(data, palette...)
	data = append(data, 1) // single pixel referencing entry 1

	segments := []Segment{&JFXX{ExtensionCode: JFXXIndexed, Thumbnail: data}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}

	img, err := thumbs[0].Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rgba := img.(*image.RGBA)
	if rgba.Pix[0] != 11 || rgba.Pix[1] != 22 || rgba.Pix[2] != 33 {
		t.Errorf("pixel = %v", rgba.Pix[:3])
	}
}

func TestJFXXJPEGThumbnailDimensions(t *testing.T) {
	segments := []Segment{&JFXX{ExtensionCode: JFXXJPEG, Thumbnail: grayStream()}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}
	if thumbs[0].Width() != 16 || thumbs[0].Height() != 16 {
		t.Errorf("size %dx%d, want 16x16 from the embedded SOF", thumbs[0].Width(), thumbs[0].Height())
	}
}

func TestExifJPEGThumbnail(t *testing.T) {
	jpegData := grayStream()
	off := buildTIFFThumbOffset(3)
	tiff := buildTIFFThumb([]tiffTestEntry{
		{tag: tagCompression, typ: 3, value: compressionJPEG},
		{tag: tagJPEGInterchangeFormat, typ: 4, value: off},
		{tag: tagJPEGInterchangeFormatLength, typ: 4, value: uint32(len(jpegData))},
	}, jpegData)

	segments := []Segment{&ExifData{Data: tiff}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}
	if thumbs[0].Width() != 16 || thumbs[0].Height() != 16 {
		t.Errorf("size %dx%d, want 16x16", thumbs[0].Width(), thumbs[0].Height())
	}
}

func TestExifJPEGThumbnailDefaultCompression(t *testing.T) {
	// No Compression tag at all; Exif thumbnails default to JPEG compressed.
	jpegData := grayStream()
	off := buildTIFFThumbOffset(2)
	tiff := buildTIFFThumb([]tiffTestEntry{
		{tag: tagJPEGInterchangeFormat, typ: 4, value: off},
		{tag: tagJPEGInterchangeFormatLength, typ: 4, value: uint32(len(jpegData))},
	}, jpegData)

	segments := []Segment{&ExifData{Data: tiff}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}
	if thumbs[0].Width() != 16 || thumbs[0].Height() != 16 {
		t.Errorf("size %dx%d, want 16x16", thumbs[0].Width(), thumbs[0].Height())
	}
}

func TestExifJPEGThumbnailZeroLengthSkipped(t *testing.T) {
	tiff := buildTIFFThumb([]tiffTestEntry{
		{tag: tagCompression, typ: 3, value: compressionJPEG},
		{tag: tagJPEGInterchangeFormat, typ: 4, value: buildTIFFThumbOffset(3)},
		{tag: tagJPEGInterchangeFormatLength, typ: 4, value: 0},
	}, nil)

	segments := []Segment{&ExifData{Data: tiff}}

	var warnings []string
	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { warnings = append(warnings, msg) })
	if len(thumbs) != 0 {
		t.Errorf("got %d thumbnails, want 0", len(thumbs))
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "Exif") {
		t.Errorf("warnings = %q", warnings)
	}
}

func TestExifUncompressedThumbnail(t *testing.T) {
	off := buildTIFFThumbOffset(5)
	tiff := buildTIFFThumb([]tiffTestEntry{
		{tag: tagImageWidth, typ: 3, value: 1},
		{tag: tagImageLength, typ: 3, value: 1},
		{tag: tagCompression, typ: 3, value: compressionNone},
		{tag: tagPhotometricInterpretation, typ: 3, value: 2},
		{tag: tagStripOffsets, typ: 4, value: off},
	}, []byte{7, 8, 9})

	segments := []Segment{&ExifData{Data: tiff}}

	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 1 {
		t.Fatalf("got %d thumbnails, want 1", len(thumbs))
	}

	img, err := thumbs[0].Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rgba := img.(*image.RGBA)
	if rgba.Pix[0] != 7 || rgba.Pix[1] != 8 || rgba.Pix[2] != 9 {
		t.Errorf("pixel = %v", rgba.Pix[:3])
	}
}

func TestExifUncompressedThumbnailMissingStripsSkipped(t *testing.T) {
	tiff := buildTIFFThumb([]tiffTestEntry{
		{tag: tagImageWidth, typ: 3, value: 1},
		{tag: tagImageLength, typ: 3, value: 1},
		{tag: tagCompression, typ: 3, value: compressionNone},
	}, nil)

	segments := []Segment{&ExifData{Data: tiff}}

	var warnings []string
	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { warnings = append(warnings, msg) })
	if len(thumbs) != 0 {
		t.Errorf("got %d thumbnails, want 0", len(thumbs))
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %q", warnings)
	}
}

func TestExifSingleIFDNoThumbnail(t *testing.T) {
	// Only IFD0, no thumbnail directory at all. Not an error, not a warning.
	tiff := []byte{'I', 'I', 42, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	segments := []Segment{&ExifData{Data: tiff}}
	thumbs := extractThumbnails(segments, failJPEGDecode, func(msg string) { t.Fatalf("warning: %s", msg) })
	if len(thumbs) != 0 {
		t.Errorf("got %d thumbnails, want 0", len(thumbs))
	}
}

func TestFitThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))

	fitted := FitThumbnail(img, 10, 10)
	if b := fitted.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Errorf("fitted to %dx%d, want 10x5", b.Dx(), b.Dy())
	}

	same := FitThumbnail(img, 200, 200)
	if same != image.Image(img) {
		t.Error("image within bounds was rescaled")
	}
}
