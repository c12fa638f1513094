package jpegfix

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// appendSegment appends one marker segment with its length field.
func appendSegment(b []byte, marker byte, payload []byte) []byte {
	b = append(b, markerStart, marker)
	length := len(payload) + 2
	b = append(b, byte(length>>8), byte(length))
	return append(b, payload...)
}

func sofPayload(precision byte, height, width int, comps ...Component) []byte {
	p := []byte{
		precision,
		byte(height >> 8), byte(height),
		byte(width >> 8), byte(width),
		byte(len(comps)),
	}
	for _, c := range comps {
		p = append(p, c.ID, byte(c.HSub<<4|c.VSub), c.Tq)
	}
	return p
}

func jfifPayload(xThumb, yThumb int, thumb []byte) []byte {
	p := append([]byte(nil), jfifSig...)
	p = append(p, 1, 2, 0, 0, 72, 0, 72, byte(xThumb), byte(yThumb))
	return append(p, thumb...)
}

func adobePayload(transform AdobeTransform) []byte {
	p := append([]byte(nil), adobeSig...)
	return append(p, 0, 100, 0, 0, 0, 0, byte(transform))
}

func iccChunkPayload(chunkNumber, chunkCount int, data []byte) []byte {
	p := append([]byte(nil), iccSig...)
	p = append(p, byte(chunkNumber), byte(chunkCount))
	return append(p, data...)
}

// grayStream builds a minimal JFIF grayscale stream header ending in SOS.
func grayStream() []byte {
	b := []byte{markerStart, markerSOI}
	b = appendSegment(b, markerAPP0, jfifPayload(0, 0, nil))
	b = appendSegment(b, markerSOF0, sofPayload(8, 16, 16, Component{ID: 1, HSub: 1, VSub: 1}))
	return append(b, markerStart, markerSOS)
}

func TestReadSegmentsMinimalStream(t *testing.T) {
	segments, err := ReadSegments(bytes.NewReader(grayStream()), nil)
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}

	jfif := jfifOf(segments)
	if jfif == nil {
		t.Fatal("JFIF segment missing")
	}
	if jfif.MajorVersion != 1 || jfif.MinorVersion != 2 {
		t.Errorf("JFIF version %d.%d, want 1.2", jfif.MajorVersion, jfif.MinorVersion)
	}
	if jfif.XDensity != 72 || jfif.YDensity != 72 {
		t.Errorf("JFIF density %dx%d, want 72x72", jfif.XDensity, jfif.YDensity)
	}

	frame, err := frameOf(segments)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if frame.SamplesPerLine != 16 || frame.Lines != 16 {
		t.Errorf("frame %dx%d, want 16x16", frame.SamplesPerLine, frame.Lines)
	}
	if frame.Lossless() {
		t.Error("SOF0 frame reported lossless")
	}
}

func TestReadSegmentsRestoresPosition(t *testing.T) {
	stream := grayStream()
	r := bytes.NewReader(stream)

	// Start mid-stream seeks must come back to the same place.
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSegments(r, nil); err != nil {
		t.Fatalf("read segments: %v", err)
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0 {
		t.Errorf("position %d after ReadSegments, want 0", pos)
	}
}

func TestReadSegmentsNotJPEG(t *testing.T) {
	_, err := ReadSegments(bytes.NewReader([]byte("GIF89a")), nil)
	if !errors.Is(err, ErrNotJPEG) {
		t.Fatalf("got %v, want ErrNotJPEG", err)
	}
}

func TestReadSegmentsBogusAppSkipped(t *testing.T) {
	b := []byte{markerStart, markerSOI}
	// JFIF identifier with a payload too short for the header.
	b = appendSegment(b, markerAPP0, append(append([]byte(nil), jfifSig...), 1, 2))
	b = appendSegment(b, markerSOF0, sofPayload(8, 8, 8, Component{ID: 1, HSub: 1, VSub: 1}))
	b = append(b, markerStart, markerSOS)

	var warnings []string
	segments, err := ReadSegments(bytes.NewReader(b), func(msg string) { warnings = append(warnings, msg) })
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}

	if jfifOf(segments) != nil {
		t.Error("bogus JFIF segment not skipped")
	}
	if _, err := frameOf(segments); err != nil {
		t.Errorf("frame lost: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "Bogus APP0") {
		t.Errorf("warnings = %q, want one bogus APP0 warning", warnings)
	}
}

func TestReadSegmentsBadSOFIsFatal(t *testing.T) {
	// Frame header declaring 3 components with only one present.
	payload := sofPayload(8, 8, 8, Component{ID: 1, HSub: 1, VSub: 1})
	payload[5] = 3

	b := []byte{markerStart, markerSOI}
	b = appendSegment(b, markerSOF0, payload)

	_, err := ReadSegments(bytes.NewReader(b), nil)
	if err == nil {
		t.Fatal("truncated SOF accepted")
	}
}

func TestReadSegmentsFillBytes(t *testing.T) {
	// Fill bytes (extra 0xFF) in front of the SOF marker are legal padding.
	seg := appendSegment(nil, markerSOF0, sofPayload(8, 8, 8, Component{ID: 1, HSub: 1, VSub: 1}))

	stream := []byte{markerStart, markerSOI, markerStart, markerStart}
	stream = append(stream, seg[1:]...) // seg starts with 0xFF, already present as fill
	stream = append(stream, markerStart, markerSOS)

	segments, err := ReadSegments(bytes.NewReader(stream), nil)
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}
	if _, err := frameOf(segments); err != nil {
		t.Errorf("frame not found past fill bytes: %v", err)
	}
}

func TestReadSegmentsTablesOnly(t *testing.T) {
	b := []byte{markerStart, markerSOI}
	b = appendSegment(b, markerDQT, make([]byte, 65))
	b = appendSegment(b, markerDHT, []byte{0x00, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	b = append(b, markerStart, markerEOI)

	segments, err := ReadSegments(bytes.NewReader(b), nil)
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}
	if _, err := frameOf(segments); err == nil {
		t.Error("tables-only stream produced a frame")
	}
}

func TestReadSegmentsAdobeAndICC(t *testing.T) {
	b := []byte{markerStart, markerSOI}
	b = appendSegment(b, markerAPP2, iccChunkPayload(1, 2, []byte{1, 2, 3}))
	b = appendSegment(b, markerAPP2, iccChunkPayload(2, 2, []byte{4, 5}))
	b = appendSegment(b, markerAPP14, adobePayload(AdobeTransformYCCK))
	b = appendSegment(b, markerSOF0, sofPayload(8, 8, 8,
		Component{ID: 1, HSub: 2, VSub: 2},
		Component{ID: 2, HSub: 1, VSub: 1},
		Component{ID: 3, HSub: 1, VSub: 1},
		Component{ID: 4, HSub: 2, VSub: 2},
	))
	b = append(b, markerStart, markerSOS)

	segments, err := ReadSegments(bytes.NewReader(b), nil)
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}

	adobe := adobeOf(segments)
	if adobe == nil || adobe.Transform != AdobeTransformYCCK {
		t.Errorf("adobe = %+v, want YCCK transform", adobe)
	}
	if adobe != nil && adobe.Version != 100 {
		t.Errorf("adobe version = %d, want 100", adobe.Version)
	}

	chunks := iccChunksOf(segments)
	if len(chunks) != 2 {
		t.Fatalf("got %d ICC chunks, want 2", len(chunks))
	}
	if chunks[0].ChunkNumber != 1 || chunks[0].ChunkCount != 2 {
		t.Errorf("chunk 0 indexed %d of %d", chunks[0].ChunkNumber, chunks[0].ChunkCount)
	}
	if !bytes.Equal(chunks[1].Data, []byte{4, 5}) {
		t.Errorf("chunk 1 data = %v", chunks[1].Data)
	}
}
