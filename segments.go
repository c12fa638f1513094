package jpegfix

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotJPEG is returned when the input does not start with an SOI marker.
var ErrNotJPEG = errors.New("not a JPEG stream")

// ReadSegments parses the stream header (SOI up to the first SOS or EOI) into
// an ordered catalog of typed segments. The stream position is restored to
// where it was on entry, whether or not an error occurred.
//
// A malformed APPn segment is skipped with a warning; a malformed structural
// segment (bad SOF, truncated marker) is a hard error. warn may be nil.
func ReadSegments(rs io.ReadSeeker, warn func(string)) ([]Segment, error) {
	if warn == nil {
		warn = func(string) {}
	}

	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = rs.Seek(start, io.SeekStart)
	}()

	var soi [2]byte
	if _, err := io.ReadFull(rs, soi[:]); err != nil {
		return nil, fmt.Errorf("read SOI: %w", err)
	}
	if soi[0] != markerStart || soi[1] != markerSOI {
		return nil, ErrNotJPEG
	}

	var segments []Segment
	for {
		marker, err := nextMarker(rs)
		if err != nil {
			return nil, fmt.Errorf("read marker: %w", err)
		}

		switch {
		case marker == markerEOI, marker == markerSOS:
			return segments, nil
		case marker == markerTEM, marker >= markerRST0 && marker <= markerRST7:
			// Standalone markers, no length field.
			continue
		}

		length, err := readSegmentLength(rs)
		if err != nil {
			return nil, fmt.Errorf("segment 0x%02X: %w", marker, err)
		}

		switch {
		case isSOF(marker):
			payload := make([]byte, length)
			if _, err := io.ReadFull(rs, payload); err != nil {
				return nil, fmt.Errorf("SOF%d: %w", marker&0x0F, err)
			}
			frame, err := parseFrame(marker, payload)
			if err != nil {
				return nil, err
			}
			segments = append(segments, frame)
		case isAPP(marker):
			payload := make([]byte, length)
			if _, err := io.ReadFull(rs, payload); err != nil {
				return nil, fmt.Errorf("APP%d: %w", marker&0x0F, err)
			}
			seg, err := parseAppSegment(marker, payload)
			if err != nil {
				warn(fmt.Sprintf("Bogus APP%d/%s segment, ignoring", marker&0x0F, appIdentifier(payload)))
				continue
			}
			segments = append(segments, seg)
		default:
			if _, err := rs.Seek(int64(length), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip segment 0x%02X: %w", marker, err)
			}
			segments = append(segments, &UnknownSegment{SegMarker: marker, Length: length})
		}
	}
}

// nextMarker scans forward to the next marker byte pair, skipping fill bytes.
func nextMarker(r io.Reader) (byte, error) {
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		if buf[0] != markerStart {
			continue
		}
		for {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return 0, err
			}
			if buf[0] != markerStart {
				return buf[0], nil
			}
		}
	}
}

func readSegmentLength(r io.Reader) (int, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	length := int(binary.BigEndian.Uint16(buf[:]))
	if length < 2 {
		return 0, errors.New("invalid segment length")
	}
	return length - 2, nil
}

func parseFrame(marker byte, payload []byte) (*Frame, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("SOF%d: truncated frame header", marker&0x0F)
	}
	n := int(payload[5])
	if len(payload) < 6+3*n {
		return nil, fmt.Errorf("SOF%d: frame header declares %d components, %d bytes left", marker&0x0F, n, len(payload)-6)
	}

	f := &Frame{
		SOFMarker:      marker,
		Precision:      int(payload[0]),
		Lines:          int(binary.BigEndian.Uint16(payload[1:3])),
		SamplesPerLine: int(binary.BigEndian.Uint16(payload[3:5])),
		Components:     make([]Component, n),
	}
	for i := 0; i < n; i++ {
		c := payload[6+3*i : 9+3*i]
		f.Components[i] = Component{
			ID:   c[0],
			HSub: int(c[1] >> 4),
			VSub: int(c[1] & 0x0F),
			Tq:   c[2],
		}
	}
	return f, nil
}

func parseAppSegment(marker byte, payload []byte) (Segment, error) {
	switch marker {
	case markerAPP0:
		if bytes.HasPrefix(payload, jfifSig) {
			return parseJFIF(payload[len(jfifSig):])
		}
		if bytes.HasPrefix(payload, jfxxSig) {
			return parseJFXX(payload[len(jfxxSig):])
		}
	case markerAPP1:
		if bytes.HasPrefix(payload, exifSig) {
			return &ExifData{Data: append([]byte(nil), payload[len(exifSig):]...)}, nil
		}
	case markerAPP2:
		if bytes.HasPrefix(payload, iccSig) {
			if len(payload) < len(iccSig)+2 {
				return nil, errors.New("truncated ICC_PROFILE chunk header")
			}
			return &ICCChunk{
				ChunkNumber: int(payload[len(iccSig)]),
				ChunkCount:  int(payload[len(iccSig)+1]),
				Data:        append([]byte(nil), payload[len(iccSig)+2:]...),
			}, nil
		}
	case markerAPP14:
		if bytes.HasPrefix(payload, adobeSig) {
			return parseAdobe(payload[len(adobeSig):])
		}
	}

	return &AppSegment{
		AppMarker:  marker,
		Identifier: appIdentifier(payload),
		Data:       append([]byte(nil), payload...),
	}, nil
}

func parseJFIF(data []byte) (*JFIF, error) {
	if len(data) < 9 {
		return nil, errors.New("truncated JFIF segment")
	}
	j := &JFIF{
		MajorVersion: int(data[0]),
		MinorVersion: int(data[1]),
		Units:        int(data[2]),
		XDensity:     int(binary.BigEndian.Uint16(data[3:5])),
		YDensity:     int(binary.BigEndian.Uint16(data[5:7])),
		XThumbnail:   int(data[7]),
		YThumbnail:   int(data[8]),
	}
	if size := j.XThumbnail * j.YThumbnail * 3; size > 0 {
		if len(data) < 9+size {
			return nil, errors.New("truncated JFIF thumbnail")
		}
		j.Thumbnail = append([]byte(nil), data[9:9+size]...)
	}
	return j, nil
}

func parseJFXX(data []byte) (*JFXX, error) {
	if len(data) < 1 {
		return nil, errors.New("truncated JFXX segment")
	}
	return &JFXX{
		ExtensionCode: int(data[0]),
		Thumbnail:     append([]byte(nil), data[1:]...),
	}, nil
}

func parseAdobe(data []byte) (*AdobeDCT, error) {
	if len(data) < 7 {
		return nil, errors.New("truncated Adobe segment")
	}
	return &AdobeDCT{
		Version:   int(binary.BigEndian.Uint16(data[0:2])),
		Flags0:    int(binary.BigEndian.Uint16(data[2:4])),
		Flags1:    int(binary.BigEndian.Uint16(data[4:6])),
		Transform: AdobeTransform(data[6]),
	}, nil
}

// appIdentifier extracts the leading printable-ASCII identifier of an APPn
// payload, for diagnostics.
func appIdentifier(payload []byte) string {
	for i, b := range payload {
		if b < 0x20 || b > 0x7E {
			return string(payload[:i])
		}
		if i == 31 {
			return string(payload[:i+1])
		}
	}
	return string(payload)
}

// frameOf returns the single Frame segment of a catalog, or an error if the
// stream has none.
func frameOf(segments []Segment) (*Frame, error) {
	for _, seg := range segments {
		if f, ok := seg.(*Frame); ok {
			return f, nil
		}
	}
	return nil, errors.New("no SOF segment in stream")
}

func adobeOf(segments []Segment) *AdobeDCT {
	for _, seg := range segments {
		if a, ok := seg.(*AdobeDCT); ok {
			return a
		}
	}
	return nil
}

func jfifOf(segments []Segment) *JFIF {
	for _, seg := range segments {
		if j, ok := seg.(*JFIF); ok {
			return j
		}
	}
	return nil
}

func jfxxOf(segments []Segment) *JFXX {
	for _, seg := range segments {
		if j, ok := seg.(*JFXX); ok {
			return j
		}
	}
	return nil
}

func exifOf(segments []Segment) *ExifData {
	for _, seg := range segments {
		if e, ok := seg.(*ExifData); ok {
			return e
		}
	}
	return nil
}

func iccChunksOf(segments []Segment) []*ICCChunk {
	var chunks []*ICCChunk
	for _, seg := range segments {
		if c, ok := seg.(*ICCChunk); ok {
			chunks = append(chunks, c)
		}
	}
	return chunks
}
