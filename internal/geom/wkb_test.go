package geom

import (
	"encoding/hex"
	"testing"
)

// S1 — point encoding.
func TestEncodePointS1(t *testing.T) {
	g := NewPoint(3.14, 2.17, 42)
	got := Encode(g, false)
	wantHex := "01" + "01000020" + "2a000000" + "1f85eb51b81e0940" + "5c8fc2f5285c0140"
	gotHex := hex.EncodeToString(got)
	if gotHex != wantHex {
		t.Fatalf("got %s, want %s", gotHex, wantHex)
	}

	decoded, err := Decode(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(g) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", decoded, g)
	}
}

// S2 — empty multipoint decodes to null.
func TestEmptyMultiPointS2(t *testing.T) {
	var buf []byte
	buf = append(buf, 1)
	buf = append(buf, 4, 0, 0, 0) // wkbMultiPoint, no SRID
	buf = append(buf, 0, 0, 0, 0) // count = 0
	g, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !g.IsNull() {
		t.Fatalf("expected null, got %+v", g)
	}
}

func TestEncodeRoundTripEnsureMulti(t *testing.T) {
	p := NewPoint(1, 2, 4326)
	b := Encode(p, true)
	g, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.Kind != KindMultiPoint || len(g.Geometries) != 1 {
		t.Fatalf("expected wrapped multipoint, got %+v", g)
	}
	if !g.Geometries[0].Equal(NewPoint(1, 2, 0)) {
		t.Fatalf("wrapped point mismatch: %+v", g.Geometries[0])
	}
}

func TestDecodeRejectsSubGeometrySRID(t *testing.T) {
	var buf []byte
	buf = append(buf, 1)
	buf = append(buf, 5, 0, 0, 0) // multilinestring, no SRID
	buf = append(buf, 1, 0, 0, 0) // count = 1
	// sub-geometry with illegal SRID flag set
	buf = append(buf, 1)
	buf = append(buf, 0x02, 0x00, 0x00, 0x20) // linestring | SRID flag
	buf = append(buf, 0, 0, 0, 0)             // srid
	buf = append(buf, 0, 0, 0, 0)             // point count 0

	_, err := Decode(buf)
	if err == nil {
		t.Fatalf("expected error for sub-geometry with SRID")
	}
}

func TestDecodeTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{1, 1, 0})
	if err == nil {
		t.Fatalf("expected error on truncated input")
	}
}

func TestDecodeLengthBound(t *testing.T) {
	// Declares a huge point count in a tiny buffer.
	var buf []byte
	buf = append(buf, 1)
	buf = append(buf, 2, 0, 0, 0) // linestring
	buf = append(buf, 0xFF, 0xFF, 0xFF, 0x7F)
	_, err := Decode(buf)
	if err == nil {
		t.Fatalf("expected length-bound error")
	}
}

func TestDecodeLeftoverBytesRejected(t *testing.T) {
	g := NewPoint(1, 1, 0)
	b := Encode(g, false)
	b = append(b, 0x00)
	_, err := Decode(b)
	if err == nil {
		t.Fatalf("expected leftover-bytes error")
	}
}

func TestHexCodecRoundTrip(t *testing.T) {
	b := []byte{0x01, 0xAB, 0xFF, 0x00}
	s := EncodeHex(b)
	got, err := DecodeHex(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(b) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestHexCodecRejectsOddLength(t *testing.T) {
	if _, err := DecodeHex("abc"); err == nil {
		t.Fatalf("expected odd-length error")
	}
}

func TestHexCodecRejectsNonHex(t *testing.T) {
	if _, err := DecodeHex("zz"); err == nil {
		t.Fatalf("expected non-hex error")
	}
}

func TestLineStringPolygonRoundTrip(t *testing.T) {
	ls := Geometry{Kind: KindLineString, SRID: 4326, Points: []Point{{0, 0}, {1, 1}, {2, 2}}}
	b := Encode(ls, false)
	g, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !g.Equal(ls) {
		t.Fatalf("mismatch: %+v vs %+v", g, ls)
	}

	poly := Geometry{Kind: KindPolygon, SRID: 4326, Rings: []Ring{
		{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}},
	}}
	pb := Encode(poly, false)
	pg, err := Decode(pb)
	if err != nil {
		t.Fatalf("decode polygon: %v", err)
	}
	if !pg.Equal(poly) {
		t.Fatalf("polygon mismatch")
	}
}
