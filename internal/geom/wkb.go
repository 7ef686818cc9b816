package geom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes g as EWKB. With ensureMulti true, a singular geometry
// (point/linestring/polygon) is wrapped in the corresponding multi of
// length 1 before encoding. A null geometry encodes to an empty slice.
func Encode(g Geometry, ensureMulti bool) []byte {
	if g.IsNull() {
		return nil
	}
	if ensureMulti {
		if multi, ok := wrapMulti(g); ok {
			g = multi
		}
	}
	var buf bytes.Buffer
	encodeGeometry(&buf, g, true)
	return buf.Bytes()
}

func wrapMulti(g Geometry) (Geometry, bool) {
	switch g.Kind {
	case KindPoint:
		return Geometry{Kind: KindMultiPoint, SRID: g.SRID, Geometries: []Geometry{g.WithSRID(0)}}, true
	case KindLineString:
		return Geometry{Kind: KindMultiLineString, SRID: g.SRID, Geometries: []Geometry{g.WithSRID(0)}}, true
	case KindPolygon:
		return Geometry{Kind: KindMultiPolygon, SRID: g.SRID, Geometries: []Geometry{g.WithSRID(0)}}, true
	default:
		return g, false
	}
}

// encodeGeometry writes g's endian byte, type code, optional SRID, and
// body. withSRID controls whether g.SRID (if non-zero) is emitted — it is
// true only at the top level; sub-geometries inside multi/collection
// bodies are always encoded with withSRID=false.
func encodeGeometry(buf *bytes.Buffer, g Geometry, withSRID bool) {
	buf.WriteByte(1) // little-endian, always native on the targets this runs on

	wt, ok := kindToWKBType(g.Kind)
	if !ok {
		panic(fmt.Sprintf("geom: cannot encode kind %v", g.Kind))
	}
	typeCode := uint32(wt)
	hasSRID := withSRID && g.SRID != 0
	if hasSRID {
		typeCode |= wkbSRIDFlag
	}
	writeUint32(buf, typeCode)
	if hasSRID {
		writeUint32(buf, uint32(g.SRID))
	}

	switch g.Kind {
	case KindPoint:
		writeFloat64(buf, g.X)
		writeFloat64(buf, g.Y)
	case KindLineString:
		writePointList(buf, g.Points)
	case KindPolygon:
		writeUint32(buf, uint32(len(g.Rings)))
		for _, r := range g.Rings {
			writePointList(buf, []Point(r))
		}
	case KindMultiPoint, KindMultiLineString, KindMultiPolygon, KindCollection:
		writeUint32(buf, uint32(len(g.Geometries)))
		for _, sub := range g.Geometries {
			encodeGeometry(buf, sub, false)
		}
	}
}

func writePointList(buf *bytes.Buffer, pts []Point) {
	writeUint32(buf, uint32(len(pts)))
	for _, p := range pts {
		writeFloat64(buf, p.X)
		writeFloat64(buf, p.Y)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

// decoder walks an EWKB byte slice, enforcing a parser-safety bound:
// any declared length may not exceed len(input)/16, and every read is
// checked against remaining input.
type decoder struct {
	data      []byte
	pos       int
	maxLength int
}

// Decode parses EWKB bytes into a Geometry. An empty input decodes to
// Null. Leftover bytes after a complete top-level parse are an error.
func Decode(b []byte) (Geometry, error) {
	if len(b) == 0 {
		return Null, nil
	}
	d := &decoder{data: b, maxLength: len(b) / 16}
	g, err := d.readGeometry(true)
	if err != nil {
		return Geometry{}, err
	}
	if d.pos != len(d.data) {
		return Geometry{}, fmt.Errorf("%w: %d leftover bytes after top-level geometry", ErrInvalidWkb, len(d.data)-d.pos)
	}
	return g, nil
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w: truncated input", ErrInvalidWkb)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readUint32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated input", ErrInvalidWkb)
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) readFloat64() (float64, error) {
	if d.pos+8 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated input", ErrInvalidWkb)
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(d.data[d.pos : d.pos+8]))
	d.pos += 8
	return v, nil
}

func (d *decoder) readLength() (int, error) {
	n, err := d.readUint32()
	if err != nil {
		return 0, err
	}
	if int(n) > d.maxLength {
		return 0, fmt.Errorf("%w: declared length %d exceeds bound %d", ErrInvalidWkb, n, d.maxLength)
	}
	return int(n), nil
}

// readGeometry reads one full sub-geometry: endian byte, type code,
// optional SRID (only if allowSRID), then body. A sub-geometry that
// carries the SRID flag while allowSRID is false is a parse error
//.
func (d *decoder) readGeometry(allowSRID bool) (Geometry, error) {
	endian, err := d.readByte()
	if err != nil {
		return Geometry{}, err
	}
	if endian != 1 {
		return Geometry{}, fmt.Errorf("%w: non-native endianness byte %d", ErrInvalidWkb, endian)
	}

	typeCode, err := d.readUint32()
	if err != nil {
		return Geometry{}, err
	}
	hasSRID := typeCode&wkbSRIDFlag != 0
	if hasSRID && !allowSRID {
		return Geometry{}, fmt.Errorf("%w: sub-geometry carries an SRID", ErrInvalidWkb)
	}
	wt := wkbType(typeCode &^ wkbSRIDFlag)
	kind, ok := wkbTypeToKind(wt)
	if !ok {
		return Geometry{}, fmt.Errorf("%w: unknown type code %d", ErrInvalidWkb, wt)
	}

	var srid int32
	if hasSRID {
		v, err := d.readUint32()
		if err != nil {
			return Geometry{}, err
		}
		srid = int32(v)
	}

	switch kind {
	case KindPoint:
		x, err := d.readFloat64()
		if err != nil {
			return Geometry{}, err
		}
		y, err := d.readFloat64()
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Kind: KindPoint, SRID: srid, X: x, Y: y}, nil

	case KindLineString:
		pts, err := d.readPointList()
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Kind: KindLineString, SRID: srid, Points: pts}, nil

	case KindPolygon:
		ringCount, err := d.readLength()
		if err != nil {
			return Geometry{}, err
		}
		if ringCount < 1 {
			return Geometry{}, fmt.Errorf("%w: polygon has zero rings", ErrInvalidWkb)
		}
		rings := make([]Ring, ringCount)
		for i := 0; i < ringCount; i++ {
			pts, err := d.readPointList()
			if err != nil {
				return Geometry{}, err
			}
			if len(pts) < 4 {
				return Geometry{}, fmt.Errorf("%w: ring has fewer than 4 points", ErrInvalidWkb)
			}
			rings[i] = Ring(pts)
		}
		return Geometry{Kind: KindPolygon, SRID: srid, Rings: rings}, nil

	case KindMultiPoint, KindMultiLineString, KindMultiPolygon, KindCollection:
		count, err := d.readLength()
		if err != nil {
			return Geometry{}, err
		}
		if count == 0 {
			// An empty multi decodes to null.
			return Null, nil
		}
		subs := make([]Geometry, count)
		for i := 0; i < count; i++ {
			sub, err := d.readGeometry(false)
			if err != nil {
				return Geometry{}, err
			}
			subs[i] = sub
		}
		return Geometry{Kind: kind, SRID: srid, Geometries: subs}, nil

	default:
		return Geometry{}, fmt.Errorf("%w: unsupported kind", ErrInvalidWkb)
	}
}

func (d *decoder) readPointList() ([]Point, error) {
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}
	pts := make([]Point, n)
	for i := 0; i < n; i++ {
		x, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		y, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		pts[i] = Point{X: x, Y: y}
	}
	return pts, nil
}
