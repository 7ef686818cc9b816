package geom

import "errors"

// Error taxonomy. InvalidInput-class errors are rejected
// per-item by callers; PreconditionViolated is a programmer error the
// caller is expected to abort on. A relation over the member cap is
// logged as a warning (warnIfTooManyMembers) and still assembled; it is
// not dropped, and no function in this package returns
// ErrCapacityExceeded.
var (
	// ErrInvalidWkb covers malformed EWKB: truncated input, an out-of-range
	// length field, a sub-geometry carrying its own SRID, or an unknown
	// type/endian byte.
	ErrInvalidWkb = errors.New("geom: invalid ewkb")

	// ErrInvalidHex covers odd-length hex input or a non-hex character.
	ErrInvalidHex = errors.New("geom: invalid hex")

	// ErrPrecondition covers operations called outside their documented
	// domain, e.g. transform with a mismatched source SRID, or
	// spherical_area on a non-4326 geometry.
	ErrPrecondition = errors.New("geom: precondition violated")

	// ErrCapacityExceeded covers a relation with more than 32767 members.
	ErrCapacityExceeded = errors.New("geom: capacity exceeded")
)
