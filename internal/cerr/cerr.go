// Package cerr defines the error taxonomy shared by every conversion stage.
package cerr

import "fmt"

// Kind classifies a conversion failure so callers can branch on it without
// string matching.
type Kind int

const (
	// EEncoding: a field exceeded its packed width, a string length was
	// inconsistent, or a variant tag was unknown.
	EEncoding Kind = iota
	// EChecksum: a stored hash did not match the recomputed one.
	EChecksum
	// EMissing: an expected section offset/length was zero or out of range,
	// or an expected chunk id was not present.
	EMissing
	// ECrypto: key length wrong, AES block error, or an unavailable
	// encryption path.
	ECrypto
	// ECompression: decoder returned a size other than recorded, unknown
	// method name, or the Oodle FFI is unavailable when needed.
	ECompression
	// ESchema: a property decoded with unknown type or mismatched size
	// against the mappings schema.
	ESchema
	// EInvariant: a structural invariant from the data model was violated
	// during parse.
	EInvariant
)

func (k Kind) String() string {
	switch k {
	case EEncoding:
		return "EEncoding"
	case EChecksum:
		return "EChecksum"
	case EMissing:
		return "EMissing"
	case ECrypto:
		return "ECrypto"
	case ECompression:
		return "ECompression"
	case ESchema:
		return "ESchema"
	case EInvariant:
		return "EInvariant"
	default:
		return "EUnknown"
	}
}

// Error is a taxonomy-tagged error. Wrap with fmt.Errorf("%w", ...) chains
// where more context is needed; Is/As work against the Kind via errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%s", msg)}
}

// Wrap attaches a taxonomy Kind to an existing error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
