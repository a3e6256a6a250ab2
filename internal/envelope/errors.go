package envelope

import "errors"

// Kind classifies an envelope failure.
type Kind int

const (
	// KindEncryption means the key or the random source failed while sealing.
	KindEncryption Kind = iota + 1
	// KindDecryption means the authentication tag did not verify.
	KindDecryption
	// KindEncoding means the recovered plaintext is not valid UTF-8.
	KindEncoding
	// KindInvalidData means the envelope is not base64 or is too short.
	KindInvalidData
)

// Sentinels for errors.Is matching against a *Fault.
var (
	ErrEncryption  = errors.New("envelope: encryption failed")
	ErrDecryption  = errors.New("envelope: decryption failed")
	ErrEncoding    = errors.New("envelope: plaintext is not valid text")
	ErrInvalidData = errors.New("envelope: invalid data")
)

func (k Kind) String() string {
	switch k {
	case KindEncryption:
		return "encryption"
	case KindDecryption:
		return "decryption"
	case KindEncoding:
		return "encoding"
	case KindInvalidData:
		return "invalid_data"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindEncryption:
		return ErrEncryption
	case KindDecryption:
		return ErrDecryption
	case KindEncoding:
		return ErrEncoding
	case KindInvalidData:
		return ErrInvalidData
	default:
		return nil
	}
}

// Fault is returned by Codec operations. Err carries the underlying cause
// and may be nil.
type Fault struct {
	Kind Kind
	Err  error
}

func newFault(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

func (f *Fault) Error() string {
	msg := f.Kind.sentinel()
	if msg == nil {
		msg = errors.New("envelope: unknown fault")
	}
	if f.Err == nil {
		return msg.Error()
	}
	return msg.Error() + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is reports whether target is the sentinel for this fault's kind.
func (f *Fault) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

// KindOf returns the Kind of the first *Fault in err's chain, or 0.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}
