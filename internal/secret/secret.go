// Package secret provides a byte buffer for key material that scrubs
// itself on release and refuses to print its contents.
package secret

import "fmt"

// Bytes holds sensitive material (a private scalar, a chain code, an
// unlock key) that must never be serialized except through the two
// export blob code paths that explicitly ask for plaintext.
type Bytes struct {
	b []byte
}

// New copies src into a fresh secret buffer. The caller retains
// ownership of src.
func New(src []byte) *Bytes {
	s := &Bytes{b: make([]byte, len(src))}
	copy(s.b, src)
	return s
}

// Zero overwrites the buffer with zero bytes. Safe to call more than
// once and on a nil receiver.
func (s *Bytes) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
}

// CopyBytes replaces the buffer's contents with a copy of b, resizing
// as needed.
func (s *Bytes) CopyBytes(b []byte) {
	if len(s.b) != len(b) {
		s.Zero()
		s.b = make([]byte, len(b))
	}
	copy(s.b, b)
}

// Bytes returns a copy of the secret bytes. The caller is responsible
// for scrubbing the copy when done.
func (s *Bytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	out := make([]byte, len(s.b))
	copy(out, s.b)
	return out
}

// Len reports the length of the held secret without copying it.
func (s *Bytes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// String always redacts — secret.Bytes must never appear in a log
// line or error string.
func (s *Bytes) String() string {
	return "<redacted>"
}

// Format implements fmt.Formatter so that %v, %s, and %#v all redact,
// closing the path a careless log.Debugf("%#v", secret) would otherwise
// use to leak key material.
func (s *Bytes) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte("<redacted>"))
}
