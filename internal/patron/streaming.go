package patron

// streaming.go wraps the input file so the CSV reader never sees a UTF-8 BOM
// or invalid UTF-8, without loading the file into memory.

import (
	"io"
	"unicode/utf8"
)

// bomSkippingReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF), which Excel
// writes when saving "CSV UTF-8".
type bomSkippingReader struct {
	r       io.Reader
	checked bool
	head    []byte
}

func newBOMSkippingReader(r io.Reader) *bomSkippingReader {
	return &bomSkippingReader{r: r}
}

func (b *bomSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true

		var buf [3]byte
		n, err := io.ReadFull(b.r, buf[:])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return 0, err
		}
		if !(n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF) {
			b.head = append([]byte(nil), buf[:n]...)
		}
		if n < 3 && len(b.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}

	return b.r.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly. A
// multi-byte sequence split across reads is held back until it completes.
type utf8Sanitizer struct {
	r       io.Reader
	buf     []byte
	ready   []byte
	pending []byte
	err     error
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{
		r:       r,
		buf:     make([]byte, 4096),
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.ready) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		s.fill()
	}
	n := copy(p, s.ready)
	s.ready = s.ready[n:]
	return n, nil
}

func (s *utf8Sanitizer) fill() {
	n := copy(s.buf, s.pending)
	s.pending = s.pending[:0]

	m, err := s.r.Read(s.buf[n:])
	n += m
	s.err = err

	w := s.sanitize(s.buf[:n], err != nil)
	s.ready = s.buf[:w]
}

// sanitize rewrites data in place and returns how many bytes are ready.
// Unless atEOF, an incomplete trailing sequence moves to pending.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		c := data[read]
		if c < utf8.RuneSelf {
			data[write] = c
			write++
			read++
			continue
		}

		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// wrapInput applies BOM stripping then UTF-8 sanitising. Order matters: the
// BOM is valid UTF-8 and would otherwise survive sanitising.
func wrapInput(r io.Reader) io.Reader {
	return newUTF8Sanitizer(newBOMSkippingReader(r))
}
