package core

// streaming.go prepares spooled upload bytes for the CSV reader without
// loading the file into memory: the UTF-8 BOM is dropped and invalid UTF-8
// is replaced byte-for-byte with '?'.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NewRowReader wraps r with BOM skipping and UTF-8 sanitizing and returns a
// lenient CSV reader over it (variable field counts, lazy quotes).
func NewRowReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(NewUTF8Sanitizer(SkipBOM(r)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	return cr
}

// SkipBOM returns a reader that omits a leading UTF-8 byte order mark.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly. A
// multi-byte sequence split across reads is carried to the next read.
type UTF8Sanitizer struct {
	reader  io.Reader
	pending []byte
}

// NewUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) < utf8.UTFMax {
		// Too small to hold a carried sequence plus progress.
		buf := make([]byte, utf8.UTFMax)
		n, err := s.Read(buf)
		copied := copy(p, buf[:n])
		if copied < n {
			s.pending = append(buf[copied:n:n], s.pending...)
			err = nil
		}
		return copied, err
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}
	if isASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err != nil), err
}

// sanitize rewrites data in place and returns the number of bytes to hand
// out. Unless atEOF, an incomplete trailing sequence is kept for the next
// read.
func (s *UTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && !utf8.FullRune(data[read:]) {
				s.pending = append(s.pending, data[read:]...)
				return write
			}
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

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
