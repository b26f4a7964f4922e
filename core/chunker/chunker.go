package chunker

import (
	"errors"
	"io"
)

var (
	ErrInvalidPartSize = errors.New("part size must be positive")
)

// Splitter cuts a byte stream into consecutive parts. Every part except
// possibly the last has size exactly maxPartSize; the last part has size
// in [1, maxPartSize]. A zero-length stream yields no parts.
type Splitter struct {
	r    io.Reader
	max  int64
	done bool
}

func NewSplitter(r io.Reader, maxPartSize int64) (*Splitter, error) {
	if maxPartSize <= 0 {
		return nil, ErrInvalidPartSize
	}

	return &Splitter{r: r, max: maxPartSize}, nil
}

// Next returns the next part of the stream. io.EOF signals a clean end
// of input; on the first call it means the stream was empty.
func (s *Splitter) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.max)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		return buf[:n], nil
	case err != nil:
		s.done = true
		return nil, err
	}

	return buf, nil
}

// Join concatenates parts into dst in the order given. It is the inverse
// of splitting when part boundaries and order are preserved.
func Join(dst io.Writer, parts [][]byte) (int64, error) {
	var written int64

	for _, part := range parts {
		n, err := dst.Write(part)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
