package decoding

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ManualStrategy decodes byte by byte in pure Go. It is the fallback when the native decoder
// is unavailable or produced data that failed verification.
type ManualStrategy struct{}

func (ManualStrategy) Name() string { return "manual" }

func (ManualStrategy) Decode(f *Frame) ([]byte, error) {
	size := f.ExpectedSize()
	if size < 0 || size > int64(len(f.Body)) {
		size = int64(len(f.Body))
	}

	out := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(out, newBodyReader(bytes.NewReader(f.Body))); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// bodyReader streams the decoded form of yEnc body lines. The =yend line must already be cut off.
type bodyReader struct {
	scanner *bufio.Reader
	escaped bool // State: was the previous byte '='?
}

func newBodyReader(r io.Reader) *bodyReader {
	return &bodyReader{scanner: bufio.NewReader(r)}
}

func (d *bodyReader) Read(p []byte) (n int, err error) {
	for n < len(p) {
		b, err := d.scanner.ReadByte()
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if err != nil {
			return n, err
		}

		if b == '\r' || b == '\n' {
			// Line breaks are never data; a dangling escape at end of line is dropped
			d.escaped = false
			continue
		}

		if b == '=' && !d.escaped {
			d.escaped = true
			continue
		}

		if d.escaped {
			p[n] = b - 64 - 42
			d.escaped = false
		} else {
			p[n] = b - 42
		}
		n++
	}

	return n, nil
}
