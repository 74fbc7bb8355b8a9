package decoding

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mnightingale/rapidyenc"
)

// RapidStrategy decodes with the SIMD accelerated rapidyenc library.
type RapidStrategy struct{}

func (RapidStrategy) Name() string { return "rapidyenc" }

func (RapidStrategy) Decode(f *Frame) ([]byte, error) {
	dec := rapidyenc.AcquireDecoder(bytes.NewReader(wireForm(f.Raw)))
	defer rapidyenc.ReleaseDecoder(dec)

	size := f.ExpectedSize()
	if size < 0 {
		size = 0
	}
	out := bytes.NewBuffer(make([]byte, 0, size))

	if _, err := io.Copy(out, dec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("rapidyenc: %w", err)
	}
	return out.Bytes(), nil
}

// wireForm rebuilds what the server sent: CRLF line endings, dot-stuffed lines and the
// terminating dot line. The native decoder works on the raw NNTP stream.
func wireForm(raw []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(raw) + 64)

	for len(raw) > 0 {
		line := raw
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			raw = nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) > 0 && line[0] == '.' {
			buf.WriteByte('.')
		}
		buf.Write(line)
		buf.WriteString("\r\n")
	}
	buf.WriteString(".\r\n")
	return buf.Bytes()
}
