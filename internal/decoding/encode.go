package decoding

import (
	"bytes"
	"fmt"
	"hash/crc32"
)

// EncodeOptions describes the yEnc block Encode produces. A zero Begin yields a single-part block.
type EncodeOptions struct {
	Name       string
	FileSize   int64
	Part       int
	Total      int
	Begin      int64 // 1-based offset of data within the file
	LineLength int
}

// Encode yEnc encodes data into a complete block with CRLF line endings.
func Encode(data []byte, opts EncodeOptions) []byte {
	if opts.LineLength <= 0 {
		opts.LineLength = 128
	}
	if opts.FileSize == 0 {
		opts.FileSize = int64(len(data))
	}
	multi := opts.Begin > 0

	var buf bytes.Buffer
	buf.Grow(len(data) + len(data)/opts.LineLength*3 + 256)

	if multi {
		fmt.Fprintf(&buf, "=ybegin part=%d total=%d line=%d size=%d name=%s\r\n",
			opts.Part, opts.Total, opts.LineLength, opts.FileSize, opts.Name)
		fmt.Fprintf(&buf, "=ypart begin=%d end=%d\r\n", opts.Begin, opts.Begin+int64(len(data))-1)
	} else {
		fmt.Fprintf(&buf, "=ybegin line=%d size=%d name=%s\r\n", opts.LineLength, opts.FileSize, opts.Name)
	}

	col := 0
	for i, b := range data {
		enc := b + 42
		lineEdge := col == 0 || col+1 >= opts.LineLength || i == len(data)-1

		escape := false
		switch enc {
		case 0x00, '\n', '\r', '=':
			escape = true
		case '\t', ' ':
			escape = lineEdge
		case '.':
			escape = col == 0
		}

		if escape {
			buf.WriteByte('=')
			buf.WriteByte(enc + 64)
			col += 2
		} else {
			buf.WriteByte(enc)
			col++
		}

		if col >= opts.LineLength {
			buf.WriteString("\r\n")
			col = 0
		}
	}
	if col > 0 {
		buf.WriteString("\r\n")
	}

	sum := crc32.ChecksumIEEE(data)
	if multi {
		fmt.Fprintf(&buf, "=yend size=%d part=%d pcrc32=%08x\r\n", len(data), opts.Part, sum)
	} else {
		fmt.Fprintf(&buf, "=yend size=%d crc32=%08x\r\n", len(data), sum)
	}
	return buf.Bytes()
}
