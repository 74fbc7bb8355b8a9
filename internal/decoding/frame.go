package decoding

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

var (
	ErrHeaderNotFound  = errors.New("=ybegin header not found")
	ErrTrailerNotFound = errors.New("=yend trailer not found, article truncated")
	ErrPartOutOfRange  = errors.New("=ypart range exceeds the file size")
)

// Frame is one yEnc block as found in an article: the parsed =ybegin, =ypart and =yend lines
// plus the still encoded body between them.
type Frame struct {
	Name  string
	Line  int
	Size  int64 // size= from =ybegin, the size of the whole file
	Part  int
	Total int

	// Begin and End are the 1-based inclusive byte range from =ypart.
	HasPart bool
	Begin   int64
	End     int64

	EndSize int64 // size= from =yend, -1 when absent
	PCRC32  uint32
	HasPCRC bool
	CRC32   uint32
	HasCRC  bool

	// Raw spans the =ybegin line through the =yend line, Body only the encoded lines.
	Raw  []byte
	Body []byte

	Warnings []string
}

// ExpectedSize is the number of decoded bytes this frame should produce.
func (f *Frame) ExpectedSize() int64 {
	switch {
	case f.EndSize >= 0:
		return f.EndSize
	case f.HasPart:
		return f.End - f.Begin + 1
	default:
		return f.Size
	}
}

// MultiPart reports whether the block is one part of a larger file.
func (f *Frame) MultiPart() bool {
	return f.HasPart || f.Total > 1
}

// verifyCRC checks the part checksum when present. The whole-file crc32= is only comparable
// when the block carries the entire file.
func (f *Frame) verifyCRC(data []byte) error {
	var want uint32
	switch {
	case f.HasPCRC:
		want = f.PCRC32
	case f.HasCRC && !f.MultiPart():
		want = f.CRC32
	default:
		return nil
	}

	if got := crc32.ChecksumIEEE(data); got != want {
		return fmt.Errorf("crc32 mismatch: expected %08x, got %08x", want, got)
	}
	return nil
}

func parseFrame(raw []byte) (*Frame, error) {
	start := lineIndex(raw, 0, "=ybegin ")
	if start < 0 {
		return nil, ErrHeaderNotFound
	}

	f := &Frame{EndSize: -1}

	header, pos := readLine(raw, start)
	f.parseHeader(header)

	if next, after := readLine(raw, pos); strings.HasPrefix(next, "=ypart ") {
		f.parsePart(next)
		pos = after
	}
	if f.HasPart && f.Size > 0 && f.End > f.Size {
		return nil, fmt.Errorf("%w: %d-%d of %d", ErrPartOutOfRange, f.Begin, f.End, f.Size)
	}

	end := lineIndex(raw, pos, "=yend")
	if end < 0 {
		return nil, ErrTrailerNotFound
	}

	trailer, stop := readLine(raw, end)
	f.parseTrailer(trailer)

	f.Body = raw[pos:end]
	f.Raw = raw[start:stop]
	return f, nil
}

func (f *Frame) parseHeader(line string) {
	fields := parseFields(line, true)
	f.Name = fields["name"]
	f.Line = f.intField(fields, "line")
	f.Part = f.intField(fields, "part")
	f.Total = f.intField(fields, "total")
	f.Size = f.int64Field(fields, "size")
}

func (f *Frame) parsePart(line string) {
	fields := parseFields(line, false)
	f.Begin = f.int64Field(fields, "begin")
	f.End = f.int64Field(fields, "end")
	if f.Begin < 1 || f.End < f.Begin {
		f.Warnings = append(f.Warnings, fmt.Sprintf("ignoring invalid =ypart range %d-%d", f.Begin, f.End))
		return
	}
	f.HasPart = true
}

func (f *Frame) parseTrailer(line string) {
	fields := parseFields(line, false)
	if _, ok := fields["size"]; ok {
		f.EndSize = f.int64Field(fields, "size")
	}
	f.PCRC32, f.HasPCRC = f.crcField(fields, "pcrc32")
	f.CRC32, f.HasCRC = f.crcField(fields, "crc32")
}

func (f *Frame) intField(fields map[string]string, key string) int {
	return int(f.int64Field(fields, key))
}

func (f *Frame) int64Field(fields map[string]string, key string) int64 {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		f.Warnings = append(f.Warnings, fmt.Sprintf("ignoring invalid %s=%q", key, v))
		return 0
	}
	return n
}

func (f *Frame) crcField(fields map[string]string, key string) (uint32, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	// Some posters pad or prefix the value
	v = strings.TrimPrefix(strings.ToLower(v), "0x")
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		f.Warnings = append(f.Warnings, fmt.Sprintf("ignoring invalid %s=%q", key, v))
		return 0, false
	}
	return uint32(n), true
}

// parseFields splits "key=value" tokens. name= runs to the end of the line since file names may
// contain spaces.
func parseFields(line string, withName bool) map[string]string {
	fields := make(map[string]string)
	if withName {
		if i := strings.Index(line, " name="); i >= 0 {
			fields["name"] = strings.TrimSpace(line[i+len(" name="):])
			line = line[:i]
		}
	}
	for _, tok := range strings.Fields(line) {
		if k, v, ok := strings.Cut(tok, "="); ok && k != "" {
			fields[k] = v
		}
	}
	return fields
}

// lineIndex returns the offset of the first line at or after from that starts with prefix.
func lineIndex(raw []byte, from int, prefix string) int {
	if from > len(raw) {
		return -1
	}
	if bytes.HasPrefix(raw[from:], []byte(prefix)) {
		return from
	}
	i := bytes.Index(raw[from:], []byte("\n"+prefix))
	if i < 0 {
		return -1
	}
	return from + i + 1
}

// readLine returns the line starting at pos without its terminator, and the offset of the next line.
func readLine(raw []byte, pos int) (string, int) {
	if pos >= len(raw) {
		return "", len(raw)
	}
	rest := raw[pos:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return strings.TrimRight(string(rest), "\r"), len(raw)
	}
	return strings.TrimRight(string(rest[:i]), "\r"), pos + i + 1
}
