// Package nzb parses NZB manifests into the domain model.
package nzb

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/datallboy/nzbfetch/internal/domain"
)

type Parser struct {
	now func() time.Time
}

type Option func(*Parser)

// WithClock replaces time.Now for placeholder names.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes an NZB document. sourceName is the name of the .nzb file it came from and may be empty.
// Structural problems are returned as *domain.Error in the NzbFormat category; recoverable oddities
// end up in Manifest.Warnings.
func (p *Parser) Parse(data []byte, sourceName string) (*domain.Manifest, error) {
	data = normalizeEscapes(data)

	var doc document
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, invalidXML(err)
	}

	if len(doc.Files) == 0 {
		return nil, formatError("no files found in NZB", "No files found in NZB", nil)
	}

	m := &domain.Manifest{
		Password: strings.TrimSpace(doc.meta("password")),
		Files:    make([]domain.File, 0, len(doc.Files)),
	}

	title := strings.TrimSpace(doc.meta("title"))
	base := baseName(sourceName)
	names := newNameSet()
	withSegments := 0

	for i, raw := range doc.Files {
		f := domain.File{
			Subject: raw.Subject,
			Poster:  raw.Poster,
			Groups:  raw.Groups,
			Index:   i,
		}

		segs, warnings, err := p.segments(i, raw.Segments)
		if err != nil {
			return nil, err
		}
		f.Segments = segs
		m.Warnings = append(m.Warnings, warnings...)

		if len(segs) == 0 {
			m.Warnings = append(m.Warnings, fmt.Sprintf("file %d (%q) has no segments", i, raw.Subject))
		} else {
			withSegments++
		}

		name := ""
		if title != "" && len(doc.Files) == 1 {
			name = sanitize(title)
		}
		if name == "" {
			name = nameFromSubject(raw.Subject)
		}
		if name == "" {
			name = sanitize(base)
		}
		if name == "" {
			name = p.placeholder()
		}
		f.Name = names.unique(name)

		m.Files = append(m.Files, f)
	}

	if withSegments == 0 {
		return nil, formatError("no segments found in any file", "NZB files are empty", nil)
	}

	m.Title = p.title(title, m.Files, base)
	return m, nil
}

// Title returns the display name of an NZB without building the full manifest.
func (p *Parser) Title(data []byte, sourceName string) string {
	m, err := p.Parse(data, sourceName)
	if err != nil {
		if b := baseName(sourceName); b != "" {
			return b
		}
		return p.placeholder()
	}
	return m.Title
}

func (p *Parser) segments(fileIndex int, raw []segment) ([]domain.Segment, []string, error) {
	var warnings []string
	seen := make(map[int]bool, len(raw))
	out := make([]domain.Segment, 0, len(raw))

	for _, s := range raw {
		number := 1
		if s.Number == nil {
			warnings = append(warnings, fmt.Sprintf("file %d: segment without number, assuming 1", fileIndex))
		} else {
			n, err := strconv.Atoi(strings.TrimSpace(*s.Number))
			if err != nil || n < 1 {
				return nil, nil, formatError(
					fmt.Sprintf("invalid xml segment number %q in file %d", *s.Number, fileIndex),
					"Invalid segment number in NZB", nil)
			}
			number = n
		}

		var size int64
		if s.Bytes != nil {
			n, err := strconv.ParseInt(strings.TrimSpace(*s.Bytes), 10, 64)
			if err != nil || n < 0 {
				warnings = append(warnings, fmt.Sprintf("file %d: invalid segment size %q", fileIndex, *s.Bytes))
			} else {
				size = n
			}
		}

		if seen[number] {
			return nil, nil, formatError(
				fmt.Sprintf("invalid xml: duplicate segment number %d in file %d", number, fileIndex),
				"Duplicate segment number in NZB", map[string]any{"file": fileIndex, "segment": number})
		}
		seen[number] = true

		id := strings.TrimSpace(s.MessageID)
		id = strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
		if id == "" {
			warnings = append(warnings, fmt.Sprintf("file %d: segment %d has no message-id", fileIndex, number))
		}

		out = append(out, domain.Segment{Number: number, Bytes: size, MessageID: id})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, warnings, nil
}

func (p *Parser) title(meta string, files []domain.File, base string) string {
	if meta != "" {
		return meta
	}
	for _, f := range files {
		if n := nameFromSubject(f.Subject); n != "" {
			return n
		}
	}
	if base != "" {
		return base
	}
	return p.placeholder()
}

func (p *Parser) placeholder() string {
	return "NZB " + p.now().Format("15-04-05")
}

func baseName(source string) string {
	b := filepath.Base(strings.TrimSpace(source))
	if b == "." || b == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(b, filepath.Ext(b)))
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

func invalidXML(err error) error {
	var syntaxErr *xml.SyntaxError
	desc := "Invalid XML format in NZB"
	if !errors.As(err, &syntaxErr) && strings.Contains(err.Error(), "expected element type") {
		desc = "Root element is not 'nzb'"
	}
	return domain.NewError(domain.ErrorInfo{
		Category:        domain.CategoryNzbFormat,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     desc,
		SuggestedAction: "NZB file is corrupted",
	}, fmt.Errorf("invalid xml: %w", err))
}

func formatError(msg, desc string, fields map[string]any) error {
	return domain.NewError(domain.ErrorInfo{
		Category:        domain.CategoryNzbFormat,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     desc,
		SuggestedAction: "Empty or invalid NZB file",
		Context:         fields,
	}, errors.New(msg))
}

var (
	escapedLF = []byte(`\n`)
	escapedCR = []byte(`\r`)
	escapedHT = []byte(`\t`)
)

// normalizeEscapes repairs documents whose line breaks arrived as literal "\n" sequences.
func normalizeEscapes(data []byte) []byte {
	if bytes.IndexByte(data, '\n') >= 0 || !bytes.Contains(data, escapedLF) {
		return data
	}
	data = bytes.ReplaceAll(data, escapedLF, []byte("\n"))
	data = bytes.ReplaceAll(data, escapedCR, []byte("\r"))
	data = bytes.ReplaceAll(data, escapedHT, []byte("\t"))
	return data
}
