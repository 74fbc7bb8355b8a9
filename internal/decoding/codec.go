// Package decoding turns yEnc encoded article bodies back into binary data.
package decoding

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

// Strategy is one way of decoding a parsed frame. The codec tries its strategies in order
// until one yields data that passes verification.
type Strategy interface {
	Name() string
	Decode(f *Frame) ([]byte, error)
}

// DefaultStrategies prefers the native decoder and falls back to pure Go.
func DefaultStrategies() []Strategy {
	return []Strategy{RapidStrategy{}, ManualStrategy{}}
}

// Part is the decoded result of one article.
type Part struct {
	Name     string
	FileSize int64
	Number   int
	Total    int
	Begin    int64 // 1-based inclusive, 0 without =ypart
	End      int64
	Data     []byte
	Strategy string
	Warnings []string
}

// Offset is the zero-based position of Data within the file, -1 when the article carried no =ypart.
func (p *Part) Offset() int64 {
	if p.Begin < 1 {
		return -1
	}
	return p.Begin - 1
}

type Codec struct {
	strict     bool
	strategies []Strategy
	log        *logger.Logger
}

type Option func(*Codec)

// WithStrict turns a decoded size mismatch into a failure instead of a warning.
func WithStrict(strict bool) Option {
	return func(c *Codec) { c.strict = strict }
}

func WithStrategies(s ...Strategy) Option {
	return func(c *Codec) { c.strategies = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Codec) { c.log = l }
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		strategies: DefaultStrategies(),
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.strategies) == 0 {
		c.strategies = []Strategy{ManualStrategy{}}
	}
	return c
}

// Decode parses the yEnc block in raw and decodes it. raw may be a whole article including
// NNTP headers; everything before the =ybegin line is ignored.
func (c *Codec) Decode(raw []byte) (*Part, error) {
	raw = normalizeEscapes(raw)

	f, err := parseFrame(raw)
	if errors.Is(err, ErrPartOutOfRange) {
		return nil, domain.NewError(domain.ErrorInfo{
			Category:        domain.CategoryYencDecoding,
			Severity:        domain.SeverityHigh,
			Retriable:       false,
			Description:     "yEnc part lies outside the file",
			SuggestedAction: "Data corruption, try alternative source",
		}, err)
	}
	if err != nil {
		return nil, err
	}

	expected := f.ExpectedSize()
	var (
		data    []byte
		used    string
		lastErr error
	)
	for i, s := range c.strategies {
		last := i == len(c.strategies)-1

		out, err := s.Decode(f)
		if err == nil {
			err = f.verifyCRC(out)
		}
		if err == nil && !last && expected > 0 && int64(len(out)) != expected {
			err = fmt.Errorf("decoded %d bytes, expected %d", len(out), expected)
		}
		if err != nil {
			lastErr = err
			if !last {
				c.log.Debug("[yEnc] %s decoder rejected %q: %v", s.Name(), f.Name, err)
			}
			continue
		}

		data, used = out, s.Name()
		break
	}
	if used == "" {
		return nil, lastErr
	}

	part := &Part{
		Name:     f.Name,
		FileSize: f.Size,
		Number:   f.Part,
		Total:    f.Total,
		Data:     data,
		Strategy: used,
		Warnings: f.Warnings,
	}
	if f.HasPart {
		part.Begin, part.End = f.Begin, f.End
	}

	if expected >= 0 && int64(len(data)) != expected {
		msg := fmt.Sprintf("decoded size mismatch: got %d bytes, header announced %d", len(data), expected)
		if c.strict {
			return nil, domain.NewError(domain.ErrorInfo{
				Category:        domain.CategoryYencDecoding,
				Severity:        domain.SeverityHigh,
				Retriable:       false,
				Description:     "yEnc decoded size mismatch",
				SuggestedAction: "Data corruption, try alternative source",
				Context:         map[string]any{"name": f.Name, "got": len(data), "expected": expected},
			}, errors.New(msg))
		}
		c.log.Warn("[yEnc] %s: %s", f.Name, msg)
		part.Warnings = append(part.Warnings, msg)
	}

	return part, nil
}

var (
	escapedLF = []byte(`\n`)
	escapedCR = []byte(`\r`)
	escapedHT = []byte(`\t`)
)

// normalizeEscapes undoes producers that hand over article text with literal "\n" sequences.
// Input that already has real line feeds is binary safe and left alone.
func normalizeEscapes(raw []byte) []byte {
	if bytes.IndexByte(raw, '\n') >= 0 || !bytes.Contains(raw, escapedLF) {
		return raw
	}
	raw = bytes.ReplaceAll(raw, escapedLF, []byte("\n"))
	raw = bytes.ReplaceAll(raw, escapedCR, []byte("\r"))
	raw = bytes.ReplaceAll(raw, escapedHT, []byte("\t"))
	return raw
}
