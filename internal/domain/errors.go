package domain

import (
	"errors"
	"fmt"
	"maps"
)

// ErrArticleNotFound indicates a 430 response from Usenet
var ErrArticleNotFound = errors.New("article not found")

// ErrMissingMessageID is returned before any network call when a segment has no message-id
var ErrMissingMessageID = errors.New("segment has no message-id")

// ErrPoolTimeout indicates no pooled connection became available before the acquire deadline
var ErrPoolTimeout = errors.New("timeout waiting for a pooled connection")

// Category groups failures by the layer that caused them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNntpServer
	CategoryNetwork
	CategoryTLSConnection
	CategoryYencDecoding
	CategoryFileSystem
	CategoryNzbFormat
	CategoryAuthentication

	categoryCount
)

var categoryNames = [...]string{
	CategoryUnknown:        "unknown",
	CategoryNntpServer:     "nntp_server",
	CategoryNetwork:        "network",
	CategoryTLSConnection:  "tls_connection",
	CategoryYencDecoding:   "yenc_decoding",
	CategoryFileSystem:     "file_system",
	CategoryNzbFormat:      "nzb_format",
	CategoryAuthentication: "authentication",
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := CategoryUnknown; c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) String() string {
	if c < 0 || c >= categoryCount {
		return categoryNames[CategoryUnknown]
	}
	return categoryNames[c]
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// ParseCategory maps a stored category name back to its value. Unrecognised names map to CategoryUnknown.
func ParseCategory(s string) Category {
	for i, name := range categoryNames {
		if name == s {
			return Category(i)
		}
	}
	return CategoryUnknown
}

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	for v := SeverityLow; v <= SeverityCritical; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// ErrorInfo is the classified view of a failure. It is built fresh for every failure and never mutated
// after it has been attached to an Error.
type ErrorInfo struct {
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Retriable       bool           `json:"retriable"`
	Description     string         `json:"description"`
	SuggestedAction string         `json:"suggested_action"`
	Context         map[string]any `json:"context,omitempty"`
}

// WithContext returns a copy of the info whose context is the union of the existing context and fields.
func (i ErrorInfo) WithContext(fields map[string]any) ErrorInfo {
	ctx := make(map[string]any, len(i.Context)+len(fields))
	maps.Copy(ctx, i.Context)
	maps.Copy(ctx, fields)
	i.Context = ctx
	return i
}

// Error is a failure that has already been classified.
type Error struct {
	Info ErrorInfo
	Err  error
}

// NewError attaches info to err. A nil err is replaced by the info description.
func NewError(info ErrorInfo, err error) *Error {
	if err == nil {
		err = errors.New(info.Description)
	}
	return &Error{Info: info, Err: err}
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// InfoOf extracts the ErrorInfo attached to err, if any.
func InfoOf(err error) (ErrorInfo, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Info, true
	}
	return ErrorInfo{}, false
}
