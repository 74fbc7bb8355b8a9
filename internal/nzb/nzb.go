package nzb

import "encoding/xml"

// Tags carry no namespace, so both plain and newzbin-namespaced documents match.
type document struct {
	XMLName xml.Name `xml:"nzb"`
	Head    head     `xml:"head"`
	Files   []file   `xml:"file"`
}

type head struct {
	Metas []meta `xml:"meta"`
}

type meta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type file struct {
	Subject  string    `xml:"subject,attr"`
	Poster   string    `xml:"poster,attr"`
	Groups   []string  `xml:"groups>group"`
	Segments []segment `xml:"segments>segment"`
}

// Attributes stay strings so a missing or malformed value can be reported instead of failing the decode.
type segment struct {
	Number    *string `xml:"number,attr"`
	Bytes     *string `xml:"bytes,attr"`
	MessageID string  `xml:",chardata"`
}

func (d *document) meta(kind string) string {
	for _, m := range d.Head.Metas {
		if m.Type == kind {
			return m.Value
		}
	}
	return ""
}
