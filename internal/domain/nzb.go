package domain

// Segment represents an individual article to be fetched from Usenet.
// MessageID is stored without angle brackets.
type Segment struct {
	Number    int    `json:"number"`
	Bytes     int64  `json:"bytes"`
	MessageID string `json:"message_id"`
}

// File is one file of a manifest with its segments sorted by Number ascending.
type File struct {
	Name     string    `json:"name"`
	Subject  string    `json:"subject"`
	Poster   string    `json:"poster"`
	Groups   []string  `json:"groups"`
	Index    int       `json:"index"` // Original order in the NZB
	Segments []Segment `json:"segments"`
}

// TotalSize is the advisory size estimate: the sum of the segment byte counts.
func (f *File) TotalSize() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.Bytes
	}
	return total
}

// Manifest is the parsed form of an NZB document.
type Manifest struct {
	Title    string   `json:"title"`
	Password string   `json:"password,omitempty"`
	Files    []File   `json:"files"`
	Warnings []string `json:"warnings,omitempty"`
}

func (m *Manifest) SegmentCount() int {
	n := 0
	for i := range m.Files {
		n += len(m.Files[i].Segments)
	}
	return n
}

func (m *Manifest) TotalSize() int64 {
	var total int64
	for i := range m.Files {
		total += m.Files[i].TotalSize()
	}
	return total
}
