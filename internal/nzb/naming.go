package nzb

import (
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reYenc     = regexp.MustCompile(`(?i)\s+yenc.*$`)
	reCounters = regexp.MustCompile(`\[\d+/\d+\]|\(\d+/\d+\)`)
	reQuoted   = regexp.MustCompile(`"([^"]+)"`)
	badChars   = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)
)

// nameFromSubject extracts a file name from a Usenet subject line such as
// `[01/15] - "Some.File.part01.rar" yEnc (1/42)`.
func nameFromSubject(subject string) string {
	res := html.UnescapeString(subject)

	// Pattern A: contents inside double quotes
	if m := reQuoted.FindStringSubmatch(res); m != nil {
		return sanitize(m[1])
	}

	// Pattern B: strip the yEnc suffix and part counters
	res = reYenc.ReplaceAllString(res, "")
	res = reCounters.ReplaceAllString(res, "")
	res = strings.Trim(res, " -\t")
	return sanitize(res)
}

// sanitize removes OS-illegal characters and path components.
func sanitize(name string) string {
	res := badChars.ReplaceAllString(name, "_")
	res = strings.TrimSpace(res)
	if res == "." || res == ".." {
		return ""
	}
	return res
}

type nameSet map[string]int

func newNameSet() nameSet { return make(nameSet) }

// unique returns name, or name with a " (n)" suffix before the extension if it was already used.
func (s nameSet) unique(name string) string {
	key := strings.ToLower(name)
	s[key]++
	if s[key] == 1 {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := s[key]; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, taken := s[strings.ToLower(candidate)]; !taken {
			s[strings.ToLower(candidate)] = 1
			return candidate
		}
	}
}
