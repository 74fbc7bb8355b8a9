// Package classify maps raw failures onto the domain error taxonomy.
//
// Matching is done on the lowercased error text, first rule wins. The order of
// the rule table is significant: substrings overlap (an SSL failure may also
// mention a timeout) and the earlier, more specific rule must claim it.
package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"

	"github.com/datallboy/nzbfetch/internal/domain"
)

type rule struct {
	match func(msg string) bool
	info  domain.ErrorInfo
}

var (
	tlsEOF = domain.ErrorInfo{
		Category:        domain.CategoryTLSConnection,
		Severity:        domain.SeverityMedium,
		Retriable:       true,
		Description:     "TLS connection closed unexpectedly (EOF)",
		SuggestedAction: "Recreate TLS connection and retry",
	}
	tlsProtocol = domain.ErrorInfo{
		Category:        domain.CategoryTLSConnection,
		Severity:        domain.SeverityHigh,
		Retriable:       true,
		Description:     "TLS protocol error",
		SuggestedAction: "Try a different TLS protocol version",
	}
	tlsHandshake = domain.ErrorInfo{
		Category:        domain.CategoryTLSConnection,
		Severity:        domain.SeverityHigh,
		Retriable:       true,
		Description:     "TLS handshake failed",
		SuggestedAction: "Check TLS settings and certificates, retry with a fresh connection",
	}
	articleNotFound = domain.ErrorInfo{
		Category:        domain.CategoryNntpServer,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "Article not found (430)",
		SuggestedAction: "Skip segment, try alternative sources",
	}
	authRequired = domain.ErrorInfo{
		Category:        domain.CategoryAuthentication,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     "Authentication required (480)",
		SuggestedAction: "Check credentials and server settings",
	}
	permissionDenied = domain.ErrorInfo{
		Category:        domain.CategoryAuthentication,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     "Permission denied (502)",
		SuggestedAction: "Check account permissions",
	}
	timeout = domain.ErrorInfo{
		Category:        domain.CategoryNetwork,
		Severity:        domain.SeverityMedium,
		Retriable:       true,
		Description:     "Connection timeout",
		SuggestedAction: "Retry with exponential backoff",
	}
	dns = domain.ErrorInfo{
		Category:        domain.CategoryNetwork,
		Severity:        domain.SeverityHigh,
		Retriable:       true,
		Description:     "DNS resolution failed",
		SuggestedAction: "Check DNS settings and server hostname",
	}
	yencCRC = domain.ErrorInfo{
		Category:        domain.CategoryYencDecoding,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "yEnc CRC checksum mismatch",
		SuggestedAction: "Data corruption, try alternative source",
	}
	yencHeaders = domain.ErrorInfo{
		Category:        domain.CategoryYencDecoding,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "Missing yEnc headers (=ybegin, =yend)",
		SuggestedAction: "Invalid yEnc format, check article content",
	}
	yencIncomplete = domain.ErrorInfo{
		Category:        domain.CategoryYencDecoding,
		Severity:        domain.SeverityMedium,
		Retriable:       true,
		Description:     "Incomplete yEnc data",
		SuggestedAction: "Retry download, may be a temporary server issue",
	}
	diskSpace = domain.ErrorInfo{
		Category:        domain.CategoryFileSystem,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     "Insufficient disk space",
		SuggestedAction: "Free disk space or change download location",
	}
	fsPermission = domain.ErrorInfo{
		Category:        domain.CategoryFileSystem,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "File system permission denied",
		SuggestedAction: "Check directory permissions",
	}
	nzbInvalid = domain.ErrorInfo{
		Category:        domain.CategoryNzbFormat,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     "Invalid XML format in NZB",
		SuggestedAction: "NZB file is corrupted",
	}
	nzbEmpty = domain.ErrorInfo{
		Category:        domain.CategoryNzbFormat,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     "No files found in NZB",
		SuggestedAction: "Empty or invalid NZB file",
	}
)

func has(msg string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ssl matches both the OpenSSL style "ssl" wording and Go's "tls:" error prefix.
func ssl(msg string) bool {
	return has(msg, "ssl", "tls:")
}

var rules = []rule{
	// TLS first
	{func(m string) bool { return has(m, "ssl") && has(m, "eof") }, tlsEOF},
	{func(m string) bool { return has(m, "ssl") && has(m, "closed", "connection") }, tlsEOF},
	{func(m string) bool { return has(m, "tls") && has(m, "closed", "eof") }, tlsEOF},
	{func(m string) bool { return has(m, "_ssl.c") }, tlsEOF},
	{func(m string) bool { return ssl(m) && has(m, "protocol") }, tlsProtocol},
	{func(m string) bool { return ssl(m) || has(m, "certificate") }, tlsHandshake},

	// NNTP status codes
	{func(m string) bool { return has(m, "430", "no such article") }, articleNotFound},
	{func(m string) bool { return has(m, "480", "authentication") }, authRequired},
	{func(m string) bool { return has(m, "502", "permission denied") }, permissionDenied},

	// Network
	{func(m string) bool { return has(m, "timeout", "timed out") }, timeout},
	{func(m string) bool { return has(m, "name resolution", "dns", "no such host") }, dns},

	// yEnc
	{func(m string) bool { return has(m, "crc") }, yencCRC},
	{func(m string) bool { return has(m, "ybegin", "yend") }, yencHeaders},
	{func(m string) bool { return has(m, "incomplete", "truncated") }, yencIncomplete},

	// Filesystem
	{func(m string) bool { return has(m, "no space", "disk full") }, diskSpace},
	{func(m string) bool { return has(m, "permission") && has(m, "denied") }, fsPermission},

	// NZB format
	{func(m string) bool { return has(m, "xml") && has(m, "invalid") }, nzbInvalid},
	{func(m string) bool { return has(m, "no files", "empty") }, nzbEmpty},
}

// Classify maps err onto an ErrorInfo. An error that already carries a *domain.Error keeps its info.
// fields are merged into the returned context; neither err nor fields are modified.
func Classify(err error, fields map[string]any) domain.ErrorInfo {
	if err == nil {
		return unknown("").WithContext(fields)
	}
	if info, ok := domain.InfoOf(err); ok {
		return info.WithContext(fields)
	}

	info, ok := match(strings.ToLower(err.Error()))
	if !ok {
		info, ok = matchType(err)
	}
	if !ok {
		info = unknown(err.Error())
	}
	return info.WithContext(fields)
}

// ClassifyMessage classifies a bare error message.
func ClassifyMessage(msg string, fields map[string]any) domain.ErrorInfo {
	info, ok := match(strings.ToLower(msg))
	if !ok {
		info = unknown(msg)
	}
	return info.WithContext(fields)
}

// Wrap classifies err and attaches the result, so later layers do not reclassify it.
func Wrap(err error, fields map[string]any) error {
	if err == nil {
		return nil
	}
	return domain.NewError(Classify(err, fields), err)
}

func match(msg string) (domain.ErrorInfo, bool) {
	for _, r := range rules {
		if r.match(msg) {
			return r.info, true
		}
	}
	return domain.ErrorInfo{}, false
}

// matchType covers Go errors whose text carries none of the keywords.
func matchType(err error) (domain.ErrorInfo, bool) {
	var (
		dnsErr    *net.DNSError
		netErr    net.Error
		recordErr tls.RecordHeaderError
		certErr   *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
	)
	switch {
	case errors.Is(err, domain.ErrArticleNotFound):
		return articleNotFound, true
	case errors.As(err, &recordErr):
		return tlsProtocol, true
	case errors.As(err, &certErr), errors.As(err, &unknownCA):
		return tlsHandshake, true
	case errors.Is(err, context.DeadlineExceeded):
		return timeout, true
	case errors.As(err, &dnsErr):
		return dns, true
	case errors.As(err, &netErr) && netErr.Timeout():
		return timeout, true
	}
	return domain.ErrorInfo{}, false
}

func unknown(msg string) domain.ErrorInfo {
	msg = strings.ToLower(msg)
	if r := []rune(msg); len(r) > 100 {
		msg = string(r[:100])
	}
	return domain.ErrorInfo{
		Category:        domain.CategoryUnknown,
		Severity:        domain.SeverityMedium,
		Retriable:       true,
		Description:     "Unknown error: " + msg,
		SuggestedAction: "Generic retry with backoff",
	}
}
