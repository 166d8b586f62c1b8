// Package sanitize screens and cleans user-supplied message text before it
// is encrypted.
package sanitize

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const DefaultMaxLength = 10000

var ErrTooLong = errors.New("sanitize: content too long")

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:.*base64`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)<object`),
	regexp.MustCompile(`(?i)<embed`),
	regexp.MustCompile(`(?i)<form`),
}

// Policy is the default sanitizer: a markdown-friendly HTML allowlist.
type Policy struct {
	maxLength int
	html      *bluemonday.Policy
}

func NewPolicy(maxLength int) *Policy {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "u", "s", "code", "pre", "blockquote",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "thead", "tbody",
		"tr", "th", "td", "hr")
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto", "tel")
	p.RequireParseableURLs(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return &Policy{maxLength: maxLength, html: p}
}

func (p *Policy) MaxLength() int { return p.maxLength }

func (p *Policy) ContainsSuspiciousContent(content string) bool {
	for _, re := range suspiciousPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// Sanitize strips disallowed markup. Empty input yields "".
func (p *Policy) Sanitize(content string) (string, error) {
	if content == "" {
		return "", nil
	}
	if utf8.RuneCountInString(content) > p.maxLength {
		return "", ErrTooLong
	}
	return p.html.Sanitize(content), nil
}

var blockedHosts = []string{"localhost", "127.0.0.1", "0.0.0.0", "::1"}

// IsSafeURL accepts http(s), mailto and tel URLs that do not point at a
// loopback host.
func IsSafeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "mailto", "tel":
	default:
		return false
	}
	host := u.Hostname()
	for _, blocked := range blockedHosts {
		if strings.Contains(host, blocked) {
			return false
		}
	}
	return true
}
