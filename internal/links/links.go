// Package links extracts target links from plain text, CSV and XLSX files.
//
// Each valid link becomes an Entry numbered in file order. Rows that cannot
// be turned into a link are reported as Skipped and never abort parsing.
package links

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// MaxLinkLength caps normalized links.
const MaxLinkLength = 2048

// ErrNoLinks is returned when a file yields no valid link.
var ErrNoLinks = errors.New("no valid links found")

// Entry is a normalized link and where it came from.
type Entry struct {
	// Index is the 1-based position among valid links.
	Index int    `json:"index"`
	Line  int    `json:"line"`
	Raw   string `json:"raw"`
	URL   string `json:"url"`
}

// Skipped is a source row that did not produce a link.
type Skipped struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Result is the outcome of parsing one links file.
type Result struct {
	Links   []Entry   `json:"links"`
	Skipped []Skipped `json:"skipped"`
}

func (r *Result) add(line int, raw string) {
	u, err := Normalize(raw)
	if err != nil {
		r.skip(line, raw, err.Error())
		return
	}
	r.Links = append(r.Links, Entry{Index: len(r.Links) + 1, Line: line, Raw: raw, URL: u})
}

func (r *Result) skip(line int, raw, reason string) {
	r.Skipped = append(r.Skipped, Skipped{Line: line, Raw: raw, Reason: reason})
}

func (r *Result) done() (*Result, error) {
	if len(r.Links) == 0 {
		return r, ErrNoLinks
	}
	return r, nil
}

// Normalize validates raw as an http or https link. A missing scheme
// defaults to https.
func Normalize(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", errors.New("link is empty")
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return "", errors.New("link contains whitespace")
	}
	if !strings.Contains(v, "://") {
		v = "https://" + v
	}
	u, err := url.ParseRequestURI(v)
	if err != nil {
		return "", fmt.Errorf("invalid link: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("only http and https links are supported")
	}
	host := u.Hostname()
	if host == "" || !(strings.ContainsAny(host, ".:") || host == "localhost") {
		return "", errors.New("link must include a valid host")
	}
	s := u.String()
	if len(s) > MaxLinkLength {
		return "", fmt.Errorf("link is too long (%d bytes)", len(s))
	}
	return s, nil
}

// looksLikeLink reports whether a table cell is worth treating as a link.
func looksLikeLink(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "www.") {
		return true
	}
	host := lower
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	dot := strings.LastIndex(host, ".")
	if dot <= 0 || dot == len(host)-1 {
		return false
	}
	for _, r := range host[dot+1:] {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

var (
	slugStrip = regexp.MustCompile(`[^a-z0-9]+`)
	maxName   = 80
)

// FileName returns the output document name for the index-th link, such as
// "007_example-com-promo.pdf". Names are ASCII and at most 80 characters.
func FileName(index int, link string) string {
	prefix := fmt.Sprintf("%03d_", index)

	var base string
	if u, err := url.Parse(link); err == nil && u.Host != "" {
		base = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") + u.EscapedPath()
	} else {
		base = strings.ToLower(link)
	}
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(base), "-"), "-")

	room := maxName - len(prefix) - len(".pdf")
	if len(slug) > room {
		slug = strings.TrimRight(slug[:room], "-")
	}
	if slug == "" {
		slug = "link"
	}
	return prefix + slug + ".pdf"
}
