package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/furnish/internal/kernel"
)

// Opener fetches a URL. Satisfied by the remotes in package fetch.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Listing is one row of a remote directory index.
type Listing struct {
	Name     string
	Href     string
	Modified time.Time
	Size     int64
	Dir      bool
}

// IndexScanner reads Apache-style "fancy index" directory listings, the
// format NAIF and most mission archives serve. Listings are cached by URL.
type IndexScanner struct {
	opener Opener
	cache  *lru.Cache[string, []Listing]
	logger *slog.Logger
}

// DefaultIndexCacheSize bounds the number of listings kept in memory.
const DefaultIndexCacheSize = 128

// NewIndexScanner creates a scanner caching up to size listings.
func NewIndexScanner(o Opener, size int, logger *slog.Logger) (*IndexScanner, error) {
	if size <= 0 {
		size = DefaultIndexCacheSize
	}
	cache, err := lru.New[string, []Listing](size)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexScanner{opener: o, cache: cache, logger: logger}, nil
}

// List returns the rows of the index at url.
func (s *IndexScanner) List(ctx context.Context, url string) ([]Listing, error) {
	if rows, ok := s.cache.Get(url); ok {
		return rows, nil
	}
	s.logger.Debug("reading remote index", "url", url)
	rc, err := s.opener.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", url, err)
	}
	defer rc.Close()
	rows, err := ParseIndex(rc)
	if err != nil {
		return nil, fmt.Errorf("parse index %s: %w", url, err)
	}
	s.cache.Add(url, rows)
	return rows, nil
}

// Scan lists url and returns a catalog entry for every kernel file in it.
// The modification date becomes the release date. rules, when given, fill
// in versions and families from the basename. Listed sizes are rounded,
// so they are not used for integrity checks.
func (s *IndexScanner) Scan(ctx context.Context, url string, rules Rules) ([]Entry, error) {
	rows, err := s.List(ctx, url)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(url, "/") + "/"
	var out []Entry
	for _, row := range rows {
		if row.Dir {
			continue
		}
		k := kernel.KTypeOf(row.Name)
		if k == "" {
			continue
		}
		m := kernel.Metadata{
			KType:    k,
			Released: row.Modified,
			URL:      base + row.Href,
		}
		out = append(out, Entry{Name: row.Name, Metadata: rules.Enrich(row.Name, m)})
	}
	return out, nil
}

var (
	rowPattern  = regexp.MustCompile(`^(\S+)\s+(\d{4}-\d{2}-\d{2} \d{2}:\d{2}(?::\d{2})?)\s+(\S+)`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}(?::\d{2})?$`)
)

// ParseIndex parses an Apache directory listing in either its <pre> or
// its <table> layout. Sorting links, the parent directory and rows
// without a date are skipped.
func ParseIndex(r io.Reader) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	if doc.Find("table tr td a").Length() > 0 {
		return parseTable(doc), nil
	}
	return parsePre(doc), nil
}

func parseTable(doc *goquery.Document) []Listing {
	var out []Listing
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		a := tr.Find("td a").First()
		href, ok := a.Attr("href")
		if !ok || skipHref(href, a.Text()) {
			return
		}
		var row Listing
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			text := strings.TrimSpace(td.Text())
			switch {
			case row.Modified.IsZero() && datePattern.MatchString(text):
				row.Modified, _ = kernel.ParseTime(text)
			case !row.Modified.IsZero() && row.Size == 0 && text != "":
				row.Size = parseSize(text)
			}
		})
		if row.Modified.IsZero() {
			return
		}
		row.Href = href
		row.Name = nameFromHref(href)
		row.Dir = strings.HasSuffix(href, "/")
		out = append(out, row)
	})
	return out
}

func parsePre(doc *goquery.Document) []Listing {
	hrefs := make(map[string]string)
	doc.Find("pre a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || skipHref(href, a.Text()) {
			return
		}
		hrefs[strings.TrimSpace(a.Text())] = href
	})

	var out []Listing
	started := false
	doc.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		for _, line := range strings.Split(pre.Text(), "\n") {
			if !started {
				started = strings.Contains(line, "Parent Directory")
				continue
			}
			m := rowPattern.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			href, ok := hrefs[m[1]]
			if !ok {
				href = m[1]
			}
			mod, err := kernel.ParseTime(m[2])
			if err != nil {
				continue
			}
			out = append(out, Listing{
				Name:     nameFromHref(href),
				Href:     href,
				Modified: mod,
				Size:     parseSize(m[3]),
				Dir:      strings.HasSuffix(href, "/"),
			})
		}
	})
	return out
}

func skipHref(href, text string) bool {
	return strings.HasPrefix(href, "?") || strings.HasPrefix(href, "/") ||
		strings.HasPrefix(href, "..") || strings.Contains(text, "Parent Directory")
}

func nameFromHref(href string) string {
	name := strings.TrimSuffix(href, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// parseSize reads "4.2K", "114M", "1.1G" or a plain byte count. "-" and
// unparsable sizes are zero.
func parseSize(s string) int64 {
	if s == "" || s == "-" {
		return 0
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f * mult)
}
