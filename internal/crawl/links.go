package crawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
)

// crawlerTrapMarkers are path/query fragments that tend to generate
// unbounded or near-duplicate URL spaces: session identifiers,
// calendar pagination, and infinite-scroll style query params.
var crawlerTrapMarkers = []string{
	"sessionid=", "phpsessid=", "jsessionid=",
	"/calendar/", "?replytocom=",
	"?page=", "&page=",
}

const maxPathSegments = 10

// discoverLinks extracts same-site anchor hrefs from html, resolved
// against base, deduplicated and filtered for crawler traps. Anchors
// outside <body>/<head> text nodes (scripts, styles) are not walked;
// goquery's selector only ever sees element attributes.
func discoverLinks(html string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""

		if !sameSite(base.Host, resolved.Host) {
			return
		}
		if isCrawlerTrap(resolved) {
			return
		}

		normalized := resolved.String()
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	})

	return out
}

// sameSite reports whether candidate belongs to the same site as
// origin, subdomain-aware: blog.example.org and example.org are the
// same site, evil-example.org is not.
func sameSite(originHost, candidateHost string) bool {
	originHost = strings.ToLower(stripPort(originHost))
	candidateHost = strings.ToLower(stripPort(candidateHost))
	if originHost == "" || candidateHost == "" {
		return false
	}
	if originHost == candidateHost {
		return true
	}

	originApex, err1 := publicsuffix.EffectiveTLDPlusOne(originHost)
	candidateApex, err2 := publicsuffix.EffectiveTLDPlusOne(candidateHost)
	if err1 != nil || err2 != nil {
		return strings.HasSuffix(candidateHost, "."+originHost)
	}
	return originApex == candidateApex
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}

// isCrawlerTrap flags URLs matching a known trap pattern or carrying
// an unreasonably deep, repetitive path.
func isCrawlerTrap(u *url.URL) bool {
	full := strings.ToLower(u.String())
	for _, marker := range crawlerTrapMarkers {
		if strings.Contains(full, marker) {
			return true
		}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > maxPathSegments {
		return true
	}

	counts := make(map[string]int)
	for _, seg := range segments {
		counts[seg]++
		if counts[seg] >= 3 {
			return true
		}
	}
	return false
}
