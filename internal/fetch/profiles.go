package fetch

import "time"

// Profile is one browser-impersonation preset tried in order when the
// default client is challenged or blocked, per spec.md §4.2 step 5.
type Profile struct {
	Name       string
	Headers    map[string]string
	UseBrowser bool // last-resort: drive a real headless browser via chromedp
}

// betweenProfileSleep is the short fixed pause spec.md §4.2 step 5
// requires between impersonation attempts.
const betweenProfileSleep = 500 * time.Millisecond

// defaultProfileName is used for the initial, non-impersonated attempt
// and as the key CrawlState records when no impersonation was needed.
const defaultProfileName = "default"

// profiles is the fixed, ordered impersonation list. Real desktop
// browser header sets first (cheapest, most likely to pass a naive
// bot check), headless chromedp last (slowest, but gets past
// JS-gated challenges the others can't).
var profiles = []Profile{
	{
		Name: "chrome-desktop",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
			"sec-ch-ua":       `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
			"sec-ch-ua-mobile": "?0",
			"Connection":      "keep-alive",
		},
	},
	{
		Name: "safari-macos",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
			"Connection":      "keep-alive",
		},
	},
	{
		Name:       "headless-browser",
		UseBrowser: true,
	},
}

// requestHeaders returns the default (non-impersonated) request
// headers, grounded on the teacher's fetcher.requestHeaders.
func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}

// profileByName looks up a learned profile by name; ok is false for
// the synthetic default profile or an unrecognized name.
func profileByName(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
