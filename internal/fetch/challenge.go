package fetch

import "strings"

// challengeMarkers are substrings that, combined with a blocking
// status code, mark a response as an anti-bot challenge page rather
// than real content, per spec.md §4.2.
var challengeMarkers = []string{
	"/cdn-cgi/challenge-platform/",
	"cf-challenge",
	"cf_chl_opt",
	"window._cf_chl_opt",
	"g-recaptcha",
	"hcaptcha.com",
	"challenges.cloudflare.com/turnstile",
}

// isChallengeBody reports whether body looks like a bot-challenge
// page: any fixed marker, or the "just a moment"+"cloudflare"
// combination spec.md §4.2 calls out explicitly.
func isChallengeBody(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return strings.Contains(lower, "just a moment") && strings.Contains(lower, "cloudflare")
}

// isChallengeStatus reports whether statusCode is one of the blocking
// codes that, combined with a challenge body, triggers the
// impersonation fallback (spec.md §4.2 step 4).
func isChallengeStatus(statusCode int) bool {
	switch statusCode {
	case 403, 202, 503:
		return true
	default:
		return false
	}
}
