package readability

import (
	"fmt"
	"strings"
)

// antiBotMarkers are fragments of interstitial pages served instead of content.
var antiBotMarkers = []string{
	"cf-browser-verification",
	"cf-challenge",
	"challenges.cloudflare.com",
	"attention required! | cloudflare",
	"just a moment...",
	"checking your browser before accessing",
	"px-captcha",
	"perimeterx",
	"captcha-delivery.com",
	"datadome",
	"g-recaptcha",
	"h-captcha",
	"please enable js and disable any ad blocker",
	"access to this page has been denied",
	"are you a robot",
}

// DetectBlock returns a reason when the response looks like a block page, or "".
func DetectBlock(statusCode int, body []byte) string {
	if statusCode < 200 || statusCode > 299 {
		return fmt.Sprintf("status %d", statusCode)
	}
	// Markers live near the top of challenge pages; avoid scanning huge documents.
	head := body
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	lower := strings.ToLower(string(head))
	for _, marker := range antiBotMarkers {
		if strings.Contains(lower, marker) {
			return "anti-bot marker " + marker
		}
	}
	return ""
}
