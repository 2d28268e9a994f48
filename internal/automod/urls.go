package automod

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var (
	urlRegex    = regexp.MustCompile(`(?i)\bhttps?://[\w_-]+(?:\.[\w_-]+)+[\w.,@?^=%&:/~+#-]*`)
	inviteRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:discord\.(?:gg|io|me|li)|discordapp\.com/invite)/[^\s/]+`)
	// A markdown hyperlink whose visible text is itself a domain, hiding
	// the real destination.
	fakeHyperlinkRegex = regexp.MustCompile(`\[\S*?\.\S{2,63}\]\((?:https?)://\S+?\)`)
)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

func ContainsInvite(content string) bool {
	return inviteRegex.MatchString(content)
}

func ContainsFakeHyperlink(content string) bool {
	return fakeHyperlinkRegex.MatchString(content)
}

// NormalizeURL canonicalizes a raw URL for caching and list lookup:
// lowercased punycode host, fragment and credentials dropped, tracking
// parameters stripped, query keys sorted. Returns the normalized URL and
// its host.
func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
