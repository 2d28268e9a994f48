package automod

import (
	"reflect"
	"testing"
)

func TestExtractURLs(t *testing.T) {
	content := "see https://example.com/a and HTTP://other.test/b?x=1 but not example.org"
	got := ExtractURLs(content)
	want := []string{"https://example.com/a", "HTTP://other.test/b?x=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestContainsInvite(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"join discord.gg/abc", true},
		{"https://discord.gg/abc", true},
		{"www.discordapp.com/invite/xyz", true},
		{"discord.io/server", true},
		{"we talked about discord yesterday", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ContainsInvite(tc.content); got != tc.want {
			t.Errorf("ContainsInvite(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestContainsFakeHyperlink(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"[example.com](https://evil.test/login)", true},
		{"[steamcommunity.com/gift](http://scam.test)", true},
		{"[click here](https://example.com)", false},
		{"plain text", false},
	}
	for _, tc := range cases {
		if got := ContainsFakeHyperlink(tc.content); got != tc.want {
			t.Errorf("ContainsFakeHyperlink(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	normalized, host, err := NormalizeURL("https://Example.COM/path?b=2&utm_source=feed&a=1#frag")
	if err != nil {
		t.Fatal(err)
	}
	if host != "example.com" {
		t.Fatalf("host = %q", host)
	}
	if normalized != "https://example.com/path?a=1&b=2" {
		t.Fatalf("normalized = %q", normalized)
	}
}

func TestNormalizeURLAddsScheme(t *testing.T) {
	normalized, host, err := NormalizeURL("example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if host != "example.com" {
		t.Fatalf("host = %q", host)
	}
	if normalized != "https://example.com/page" {
		t.Fatalf("normalized = %q", normalized)
	}
}

func TestNormalizeURLPunycodesHost(t *testing.T) {
	_, host, err := NormalizeURL("https://bücher.example/x")
	if err != nil {
		t.Fatal(err)
	}
	if host != "xn--bcher-kva.example" {
		t.Fatalf("host = %q", host)
	}
}
