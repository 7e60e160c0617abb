package match

import "testing"

func TestNormalizeSource(t *testing.T) {
	tests := []struct {
		name string
		in   string
		host string
		site string
	}{
		{"https with www", "https://www.Example.com/reviews/acme?x=1", "example.com", "example.com"},
		{"subdomain", "http://news.blog.example.org/a", "news.blog.example.org", "example.org"},
		{"country suffix", "shop.example.co.uk", "shop.example.co.uk", "example.co.uk"},
		{"credentials and port", "https://user:pw@forum.example.net:8443/t/1", "forum.example.net", "example.net"},
		{"bare title", "Acme review roundup", "", ""},
		{"empty", "  ", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeSource(tc.in)
			if got.Host != tc.host {
				t.Fatalf("host: expected %q got %q", tc.host, got.Host)
			}
			if got.Site != tc.site {
				t.Fatalf("site: expected %q got %q", tc.site, got.Site)
			}
		})
	}
}

func TestBrandKey(t *testing.T) {
	if BrandKey("  Acme   Corp ") != "acme corp" {
		t.Fatalf("unexpected key %q", BrandKey("  Acme   Corp "))
	}
	if !SameBrand("ACME", "acme") {
		t.Fatal("expected case-insensitive match")
	}
	if SameBrand("", "") {
		t.Fatal("empty names must not match")
	}
}
