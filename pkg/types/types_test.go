package types

import "testing"

func TestDomainMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		domain Domain
		code   string
		host   string
	}{
		{DomainUS, "us", "amazon.com"},
		{DomainUK, "uk", "amazon.co.uk"},
		{DomainDE, "de", "amazon.de"},
		{DomainFR, "fr", "amazon.fr"},
		{DomainIT, "it", "amazon.it"},
		{DomainES, "es", "amazon.es"},
	}
	for _, c := range cases {
		if got := c.domain.Code(); got != c.code {
			t.Errorf("Code(%d) = %q, want %q", c.domain, got, c.code)
		}
		if got := c.domain.Host(); got != c.host {
			t.Errorf("Host(%d) = %q, want %q", c.domain, got, c.host)
		}
		if got := c.domain.ProductURL("B005EOWBHC"); got != "https://"+c.host+"/dp/B005EOWBHC" {
			t.Errorf("ProductURL(%d) = %q", c.domain, got)
		}
	}
}

func TestParseDomainFallback(t *testing.T) {
	t.Parallel()
	for _, v := range []int{0, 5, 7, 42, -1} {
		if got := ParseDomain(v); got != DomainDE {
			t.Errorf("ParseDomain(%d) = %v, want the DE fallback", v, got)
		}
	}
	if got := ParseDomain(8); got != DomainIT {
		t.Errorf("ParseDomain(8) = %v, want IT", got)
	}
}

func TestMarketUppercase(t *testing.T) {
	t.Parallel()
	if got := DomainDE.Market(); got != "DE" {
		t.Errorf("Market = %q, want DE", got)
	}
	if got := Domain(99).Market(); got != "DE" {
		t.Errorf("unknown Market = %q, want the DE fallback", got)
	}
}
