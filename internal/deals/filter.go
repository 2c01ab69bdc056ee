package deals

import (
	"strings"

	"keeper/internal/store"
	"keeper/pkg/types"
)

// Spam thresholds.
const (
	minRating      = 3.5
	minPrice       = 10.0
	maxDiscount    = 80.0
	minDealsReport = 5
	maxDealsReport = 15
)

// dropshipperKeywords mark low-quality listings.
var dropshipperKeywords = []string{"dropship", "fast shipping", "free shipping"}

// keyboardTitleKeywords catch keyboards in DE/EN/FR/IT/ES titles. The deal
// endpoint's category filter is too broad and returns general computer
// accessories, so titles are post-filtered.
var keyboardTitleKeywords = []string{
	"tastatur",
	"keyboard",
	"clavier",
	"tastiera",
	"teclado",
	"qwertz",
	"qwerty",
	"mechanisch",
	"mechanical",
	"mecanique",
	"meccanica",
	"mecanico",
	"keycap",
	"key cap",
	"cherry mx",
	"gateron",
	"kailh",
	"hot-swap",
	"hotswap",
}

// keyboardBrandWhitelist keeps items whose title names a known keyboard
// maker even when no layout keyword is present.
var keyboardBrandWhitelist = []string{
	// Premium / enthusiast
	"logitech", "cherry", "corsair", "razer", "steelseries", "hyperx",
	"keychron", "ducky", "leopold", "varmilo", "das keyboard", "filco",
	"hhkb", "topre", "realforce",
	// Gaming
	"roccat", "asus", "msi", "trust gaming",
	// Mainstream
	"microsoft", "hp", "dell", "lenovo", "apple", "hama", "perixx",
	"jelly comb",
	// Mechanical specialists
	"glorious", "wooting", "nuphy", "akko", "epomaker", "royal kludge",
	"redragon", "havit", "iclever",
}

// IsSpam reports whether a deal trips any reject rule: rating under 3.5,
// price under 10, discount over 80%, dropshipper keywords, missing title.
func IsSpam(d types.Deal) bool {
	if d.Rating < minRating {
		return true
	}
	if d.CurrentPrice < minPrice {
		return true
	}
	if d.DiscountPercent > maxDiscount {
		return true
	}
	title := strings.ToLower(d.Title)
	if title == "" || title == "unknown" {
		return true
	}
	for _, kw := range dropshipperKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// FilterSpam drops spam deals from a batch.
func FilterSpam(in []types.Deal) []types.Deal {
	out := make([]types.Deal, 0, len(in))
	for _, d := range in {
		if !IsSpam(d) {
			out = append(out, d)
		}
	}
	return out
}

// IsKeyboard reports whether the title contains a keyboard keyword.
func IsKeyboard(title string) bool {
	t := strings.ToLower(title)
	for _, kw := range keyboardTitleKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// HasWhitelistedBrand reports whether the title names a known keyboard
// brand.
func HasWhitelistedBrand(title string) bool {
	t := strings.ToLower(title)
	for _, brand := range keyboardBrandWhitelist {
		if strings.Contains(t, brand) {
			return true
		}
	}
	return false
}

// KeepKeyboard is the domain predicate: keyword match or whitelisted brand.
func KeepKeyboard(d types.Deal) bool {
	return IsKeyboard(d.Title) || HasWhitelistedBrand(d.Title)
}

// MatchesFilter checks a deal against a user-defined filter's ranges.
func MatchesFilter(d types.Deal, f store.DealFilter) bool {
	maxPrice := f.MaxPrice
	if maxPrice <= 0 {
		maxPrice = 1_000_000
	}
	maxDisc := f.MaxDiscount
	if maxDisc <= 0 {
		maxDisc = 100
	}
	return d.DiscountPercent >= f.MinDiscount && d.DiscountPercent <= maxDisc &&
		d.CurrentPrice >= f.MinPrice && d.CurrentPrice <= maxPrice &&
		d.Rating >= f.MinRating
}

// ShouldSendReport: reports go out only when enough deals survive the spam
// filter to be worth a mail.
func ShouldSendReport(deals []types.Deal) bool {
	return len(FilterSpam(deals)) >= minDealsReport
}
