package deals

import "strings"

// Keyboard layout labels.
const (
	LayoutQWERTZ   = "qwertz"
	LayoutAZERTY   = "azerty"
	LayoutQWERTYUK = "qwerty_uk"
	LayoutQWERTYIT = "qwerty_it"
	LayoutQWERTYES = "qwerty_es"
)

// layoutTitleSignals are explicit layout markers in listing titles.
var layoutTitleSignals = map[string][]string{
	LayoutQWERTZ: {
		"qwertz", "deutsch", "german layout", "iso-de", "german keyboard",
		"deutsche tastatur", "tastatur qwertz", "de layout",
		"germanisches layout", "deutsches layout",
	},
	LayoutAZERTY: {
		"azerty", "french layout", "clavier francais", "clavier azerty",
		"fr layout", "disposition francaise",
	},
	LayoutQWERTYUK: {
		"uk layout", "british layout", "qwerty uk", "english uk", "gb layout",
	},
	LayoutQWERTYIT: {
		"italian layout", "italiano", "it layout", "tastiera italiana",
	},
	LayoutQWERTYES: {
		"spanish layout", "espanol", "es layout", "teclado espanol",
	},
}

// signalOrder keeps detection deterministic across runs.
var signalOrder = []string{
	LayoutQWERTZ, LayoutAZERTY, LayoutQWERTYUK, LayoutQWERTYIT, LayoutQWERTYES,
}

// marketLayouts is the expected layout per market when the title carries
// no explicit signal.
var marketLayouts = map[string]string{
	"DE": LayoutQWERTZ,
	"UK": LayoutQWERTYUK,
	"FR": LayoutAZERTY,
	"IT": LayoutQWERTYIT,
	"ES": LayoutQWERTYES,
}

// DetectLayout annotates a listing with its keyboard layout: an explicit
// title signal wins; otherwise the market default applies. Returns "" for
// markets without a known default.
func DetectLayout(title, market string) string {
	t := strings.ToLower(title)
	for _, layout := range signalOrder {
		for _, signal := range layoutTitleSignals[layout] {
			if strings.Contains(t, signal) {
				return layout
			}
		}
	}
	return marketLayouts[strings.ToUpper(market)]
}
