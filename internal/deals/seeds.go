package deals

import (
	"encoding/csv"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"keeper/pkg/types"
)

// defaultSeedASINs is the built-in QWERTZ keyboard seed set, used when no
// targets file, seed file or inline override is configured.
var defaultSeedASINs = []string{
	"B005EOWBHC", // Logitech K120 QWERTZ
	"B00F34GN18", // Cherry Stream Keyboard
	"B0058UR5GS", // Cherry KC 1000
	"B07W6JN8V8", // Logitech K380
	"B07VBFK1C4", // Logitech MX Keys
	"B09DFY1LKY", // Logitech MX Mechanical
	"B09FXYV8P9", // Corsair K70 RGB
	"B0B6BCXRDS", // Razer BlackWidow V4
	"B09V3KXJPB", // Logitech MX Keys Mini
	"B07W7Q58J7", // Logitech K270 Wireless
}

// Target is one seed product to scan: which marketplace to query and where
// the seed came from.
type Target struct {
	ASIN   string
	Domain types.Domain
	Market string
	Source string
}

// SeedSource resolves the scan seed set by priority: targets CSV file,
// flat seed file, inline config override, built-in defaults. The seed file
// parse is cached and invalidated by mtime, so edits take effect on the
// next cycle without a restart. Owned by the pipeline task; not safe for
// concurrent use.
type SeedSource struct {
	targetsFile string
	seedFile    string
	inline      []string
	logger      *slog.Logger

	cachedASINs []string
	cachedMtime time.Time
}

// NewSeedSource builds a resolver over the configured seed inputs.
func NewSeedSource(targetsFile, seedFile string, inline []string, logger *slog.Logger) *SeedSource {
	return &SeedSource{
		targetsFile: targetsFile,
		seedFile:    seedFile,
		inline:      normalizeASINs(inline),
		logger:      logger.With("component", "seeds"),
	}
}

// Targets resolves the current seed set.
func (s *SeedSource) Targets() []Target {
	if targets := s.loadTargetsFile(); len(targets) > 0 {
		return dedupeTargets(targets)
	}
	if asins := s.loadSeedFile(); len(asins) > 0 {
		return dedupeTargets(targetsFromASINs(asins, "seed_file"))
	}
	if len(s.inline) > 0 {
		return dedupeTargets(targetsFromASINs(s.inline, "config"))
	}
	return targetsFromASINs(defaultSeedASINs, "default")
}

// loadTargetsFile parses the CSV targets file (header: asin, domain_id,
// market, source). Missing file means this source is skipped.
func (s *SeedSource) loadTargetsFile() []Target {
	if s.targetsFile == "" {
		return nil
	}
	f, err := os.Open(s.targetsFile)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil || len(rows) < 2 {
		if err != nil {
			s.logger.Warn("targets file unreadable", "path", s.targetsFile, "err", err)
		}
		return nil
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var targets []Target
	for _, row := range rows[1:] {
		asin := strings.ToUpper(field(row, "asin"))
		if len(asin) != 10 {
			continue
		}
		domainID, _ := strconv.Atoi(field(row, "domain_id"))
		domain := types.ParseDomain(domainID)
		market := strings.ToUpper(field(row, "market"))
		if market == "" {
			market = domain.Market()
		}
		source := field(row, "source")
		if source == "" {
			source = "targets_file"
		}
		targets = append(targets, Target{ASIN: asin, Domain: domain, Market: market, Source: source})
	}
	if len(targets) > 0 {
		s.logger.Info("seed targets loaded", "path", s.targetsFile, "count", len(targets))
	}
	return targets
}

// loadSeedFile reads the flat seed file through the mtime cache.
func (s *SeedSource) loadSeedFile() []string {
	if s.seedFile == "" {
		return nil
	}
	info, err := os.Stat(s.seedFile)
	if err != nil {
		return nil
	}
	if info.ModTime().Equal(s.cachedMtime) && s.cachedASINs != nil {
		return s.cachedASINs
	}

	content, err := os.ReadFile(s.seedFile)
	if err != nil {
		s.logger.Warn("seed file unreadable", "path", s.seedFile, "err", err)
		return nil
	}

	var asins []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// First token only, in case of inline comments.
		token := strings.ToUpper(strings.Fields(line)[0])
		if len(token) == 10 {
			asins = append(asins, token)
		}
	}
	s.cachedASINs = asins
	s.cachedMtime = info.ModTime()
	s.logger.Info("seed file loaded", "path", s.seedFile, "count", len(asins))
	return asins
}

func normalizeASINs(raw []string) []string {
	var out []string
	for _, a := range raw {
		a = strings.ToUpper(strings.TrimSpace(a))
		if len(a) == 10 {
			out = append(out, a)
		}
	}
	return out
}

func targetsFromASINs(asins []string, source string) []Target {
	targets := make([]Target, 0, len(asins))
	for _, asin := range asins {
		targets = append(targets, Target{
			ASIN:   asin,
			Domain: types.DomainDE,
			Market: types.DomainDE.Market(),
			Source: source,
		})
	}
	return targets
}

func dedupeTargets(targets []Target) []Target {
	type key struct {
		asin   string
		domain types.Domain
	}
	seen := make(map[key]bool, len(targets))
	out := targets[:0]
	for _, t := range targets {
		k := key{t.ASIN, t.Domain}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// SelectBatch picks batchSize targets starting at offset, wrapping around
// so successive cycles cover the whole seed set.
func SelectBatch(targets []Target, batchSize, offset int) []Target {
	if len(targets) == 0 || batchSize <= 0 {
		return nil
	}
	take := batchSize
	if take > len(targets) {
		take = len(targets)
	}
	start := offset % len(targets)
	out := make([]Target, 0, take)
	for i := 0; i < take; i++ {
		out = append(out, targets[(start+i)%len(targets)])
	}
	return out
}
