package deals

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"keeper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestTargetsDefaultSeeds(t *testing.T) {
	t.Parallel()
	s := NewSeedSource("", "", nil, testLogger())
	targets := s.Targets()
	if len(targets) != len(defaultSeedASINs) {
		t.Fatalf("targets = %d, want the %d defaults", len(targets), len(defaultSeedASINs))
	}
	for _, tgt := range targets {
		if tgt.Domain != types.DomainDE || tgt.Source != "default" {
			t.Errorf("default target = %+v", tgt)
		}
	}
}

func TestTargetsInlineOverride(t *testing.T) {
	t.Parallel()
	s := NewSeedSource("", "", []string{" b005eowbhc ", "short", "B00F34GN18"}, testLogger())
	targets := s.Targets()
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2 (malformed entry dropped)", len(targets))
	}
	if targets[0].ASIN != "B005EOWBHC" || targets[0].Source != "config" {
		t.Errorf("target = %+v", targets[0])
	}
}

func TestTargetsSeedFileBeatsInline(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	seedPath := writeFile(t, dir, "seeds.txt", `
# keyboards
B005EOWBHC  Logitech K120
b00f34gn18
NOTANASIN
`)
	s := NewSeedSource("", seedPath, []string{"B07W6JN8V8"}, testLogger())
	targets := s.Targets()
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2 from the seed file", len(targets))
	}
	if targets[0].ASIN != "B005EOWBHC" || targets[1].ASIN != "B00F34GN18" {
		t.Errorf("targets = %+v", targets)
	}
	if targets[0].Source != "seed_file" {
		t.Errorf("source = %q, want seed_file", targets[0].Source)
	}
}

func TestTargetsFileBeatsSeedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	seedPath := writeFile(t, dir, "seeds.txt", "B07W6JN8V8\n")
	targetsPath := writeFile(t, dir, "targets.csv", `asin,domain_id,market,source
B005EOWBHC,4,,fr_watch
B00F34GN18,99,,
B005EOWBHC,4,FR,dup
`)
	s := NewSeedSource(targetsPath, seedPath, nil, testLogger())
	targets := s.Targets()
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2 after dedup", len(targets))
	}
	if targets[0].Domain != types.DomainFR || targets[0].Market != "FR" {
		t.Errorf("target = %+v, want FR market from domain 4", targets[0])
	}
	if targets[0].Source != "fr_watch" {
		t.Errorf("source = %q", targets[0].Source)
	}
	// Unknown domain ids fall back to DE.
	if targets[1].Domain != types.DomainDE {
		t.Errorf("domain = %v, want the DE fallback", targets[1].Domain)
	}
}

func TestSeedFileMtimeCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	seedPath := writeFile(t, dir, "seeds.txt", "B005EOWBHC\n")

	s := NewSeedSource("", seedPath, nil, testLogger())
	if got := len(s.Targets()); got != 1 {
		t.Fatalf("targets = %d, want 1", got)
	}

	// Rewrite with a guaranteed-different mtime; the next resolve reloads.
	writeFile(t, dir, "seeds.txt", "B005EOWBHC\nB00F34GN18\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(seedPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if got := len(s.Targets()); got != 2 {
		t.Errorf("targets = %d after edit, want 2", got)
	}
}

func TestSelectBatchRotation(t *testing.T) {
	t.Parallel()
	targets := targetsFromASINs([]string{
		"B000000001", "B000000002", "B000000003", "B000000004", "B000000005",
	}, "default")

	batch := SelectBatch(targets, 2, 0)
	if len(batch) != 2 || batch[0].ASIN != "B000000001" {
		t.Errorf("batch 0 = %+v", batch)
	}

	// Wraps around the end of the seed set.
	batch = SelectBatch(targets, 3, 4)
	want := []string{"B000000005", "B000000001", "B000000002"}
	for i, w := range want {
		if batch[i].ASIN != w {
			t.Errorf("batch[%d] = %s, want %s", i, batch[i].ASIN, w)
		}
	}

	// Batch larger than the set returns each target once.
	batch = SelectBatch(targets, 10, 3)
	if len(batch) != 5 {
		t.Errorf("batch = %d, want 5", len(batch))
	}

	if got := SelectBatch(nil, 3, 0); got != nil {
		t.Errorf("empty set should yield nil, got %+v", got)
	}
}
