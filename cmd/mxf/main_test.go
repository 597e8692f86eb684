package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/internal/registry"
	"github.com/samcharles93/mxfkit/pkg/klv"
	"github.com/samcharles93/mxfkit/pkg/mxf"
)

// writeMinimalMXF writes a single-partition MXF file the subcommands can
// open, and returns its path.
func writeMinimalMXF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minimal.mxf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	p := mxf.NewPartition(mxf.KindHeader, registry.Baseline(), logger.Discard())
	if err := p.Write(klv.NewFile(f, path)); err != nil {
		t.Fatalf("write partition: %v", err)
	}
	return path
}

// resetFlags clears the shared flag destinations between app runs.
func resetFlags() {
	logLevel = ""
	dictPaths = nil
}

const validDict = `
sets:
  - name: CameraMetadata
    ul: 060e2b34.02530101.0d010101.01017f00
    properties:
      - name: InstanceUID
        ul: 060e2b34.01010101.01011502.00000000
        kind: uuid
        tag: 0x3c0a
`

func TestDictFlagReachesRegistry(t *testing.T) {
	file := writeMinimalMXF(t)
	dict := filepath.Join(t.TempDir(), "extra.yaml")
	if err := os.WriteFile(dict, []byte(validDict), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}

	resetFlags()
	err := newApp().Run(context.Background(), []string{"mxf", "info", "--dict", dict, file})
	if err != nil {
		t.Fatalf("info with dictionary: %v", err)
	}
	if len(dictPaths) != 1 || dictPaths[0] != dict {
		t.Fatalf("dict flag did not reach the shared destination: %v", dictPaths)
	}

	// A broken dictionary must fail the run, proving the flag value flows
	// into the registry load rather than being silently dropped.
	broken := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(broken, []byte("sets:\n  - name: Broken\n    ul: nothex\n"), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	resetFlags()
	err = newApp().Run(context.Background(), []string{"mxf", "info", "--dict", broken, file})
	if err == nil {
		t.Fatalf("broken dictionary must fail the command")
	}
}

func TestDictFlagOnDumpAndRewrap(t *testing.T) {
	file := writeMinimalMXF(t)
	dict := filepath.Join(t.TempDir(), "extra.yaml")
	if err := os.WriteFile(dict, []byte(validDict), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}

	resetFlags()
	if err := newApp().Run(context.Background(), []string{"mxf", "dump", "--json", "--dict", dict, file}); err != nil {
		t.Fatalf("dump with dictionary: %v", err)
	}
	if len(dictPaths) != 1 {
		t.Fatalf("dump did not bind --dict: %v", dictPaths)
	}

	resetFlags()
	out := filepath.Join(t.TempDir(), "out.mxf")
	if err := newApp().Run(context.Background(), []string{"mxf", "rewrap", "--dict", dict, file, out}); err != nil {
		t.Fatalf("rewrap with dictionary: %v", err)
	}
	if len(dictPaths) != 1 {
		t.Fatalf("rewrap did not bind --dict: %v", dictPaths)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("rewrap output missing: %v", err)
	}
}

func TestLogLevelFlagBinds(t *testing.T) {
	file := writeMinimalMXF(t)

	resetFlags()
	if err := newApp().Run(context.Background(), []string{"mxf", "info", "--log-level", "debug", file}); err != nil {
		t.Fatalf("info: %v", err)
	}
	if logLevel != "debug" {
		t.Fatalf("log level not bound: %q", logLevel)
	}

	resetFlags()
	if err := newApp().Run(context.Background(), []string{"mxf", "info", file}); err != nil {
		t.Fatalf("info: %v", err)
	}
	if logLevel != "warn" {
		t.Fatalf("log level default lost: %q", logLevel)
	}
}

func TestSetupMergesDictionaries(t *testing.T) {
	dict := filepath.Join(t.TempDir(), "extra.yaml")
	if err := os.WriteFile(dict, []byte(validDict), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}

	resetFlags()
	dictPaths = []string{dict}
	reg, _, err := setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, ok := reg.LookupName("CameraMetadata"); !ok {
		t.Fatalf("dictionary set missing from registry")
	}
	if _, ok := reg.LookupName("Preface"); !ok {
		t.Fatalf("baseline lost after merge")
	}

	resetFlags()
	dictPaths = []string{filepath.Join(t.TempDir(), "nope.yaml")}
	if _, _, err := setup(); err == nil {
		t.Fatalf("missing dictionary file must fail setup")
	}
}
