package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mvaleed/blume/internal/dialogue"
	"github.com/mvaleed/blume/internal/stcm2"
	"github.com/mvaleed/blume/internal/translate"
	"github.com/mvaleed/blume/internal/uni"
)

func script(t *testing.T) []byte {
	return scriptSaying(t, "こんにちは")
}

// scriptSaying builds a script in which Alice says text. The line folds to 0x110.
func scriptSaying(t *testing.T, text string) []byte {
	t.Helper()
	speaker, err := stcm2.ToSJIS("Alice")
	require.NoError(t, err)
	line, err := stcm2.ToSJIS(text)
	require.NoError(t, err)

	entry := stcm2.NewLabel("main")
	blob, err := stcm2.Encode(&stcm2.Document{
		Tag: make([]byte, stcm2.TagSize),
		Actions: map[stcm2.Address]stcm2.Action{
			stcm2.At(0x100): {Export: &entry, Opcode: 0x10},
			stcm2.At(0x110): stcm2.NewSpeaker(speaker),
			stcm2.At(0x120): stcm2.NewLine(line),
			stcm2.At(0x130): {Opcode: 0x10, Params: []stcm2.Parameter{stcm2.Value(1)}},
		},
	})
	require.NoError(t, err)
	return blob
}

type harness struct {
	t      *testing.T
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	config := filepath.Join(dir, "blume.yaml")
	body := fmt.Sprintf("store:\n  dir: %s\nsession: en\nlog:\n  level: warn\n", filepath.Join(dir, "db"))
	require.NoError(t, os.WriteFile(config, []byte(body), 0o644))
	return &harness{t: t, dir: dir, config: config}
}

func (h *harness) run(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp(&env{})
	app.Writer = &out
	err := app.Run(append([]string{"blume", "--config", h.config}, args...))
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "blume %v", args)
	return out
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)

	archive, err := uni.Build(map[uint32][]byte{1: script(t)})
	require.NoError(t, err)
	archivePath := filepath.Join(h.dir, "in.uni")
	require.NoError(t, os.WriteFile(archivePath, archive, 0o644))

	h.mustRun("uni", "unpack", archivePath)
	out := h.mustRun("stcm2", "extract", "1")
	assert.Equal(t, "script 0x1: 1 lines, 0 choices\n", out)

	sheetPath := filepath.Join(h.dir, "sheet.yaml")
	h.mustRun("translate", "export", "1", sheetPath)

	f, err := os.Open(sheetPath)
	require.NoError(t, err)
	rows, err := translate.ReadSheet(f)
	f.Close()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Speaker)
	assert.Equal(t, "こんにちは", rows[0].Source)

	rows[0].Text = "Hello there."
	filled, err := yaml.Marshal(rows)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sheetPath, filled, 0o644))

	h.mustRun("translate", "import", sheetPath)
	assert.Equal(t, "script 0x1: 0 issues\n", h.mustRun("translate", "check", "1"))
	h.mustRun("stcm2", "patch", "1")

	outPath := filepath.Join(h.dir, "out.uni")
	h.mustRun("uni", "build", outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	a, err := uni.Open(data)
	require.NoError(t, err)
	e, ok := a.Lookup(1)
	require.True(t, ok)
	blob, err := a.Extract(e)
	require.NoError(t, err)

	doc, err := stcm2.Decode(blob)
	require.NoError(t, err)
	ds, err := dialogue.FromDocument(doc, dialogue.Options{})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	line := ds[0].(dialogue.Line)
	assert.Equal(t, "Alice", line.Speaker)
	assert.Equal(t, "Hello there.", line.Text)

	t.Run("script read", func(t *testing.T) {
		assert.Equal(t, string(blob), h.mustRun("script", "read", "--patched", "1"))
		assert.Equal(t, string(script(t)), h.mustRun("script", "read", "1"))
	})

	t.Run("store dump", func(t *testing.T) {
		out := h.mustRun("store", "dump")
		assert.Contains(t, out, "script/00000001")
		assert.Contains(t, out, "patched/00000001")
	})
}

func TestTranslateCheck(t *testing.T) {
	h := newHarness(t)

	scriptPath := filepath.Join(h.dir, "script.bin")
	require.NoError(t, os.WriteFile(scriptPath, scriptSaying(t, "（どうしよう）"), 0o644))
	h.mustRun("script", "insert", scriptPath, "1")
	h.mustRun("stcm2", "extract", "1")

	sheetPath := filepath.Join(h.dir, "sheet.yaml")
	sheet := "- script: 0x1\n  address: 0x110\n  text: What now?\n"
	require.NoError(t, os.WriteFile(sheetPath, []byte(sheet), 0o644))
	h.mustRun("translate", "import", sheetPath)

	out := h.mustRun("translate", "check", "1")
	assert.Equal(t, "0x110 unwrapped: \"（どうしよう）\" -> \"What now?\"\nscript 0x1: 1 issues\n", out)

	out = h.mustRun("translate", "check", "--session", "fr", "1")
	assert.Equal(t, "script 0x1: 0 issues\n", out)
}

func TestDryRun(t *testing.T) {
	h := newHarness(t)

	scriptPath := filepath.Join(h.dir, "script.bin")
	require.NoError(t, os.WriteFile(scriptPath, script(t), 0o644))

	_, err := h.run("--dry-run", "script", "insert", scriptPath, "1")
	require.Error(t, err, "a dry run never creates the store")

	h.mustRun("script", "insert", scriptPath, "1")
	h.mustRun("--dry-run", "script", "insert", "--patched", scriptPath, "1")
	h.mustRun("--dry-run", "stcm2", "extract", "1")

	_, err = h.run("script", "read", "--patched", "1")
	require.Error(t, err)
	out := h.mustRun("store", "dump")
	assert.Contains(t, out, "Total: 1 records")
}

func TestArgs(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("stcm2", "extract")
	require.Error(t, err)
	_, err = h.run("stcm2", "extract", "zz")
	require.Error(t, err)
	_, err = h.run("store", "record", "-1x")
	require.Error(t, err)
}
