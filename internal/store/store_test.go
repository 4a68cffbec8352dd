package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaleed/blume/internal/dialogue"
)

func openStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	s, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Scripts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, err := Open(dir, Options{Durability: DurabilityAsync})
	require.NoError(t, err)

	require.NoError(t, s.PutScript(0x20, []byte("second")))
	require.NoError(t, s.PutScript(0x03, []byte("first")))
	require.NoError(t, s.PutScript(0x20, []byte("second, again")))
	require.NoError(t, s.PutPatched(0x03, []byte("first, patched")))

	got, err := s.Script(0x20)
	require.NoError(t, err)
	assert.Equal(t, []byte("second, again"), got, "last write wins")

	_, err = s.Script(0x99)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Patched(0x20)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Close())

	s = openStore(t, dir, Options{Durability: DurabilityMedium})

	ids, err := s.ScriptIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x03, 0x20}, ids)

	got, err = s.Script(0x20)
	require.NoError(t, err)
	assert.Equal(t, []byte("second, again"), got, "keydir rebuilt on reopen")

	t.Run("build source prefers patched", func(t *testing.T) {
		b, err := s.BuildSource(0x03)
		require.NoError(t, err)
		assert.Equal(t, []byte("first, patched"), b)

		b, err = s.BuildSource(0x20)
		require.NoError(t, err)
		assert.Equal(t, []byte("second, again"), b)

		_, err = s.BuildSource(0x42)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Lines(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})

	lines := []dialogue.Line{
		{Addr: 0x1A0, Speaker: "ルビ", Text: "おはよう"},
		{Addr: 0x0C4, Text: "narration"},
		{Addr: 0x200, Speaker: "Mary", Text: "Hi"},
	}
	for _, l := range lines {
		require.NoError(t, s.PutLine(7, l))
	}
	require.NoError(t, s.PutLine(8, dialogue.Line{Addr: 0x10, Text: "other script"}))

	got, err := s.Lines(7)
	require.NoError(t, err)
	assert.Equal(t, []dialogue.Line{lines[1], lines[0], lines[2]}, got)

	got, err = s.Lines(9)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Translations(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})

	require.NoError(t, s.PutTranslation("en", 7, 0x1A0, "Good morning"))
	require.NoError(t, s.PutTranslation("en", 7, 0x0C4, "Narration"))
	require.NoError(t, s.PutTranslation("en", 7, 0x1A0, "Morning!"))
	require.NoError(t, s.PutTranslation("de", 7, 0x1A0, "Guten Morgen"))
	require.NoError(t, s.PutTranslation("en", 8, 0x1A0, "elsewhere"))

	got, err := s.Translations("en", 7)
	require.NoError(t, err)
	assert.Equal(t, map[uint32]string{0x1A0: "Morning!", 0x0C4: "Narration"}, got)

	got, err = s.Translations("fr", 7)
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, session := range []string{"", "en/us"} {
		require.Error(t, s.PutTranslation(session, 7, 0, "x"), "session %q", session)
		_, err := s.Translations(session, 7)
		require.Error(t, err, "session %q", session)
	}
}

func TestStore_ReadOnly(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing"), Options{ReadOnly: true})
	require.Error(t, err)

	s, err := Open(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, s.PutScript(1, []byte("blob")))
	require.NoError(t, s.Close())

	ro := openStore(t, dir, Options{ReadOnly: true})
	got, err := ro.Script(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	require.ErrorIs(t, ro.PutScript(2, []byte("nope")), ErrReadOnly)
	_, err = ro.Script(2)
	require.ErrorIs(t, err, ErrNotFound)

	t.Run("index file is left alone", func(t *testing.T) {
		indexPath := filepath.Join(dir, logName+".index")

		torn := []byte{0, 0, 0}
		require.NoError(t, os.WriteFile(indexPath, torn, 0o644))
		s, err := Open(dir, Options{ReadOnly: true})
		require.NoError(t, err)
		require.NoError(t, s.Close())
		contents, err := os.ReadFile(indexPath)
		require.NoError(t, err)
		assert.Equal(t, torn, contents)

		require.NoError(t, os.Remove(indexPath))
		s, err = Open(dir, Options{ReadOnly: true})
		require.NoError(t, err)
		got, err := s.Script(1)
		require.NoError(t, err)
		assert.Equal(t, []byte("blob"), got)
		require.NoError(t, s.Close())
		assert.NoFileExists(t, indexPath)
	})
}

func TestStore_RecordAndDump(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{Durability: DurabilityAsync})

	require.NoError(t, s.PutScript(1, []byte("one")))
	require.NoError(t, s.PutTranslation("en", 1, 0x40, "hello"))

	rec, err := s.Record(1)
	require.NoError(t, err)
	assert.Equal(t, "tl/en/00000001/00000040", string(rec.Key))
	assert.Equal(t, []byte("hello"), rec.Value)

	_, err = s.Record(2)
	require.ErrorIs(t, err, ErrRecordNotFoundFullScan)

	var out bytes.Buffer
	require.NoError(t, s.Dump(&out, 0))
	assert.Contains(t, out.String(), "script/00000001")
	assert.Contains(t, out.String(), "Total: 2 records")

	out.Reset()
	require.NoError(t, s.Dump(&out, 1))
	assert.NotContains(t, out.String(), "tl/en")
	assert.Contains(t, out.String(), "Total: 1 records")
}
