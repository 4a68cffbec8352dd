// Package store keeps scripts, extracted lines and translations in an
// append-only key/value log.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mvaleed/blume/internal/dialogue"
)

var ErrNotFound = errors.New("store: key not found")

const logName = "blume.log"

/*
  KEY LAYOUT
  ------------------------------------------------------------------
  script/<id>                       original script blob
  patched/<id>                      patched script blob
  line/<id>/<addr>                  extracted line, JSON
  tl/<session>/<id>/<addr>          translated text

  ids and addresses are 8 upper-case hex digits, so lexical key order is
  numeric order.
*/

func scriptKey(id uint32) string  { return fmt.Sprintf("script/%08X", id) }
func patchedKey(id uint32) string { return fmt.Sprintf("patched/%08X", id) }
func lineKey(id, addr uint32) string {
	return fmt.Sprintf("line/%08X/%08X", id, addr)
}

func tlKey(session string, id, addr uint32) string {
	return fmt.Sprintf("tl/%s/%08X/%08X", session, id, addr)
}

type Options struct {
	Durability Durability
	// ReadOnly opens an existing store without creating or appending.
	ReadOnly bool
	Logger   *slog.Logger
}

// location points at the newest value written for a key.
type location struct {
	pos    int64
	size   uint32
	offset uint64
}

// Store is a key directory over a Log. The directory is rebuilt by scanning
// the log on Open; the last record for a key wins.
type Store struct {
	mu     sync.RWMutex
	log    *Log
	keydir map[string]location
	logger *slog.Logger
}

func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(dir, logName)
	var (
		l   *Log
		err error
	)
	if opts.ReadOnly {
		l, err = NewLogReadOnly(path)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
		l, err = NewLog(path, opts.Durability)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", dir, err)
	}

	s := &Store{
		log:    l,
		keydir: make(map[string]location),
		logger: logger,
	}
	err = l.Scan(func(h RecordHeader, key []byte, valuePos int64) error {
		s.keydir[string(key)] = location{pos: valuePos, size: h.ValueSize, offset: h.LogicalOffset}
		return nil
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to rebuild key directory: %w", err)
	}

	logger.Debug("store opened", "path", path, "records", l.NextOffset(), "keys", len(s.keydir),
		"durability", opts.Durability.String(), "read_only", opts.ReadOnly)
	return s, nil
}

func (s *Store) Close() error {
	return s.log.Close()
}

// LOCK STRATEGY: Exclusive Lock, so the keydir and the log agree on order.
func (s *Store) put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, pos, err := s.log.Append([]byte(key), value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.keydir[key] = location{pos: pos + HeaderSize + int64(h.KeySize), size: h.ValueSize, offset: h.LogicalOffset}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	s.mu.RLock()
	loc, ok := s.keydir[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	v, err := s.log.ReadValue(loc.pos, loc.size)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// keys returns every key with the prefix, sorted.
func (s *Store) keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ks []string
	for k := range s.keydir {
		if strings.HasPrefix(k, prefix) {
			ks = append(ks, k)
		}
	}
	slices.Sort(ks)
	return ks
}

func parseHex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func (s *Store) PutScript(id uint32, blob []byte) error {
	return s.put(scriptKey(id), blob)
}

func (s *Store) Script(id uint32) ([]byte, error) {
	return s.get(scriptKey(id))
}

func (s *Store) PutPatched(id uint32, blob []byte) error {
	return s.put(patchedKey(id), blob)
}

func (s *Store) Patched(id uint32) ([]byte, error) {
	return s.get(patchedKey(id))
}

// BuildSource returns the blob an archive rebuild should use for id: the
// patched script when there is one, the original otherwise.
func (s *Store) BuildSource(id uint32) ([]byte, error) {
	b, err := s.Patched(id)
	if errors.Is(err, ErrNotFound) {
		return s.Script(id)
	}
	return b, err
}

// ScriptIDs lists the ids of all original scripts in ascending order.
func (s *Store) ScriptIDs() ([]uint32, error) {
	var ids []uint32
	for _, k := range s.keys("script/") {
		id, err := parseHex(strings.TrimPrefix(k, "script/"))
		if err != nil {
			return nil, fmt.Errorf("malformed key %q: %w", k, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type lineRecord struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

func (s *Store) PutLine(id uint32, line dialogue.Line) error {
	v, err := json.Marshal(lineRecord{Speaker: line.Speaker, Text: line.Text})
	if err != nil {
		return err
	}
	return s.put(lineKey(id, line.Addr), v)
}

// Lines returns the extracted lines of a script ordered by address.
func (s *Store) Lines(id uint32) ([]dialogue.Line, error) {
	prefix := fmt.Sprintf("line/%08X/", id)

	var lines []dialogue.Line
	for _, k := range s.keys(prefix) {
		addr, err := parseHex(strings.TrimPrefix(k, prefix))
		if err != nil {
			return nil, fmt.Errorf("malformed key %q: %w", k, err)
		}
		v, err := s.get(k)
		if err != nil {
			return nil, err
		}

		var rec lineRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		lines = append(lines, dialogue.Line{Addr: addr, Speaker: rec.Speaker, Text: rec.Text})
	}
	return lines, nil
}

func validSession(session string) error {
	if session == "" || strings.Contains(session, "/") {
		return fmt.Errorf("invalid translation session %q", session)
	}
	return nil
}

// PutTranslation records text as session's translation of the line at addr.
func (s *Store) PutTranslation(session string, id, addr uint32, text string) error {
	if err := validSession(session); err != nil {
		return err
	}
	return s.put(tlKey(session, id, addr), []byte(text))
}

// Translations returns session's translations for a script keyed by line address.
func (s *Store) Translations(session string, id uint32) (map[uint32]string, error) {
	if err := validSession(session); err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("tl/%s/%08X/", session, id)

	tls := make(map[uint32]string)
	for _, k := range s.keys(prefix) {
		addr, err := parseHex(strings.TrimPrefix(k, prefix))
		if err != nil {
			return nil, fmt.Errorf("malformed key %q: %w", k, err)
		}
		v, err := s.get(k)
		if err != nil {
			return nil, err
		}
		tls[addr] = string(v)
	}
	return tls, nil
}

// Record returns the raw record at a log offset.
func (s *Store) Record(offset int64) (Record, error) {
	return s.log.FindRecord(offset)
}

// Dump writes a debug listing of the first head records (all when 0).
func (s *Store) Dump(w io.Writer, head int) error {
	if err := s.log.flushForRead(); err != nil {
		return err
	}
	return DumpFile(w, s.log.path, head)
}
