// Package qstore checkpoints channel-ranker histories in a Pebble database so
// a restarted radio resumes with its learned Q-values.
//
// Layout (one database, many radios):
//
//	meta|version                      -> decimal schema version
//	radio|<name>|meta|fingerprint     -> 8-byte big-endian learner fingerprint
//	radio|<name>|meta|saved_at        -> 8-byte big-endian unix seconds
//	radio|<name>|ch|<8-byte id>       -> JSON {noise, historic}
package qstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"cogradio/qrank"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	jsoniter "github.com/json-iterator/go"
)

const (
	schemaVersion = 1

	metaVersionKey   = "meta|version"
	radioPrefix      = "radio|"
	metaFingerprint  = "meta|fingerprint"
	metaSavedAt      = "meta|saved_at"
	channelSubPrefix = "ch|"

	defaultCacheSizeBytes  = 8 << 20
	defaultBloomFilterBits = 10
)

var (
	// ErrFingerprintMismatch is returned when a checkpoint was written under
	// different learner settings than the ones loading it.
	ErrFingerprintMismatch = errors.New("qstore: checkpoint fingerprint mismatch")

	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// Options tunes the Pebble instance.
type Options struct {
	CacheSizeBytes        int64
	BloomFilterBitsPerKey int
}

func sanitizeOptions(opts Options) Options {
	if opts.CacheSizeBytes <= 0 {
		opts.CacheSizeBytes = defaultCacheSizeBytes
	}
	if opts.BloomFilterBitsPerKey <= 0 {
		opts.BloomFilterBitsPerKey = defaultBloomFilterBits
	}
	return opts
}

// Store wraps the checkpoint database.
type Store struct {
	db    *pebble.DB
	cache *pebble.Cache

	mu     sync.Mutex
	closed bool
}

type channelValue struct {
	Noise    []float64 `json:"noise"`
	Historic []float64 `json:"historic"`
}

// Open opens or creates the checkpoint database at path.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("qstore: database path is empty")
	}
	opts = sanitizeOptions(opts)

	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("qstore: %s exists and is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("qstore: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("qstore: ensure directory: %w", err)
	}

	pebbleOpts := &pebble.Options{
		Cache: pebble.NewCache(opts.CacheSizeBytes),
	}
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(opts.BloomFilterBitsPerKey),
		FilterType:   pebble.TableFilter,
	}
	pebbleOpts.Levels = make([]pebble.LevelOptions, 7)
	for i := range pebbleOpts.Levels {
		pebbleOpts.Levels[i] = level
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		pebbleOpts.Cache.Unref()
		return nil, fmt.Errorf("qstore: open: %w", err)
	}
	store := &Store{db: db, cache: pebbleOpts.Cache}
	if err := store.checkVersion(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) checkVersion() error {
	value, closer, err := s.db.Get([]byte(metaVersionKey))
	if errors.Is(err, pebble.ErrNotFound) {
		if err := s.db.Set([]byte(metaVersionKey), []byte(strconv.Itoa(schemaVersion)), pebble.Sync); err != nil {
			return fmt.Errorf("qstore: write version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("qstore: read version: %w", err)
	}
	defer closer.Close()
	version, err := strconv.Atoi(string(value))
	if err != nil || version != schemaVersion {
		return fmt.Errorf("qstore: schema version %q unsupported (expected %d)", value, schemaVersion)
	}
	return nil
}

// Close releases Pebble resources. It is safe to call more than once.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.cache != nil {
		s.cache.Unref()
	}
	return err
}

// Radio returns a view scoped to one radio's checkpoint. It implements
// session.Checkpointer.
func (s *Store) Radio(name string) (*Radio, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "|") {
		return nil, fmt.Errorf("qstore: invalid radio name %q", name)
	}
	return &Radio{store: s, prefix: radioPrefix + name + "|"}, nil
}

// Radio is one radio's slice of the checkpoint database.
type Radio struct {
	store  *Store
	prefix string
}

// SaveRegistry replaces the radio's checkpoint atomically.
func (r *Radio) SaveRegistry(fingerprint uint64, states []qrank.ChannelState) error {
	db, err := r.store.open()
	if err != nil {
		return err
	}
	batch := db.NewBatch()
	defer batch.Close()

	lower, upper := r.channelBounds()
	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return fmt.Errorf("qstore: clear channels: %w", err)
	}
	for _, st := range states {
		payload, err := json.Marshal(channelValue{Noise: st.Noise, Historic: st.Historic})
		if err != nil {
			return fmt.Errorf("qstore: encode channel %d: %w", st.Channel, err)
		}
		if err := batch.Set(r.channelKey(st.Channel), payload, nil); err != nil {
			return fmt.Errorf("qstore: set channel %d: %w", st.Channel, err)
		}
	}
	if err := batch.Set(r.key(metaFingerprint), encodeUint64(fingerprint), nil); err != nil {
		return fmt.Errorf("qstore: set fingerprint: %w", err)
	}
	if err := batch.Set(r.key(metaSavedAt), encodeUint64(uint64(time.Now().UTC().Unix())), nil); err != nil {
		return fmt.Errorf("qstore: set saved_at: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("qstore: commit: %w", err)
	}
	return nil
}

// LoadRegistry returns the saved histories. ok is false when the radio has no
// checkpoint; ErrFingerprintMismatch is returned when one exists but was
// written under different learner settings.
func (r *Radio) LoadRegistry(fingerprint uint64) ([]qrank.ChannelState, bool, error) {
	db, err := r.store.open()
	if err != nil {
		return nil, false, err
	}
	saved, found, err := readUint64(db, r.key(metaFingerprint))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if saved != fingerprint {
		return nil, false, fmt.Errorf("%w: saved %016x, current %016x", ErrFingerprintMismatch, saved, fingerprint)
	}

	lower, upper := r.channelBounds()
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, false, fmt.Errorf("qstore: channel iterator: %w", err)
	}
	defer iter.Close()

	var states []qrank.ChannelState
	for iter.First(); iter.Valid(); iter.Next() {
		id, ok := r.parseChannelKey(iter.Key())
		if !ok {
			continue
		}
		var val channelValue
		if err := json.Unmarshal(iter.Value(), &val); err != nil {
			return nil, false, fmt.Errorf("qstore: decode channel %d: %w", id, err)
		}
		states = append(states, qrank.ChannelState{Channel: id, Noise: val.Noise, Historic: val.Historic})
	}
	if err := iter.Error(); err != nil {
		return nil, false, fmt.Errorf("qstore: iterate channels: %w", err)
	}
	return states, true, nil
}

// SavedAt returns when the radio was last checkpointed.
func (r *Radio) SavedAt() (time.Time, bool, error) {
	db, err := r.store.open()
	if err != nil {
		return time.Time{}, false, err
	}
	secs, found, err := readUint64(db, r.key(metaSavedAt))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return time.Unix(int64(secs), 0).UTC(), true, nil
}

func (s *Store) open() (*pebble.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil, errors.New("qstore: store is closed")
	}
	return s.db, nil
}

func (r *Radio) key(suffix string) []byte {
	return []byte(r.prefix + suffix)
}

func (r *Radio) channelBounds() ([]byte, []byte) {
	lower := r.key(channelSubPrefix)
	upper := append([]byte(nil), lower...)
	upper[len(upper)-1]++
	return lower, upper
}

// Channel ids are stored with the sign bit flipped so negative ids sort first.
func (r *Radio) channelKey(id qrank.ChannelID) []byte {
	key := r.key(channelSubPrefix)
	return binary.BigEndian.AppendUint64(key, uint64(int64(id))^(1<<63))
}

func (r *Radio) parseChannelKey(key []byte) (qrank.ChannelID, bool) {
	prefix := r.prefix + channelSubPrefix
	if len(key) != len(prefix)+8 || string(key[:len(prefix)]) != prefix {
		return 0, false
	}
	raw := binary.BigEndian.Uint64(key[len(prefix):]) ^ (1 << 63)
	return qrank.ChannelID(int64(raw)), true
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func readUint64(db *pebble.DB, key []byte) (uint64, bool, error) {
	value, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("qstore: get %s: %w", key, err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, false, fmt.Errorf("qstore: %s has invalid length %d", key, len(value))
	}
	return binary.BigEndian.Uint64(value), true, nil
}
