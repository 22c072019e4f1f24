package IO

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cespare/xxhash/v2"
	badger "github.com/dgraph-io/badger/v4"
)

// TranscriptCache remembers transcripts by model digest and audio content so
// re-runs over the same folder skip decoding.
type TranscriptCache struct {
	db *badger.DB
}

type CacheOptions struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

func OpenTranscriptCache(opts CacheOptions) (*TranscriptCache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("transcript cache: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open transcript cache: %w", err)
	}
	return &TranscriptCache{db: db}, nil
}

// AudioDigest is the content hash used as the audio half of a cache key.
func AudioDigest(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func cacheKey(model, audio uint64) []byte {
	k := strconv.FormatUint(model, 16) + "/" + strconv.FormatUint(audio, 16)
	return []byte(k)
}

// Get returns the cached transcript and whether it was present.
func (c *TranscriptCache) Get(model, audio uint64) (string, bool, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(model, audio))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(val), true, nil
}

func (c *TranscriptCache) Put(model, audio uint64, text string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(model, audio), []byte(text))
	})
}

func (c *TranscriptCache) Close() error {
	return c.db.Close()
}

// badgerLogger routes badger's printf-style logging to slog. Badger is chatty
// at info level, so info goes to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
