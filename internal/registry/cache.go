package registry

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/gob"
	"encoding/hex"
	"sync"

	_ "modernc.org/sqlite"

	"fixscript/internal/compiler"
)

// Cache is an optional on-disk, content-addressed bytecode cache: scripts
// are keyed by a hash of their source text rather than by name, so two
// registries (or two processes) loading byte-identical source never
// recompile it. Pure Go via modernc.org/sqlite, so the embeddable core
// never needs cgo just to skip recompilation.
type Cache struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenCache opens (creating if needed) a sqlite-backed cache at path. Pass
// ":memory:" for a process-local cache with no disk persistence.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bytecode_cache (
		hash TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Load fetches name's source via load, then returns its compiled Result
// from cache when the source's content hash already has an entry, compiling
// and storing it otherwise.
func (c *Cache) Load(name string, load LoadScriptFunc) (*compiler.Result, error) {
	src, err := load(name)
	if err != nil {
		return nil, err
	}
	key := contentHash(src)

	if res, ok := c.get(key); ok {
		return res, nil
	}
	res, err := compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	c.put(key, res)
	return res, nil
}

// Invalidate is a no-op: entries are addressed by content hash, not by
// name, so a reload with genuinely changed source simply misses and
// repopulates under its own hash. Kept so callers don't need to special-
// case cache-less registries at reload sites.
func (c *Cache) Invalidate(name string) {}

func (c *Cache) get(key string) (*compiler.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow(`SELECT data FROM bytecode_cache WHERE hash = ?`, key).Scan(&data)
	if err != nil {
		return nil, false
	}
	var res compiler.Result
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&res); err != nil {
		return nil, false
	}
	return &res, true
}

func (c *Cache) put(key string, res *compiler.Result) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(res); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db.Exec(`INSERT OR REPLACE INTO bytecode_cache (hash, data) VALUES (?, ?)`, key, buf.Bytes())
}

func contentHash(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}
