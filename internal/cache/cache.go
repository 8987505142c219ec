// Package cache keeps at most one generated avatar asset per device,
// keyed by a fingerprint of the owning profile's identity and body
// attributes. Metadata (fingerprint, filename, checksum) lives in a small
// SQLite database; the asset bytes live as a single file next to it.
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go-avatar-pipeline/internal/helpers"
	"go-avatar-pipeline/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// ErrClosed is returned for operations on a closed cache.
var ErrClosed = errors.New("asset cache is closed")

const (
	metadataFilename = "cache.db"
	modelsSubdir     = "models"
)

type requestKind int

const (
	reqStore requestKind = iota
	reqClear
)

// writeRequest is one unit of work for the single-writer queue. Store and
// clear both flow through it so backing-file mutations are strictly
// serialized in submission order.
type writeRequest struct {
	kind    requestKind
	data    []byte
	profile models.UserProfile
	result  chan error
}

// AssetCache is the single-slot, attribute-keyed local store for the
// generated 3D asset. Lookups are read-only and lock-free with respect to
// the writer queue; all mutations are funneled through one goroutine.
type AssetCache struct {
	root      string
	modelsDir string
	meta      *metaDB

	requests chan writeRequest
	writerWG sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open initializes the cache rooted at dir, creating directories as
// needed. If the on-disk metadata carries an older keying scheme (or any
// schema version other than the current one), the whole cache is wiped:
// attribute-sensitive invalidation is worth more than preserving hits
// across an upgrade.
func Open(dir string) (*AssetCache, error) {
	modelsDir := filepath.Join(dir, modelsSubdir)
	if !helpers.CheckAndMakeDir(modelsDir) {
		return nil, fmt.Errorf("failed to create cache directory %s", modelsDir)
	}

	meta, err := openMeta(filepath.Join(dir, metadataFilename))
	if err != nil {
		return nil, err
	}

	c := &AssetCache{
		root:      dir,
		modelsDir: modelsDir,
		meta:      meta,
		requests:  make(chan writeRequest, 16),
	}

	if err := c.migrateIfNeeded(); err != nil {
		meta.Close()
		return nil, err
	}

	c.writerWG.Add(1)
	go c.writerLoop()

	return c, nil
}

// migrateIfNeeded wipes stale cache state left by older keying schemes.
func (c *AssetCache) migrateIfNeeded() error {
	legacy, err := c.meta.hasLegacyTable()
	if err != nil {
		return err
	}
	stored, err := c.meta.storedSchemaVersion()
	if err != nil {
		return err
	}

	if legacy || stored != schemaVersion {
		if legacy {
			log.Info("Legacy identity-only cache metadata detected, clearing cache")
			if err := c.meta.dropLegacyTable(); err != nil {
				return err
			}
		} else if stored != 0 {
			log.Infof("Cache schema version %d does not match current %d, clearing cache", stored, schemaVersion)
		}
		if err := c.wipe(); err != nil {
			return err
		}
		if err := c.meta.stampSchemaVersion(); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint derives the cache equality key from a profile: normalized
// identity plus gender, height and weight, delimited so that distinct
// attribute tuples essentially never collide. A body-attribute change
// therefore invalidates the cache even for the same user.
func Fingerprint(profile models.UserProfile) string {
	return fmt.Sprintf("%s|%s|%d|%d", normalizeIdentity(profile.Email), profile.Gender, profile.Height, profile.Weight)
}

// normalizeIdentity lowercases the identity and maps every
// non-alphanumeric rune to '_', keeping the fingerprint filesystem- and
// comparison-safe regardless of what the identity contains.
func normalizeIdentity(identity string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(identity)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// blobFilename names the backing file for a fingerprint.
func blobFilename(fingerprint string) string {
	return "avatar_" + helpers.ConvertToSlug(fingerprint) + ".glb"
}

// Lookup returns the cached asset bytes for the profile, or ok=false on
// any mismatch: no entry yet, fingerprint difference, missing backing
// file, or checksum corruption. It never returns an error; a broken cache
// is just a miss.
func (c *AssetCache) Lookup(profile models.UserProfile) ([]byte, bool) {
	fp := Fingerprint(profile)

	e, err := c.meta.getEntry()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warn("Cache metadata read failed, treating as miss")
		}
		return nil, false
	}

	if e.Fingerprint != fp {
		log.Debugf("Cache fingerprint mismatch (have %q, want %q)", e.Fingerprint, fp)
		return nil, false
	}

	path := filepath.Join(c.modelsDir, e.Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Debugf("Cached asset file %s unreadable, treating as miss", path)
		return nil, false
	}

	if sum := checksum(data); sum != e.Checksum {
		log.Warnf("Cached asset checksum mismatch for %s (have %s, want %s), treating as miss", e.Filename, sum, e.Checksum)
		return nil, false
	}

	log.Infof("Cache hit for %s (%s)", e.Filename, helpers.BytesToSize(uint64(len(data))))
	return data, true
}

// Store writes the asset bytes for the profile, superseding whatever
// entry existed before. The call blocks until the write has committed,
// but writes are processed strictly in submission order by a single
// writer, so concurrent stores never interleave on the backing file.
func (c *AssetCache) Store(data []byte, profile models.UserProfile) error {
	return c.submit(writeRequest{kind: reqStore, data: data, profile: profile, result: make(chan error, 1)})
}

// Clear deletes the backing bytes and metadata unconditionally.
// Clearing an already-empty cache is not an error.
func (c *AssetCache) Clear() error {
	return c.submit(writeRequest{kind: reqClear, result: make(chan error, 1)})
}

func (c *AssetCache) submit(req writeRequest) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.requests <- req
	c.mu.Unlock()
	return <-req.result
}

// writerLoop is the single writer: it drains the request queue in FIFO
// order until Close.
func (c *AssetCache) writerLoop() {
	defer c.writerWG.Done()
	for req := range c.requests {
		switch req.kind {
		case reqStore:
			req.result <- c.doStore(req.data, req.profile)
		case reqClear:
			req.result <- c.wipe()
		}
	}
}

// doStore performs one serialized store: write to a temp file, rename
// into place, drop the superseded blob, then commit metadata.
func (c *AssetCache) doStore(data []byte, profile models.UserProfile) error {
	fp := Fingerprint(profile)
	filename := blobFilename(fp)
	finalPath := filepath.Join(c.modelsDir, filename)

	prev, prevErr := c.meta.getEntry()

	tempFile, err := os.CreateTemp(c.modelsDir, filename+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary cache file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("writing temporary cache file %s: %w", tempName, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("closing temporary cache file %s: %w", tempName, err)
	}

	if err := os.Rename(tempName, finalPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("renaming cache file into place: %w", err)
	}

	// Single-slot: physically remove the superseded entry's bytes.
	if prevErr == nil && prev.Filename != filename {
		if err := os.Remove(filepath.Join(c.modelsDir, prev.Filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warnf("Failed to remove superseded cache file %s", prev.Filename)
		}
	}

	if err := c.meta.putEntry(entry{Fingerprint: fp, Filename: filename, Checksum: checksum(data)}); err != nil {
		return err
	}

	log.Infof("Cached asset %s (%s)", filename, helpers.BytesToSize(uint64(len(data))))
	return nil
}

// wipe removes every blob file and the metadata row.
func (c *AssetCache) wipe() error {
	entries, err := os.ReadDir(c.modelsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading cache directory %s: %w", c.modelsDir, err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(c.modelsDir, de.Name())
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warnf("Failed to remove cache file %s", path)
		}
	}
	return c.meta.deleteEntry()
}

// Size reports the total bytes held under the cache's models directory.
func (c *AssetCache) Size() (uint64, error) {
	var total uint64
	err := filepath.WalkDir(c.modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return total, err
}

// Entry exposes the current metadata row for introspection (cache show).
func (c *AssetCache) Entry() (string, string, error) {
	e, err := c.meta.getEntry()
	if err != nil {
		return "", "", err
	}
	return e.Fingerprint, e.Filename, nil
}

// Close drains the writer queue and closes the metadata database.
// Operations submitted after Close return ErrClosed.
func (c *AssetCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.requests)
	c.mu.Unlock()

	c.writerWG.Wait()
	return c.meta.Close()
}

// checksum is the hex BLAKE3 digest of the asset bytes, verified on every
// lookup before the bytes are handed back.
func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
