package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go-avatar-pipeline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() models.UserProfile {
	return models.UserProfile{
		Email:    "user@example.com",
		Nickname: "tester",
		Gender:   models.GenderMale,
		Height:   180,
		Weight:   80,
	}
}

func openTestCache(t *testing.T) (*AssetCache, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err, "Failed to open cache")
	t.Cleanup(func() { c.Close() })
	return c, dir
}

func TestCacheStoreLookupRoundtrip(t *testing.T) {
	c, _ := openTestCache(t)
	profile := testProfile()

	_, ok := c.Lookup(profile)
	assert.False(t, ok, "Fresh cache should miss")

	payload := []byte("glb model bytes")
	require.NoError(t, c.Store(payload, profile), "Store should succeed")

	data, ok := c.Lookup(profile)
	require.True(t, ok, "Lookup after store should hit")
	assert.Equal(t, payload, data, "Lookup should return the stored bytes")
}

func TestCacheFingerprintSensitivity(t *testing.T) {
	c, _ := openTestCache(t)
	profile := testProfile()
	require.NoError(t, c.Store([]byte("original"), profile))

	t.Run("weight change misses", func(t *testing.T) {
		p := profile
		p.Weight = 81
		_, ok := c.Lookup(p)
		assert.False(t, ok, "Changed weight should invalidate the cache")
	})

	t.Run("height change misses", func(t *testing.T) {
		p := profile
		p.Height = 181
		_, ok := c.Lookup(p)
		assert.False(t, ok)
	})

	t.Run("gender change misses", func(t *testing.T) {
		p := profile
		p.Gender = models.GenderFemale
		_, ok := c.Lookup(p)
		assert.False(t, ok)
	})

	t.Run("identity is case insensitive", func(t *testing.T) {
		p := profile
		p.Email = "USER@Example.COM"
		_, ok := c.Lookup(p)
		assert.True(t, ok, "Identity casing should not affect the fingerprint")
	})

	t.Run("nickname does not key the cache", func(t *testing.T) {
		p := profile
		p.Nickname = "someone-else"
		_, ok := c.Lookup(p)
		assert.True(t, ok, "Nickname is not part of the fingerprint")
	})
}

func TestCacheSingleSlot(t *testing.T) {
	c, dir := openTestCache(t)

	first := testProfile()
	second := testProfile()
	second.Email = "other@example.com"

	require.NoError(t, c.Store([]byte("first avatar"), first))
	require.NoError(t, c.Store([]byte("second avatar"), second))

	_, ok := c.Lookup(first)
	assert.False(t, ok, "Superseded entry should miss")

	data, ok := c.Lookup(second)
	require.True(t, ok, "Latest entry should hit")
	assert.Equal(t, []byte("second avatar"), data)

	// Only one blob remains on disk.
	entries, err := os.ReadDir(filepath.Join(dir, modelsSubdir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "Single-slot cache should hold exactly one blob")
}

func TestCacheChecksumVerification(t *testing.T) {
	c, dir := openTestCache(t)
	profile := testProfile()
	require.NoError(t, c.Store([]byte("pristine bytes"), profile))

	// Corrupt the backing file behind the cache's back.
	modelsDir := filepath.Join(dir, modelsSubdir)
	entries, err := os.ReadDir(modelsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	blobPath := filepath.Join(modelsDir, entries[0].Name())
	require.NoError(t, os.WriteFile(blobPath, []byte("corrupted bytes"), 0644))

	_, ok := c.Lookup(profile)
	assert.False(t, ok, "Corrupted blob should be treated as a miss")
}

func TestCacheClear(t *testing.T) {
	c, _ := openTestCache(t)
	profile := testProfile()
	require.NoError(t, c.Store([]byte("something"), profile))

	require.NoError(t, c.Clear(), "Clear should succeed")
	_, ok := c.Lookup(profile)
	assert.False(t, ok, "Lookup after clear should miss")

	require.NoError(t, c.Clear(), "Clearing an empty cache should not error")
}

func TestCacheLegacyMetadataWipesOnOpen(t *testing.T) {
	dir := t.TempDir()
	modelsDir := filepath.Join(dir, modelsSubdir)
	require.NoError(t, os.MkdirAll(modelsDir, 0700))

	// Simulate the identity-only keying scheme: its own metadata table
	// and a stale blob.
	db, err := sql.Open("sqlite3", filepath.Join(dir, metadataFilename))
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE cache_owner (identity TEXT PRIMARY KEY, filename TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO cache_owner (identity, filename) VALUES ('user@example.com', 'stale.glb')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	stalePath := filepath.Join(modelsDir, "stale.glb")
	require.NoError(t, os.WriteFile(stalePath, []byte("stale"), 0644))

	c, err := Open(dir)
	require.NoError(t, err, "Open should migrate, not fail")
	defer c.Close()

	_, statErr := os.Stat(stalePath)
	assert.True(t, os.IsNotExist(statErr), "Stale blob should be removed during migration")

	_, ok := c.Lookup(testProfile())
	assert.False(t, ok, "Migrated cache should be empty")

	// The new cache works normally after the wipe.
	require.NoError(t, c.Store([]byte("fresh"), testProfile()))
	data, ok := c.Lookup(testProfile())
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), data)
}

func TestCacheSchemaVersionMismatchWipesOnOpen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.Store([]byte("old scheme bytes"), testProfile()))
	require.NoError(t, c.Close())

	// Rewind the schema tag as if an older build had written the cache.
	db, err := sql.Open("sqlite3", filepath.Join(dir, metadataFilename))
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c, err = Open(dir)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Lookup(testProfile())
	assert.False(t, ok, "Version mismatch should wipe the cache on open")

	size, err := c.Size()
	require.NoError(t, err)
	assert.Zero(t, size, "Wiped cache should hold no bytes")
}

func TestCacheEntryAndSize(t *testing.T) {
	c, _ := openTestCache(t)
	profile := testProfile()

	_, _, err := c.Entry()
	assert.ErrorIs(t, err, ErrNotFound, "Empty cache should report ErrNotFound")

	payload := []byte("sized payload")
	require.NoError(t, c.Store(payload, profile))

	fingerprint, filename, err := c.Entry()
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(profile), fingerprint)
	assert.NotEmpty(t, filename)

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), size)
}

func TestCacheClosed(t *testing.T) {
	c, _ := openTestCache(t)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Store([]byte("x"), testProfile()), ErrClosed)
	assert.ErrorIs(t, c.Clear(), ErrClosed)
	assert.NoError(t, c.Close(), "Closing twice should be a no-op")
}

func TestCacheConcurrentStores(t *testing.T) {
	c, dir := openTestCache(t)
	profile := testProfile()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("avatar payload %d", i))
			assert.NoError(t, c.Store(payload, profile))
		}(i)
	}
	wg.Wait()

	// Whatever store committed last, the cache must be internally
	// consistent: the lookup verifies the checksum itself.
	data, ok := c.Lookup(profile)
	require.True(t, ok, "Cache should hit after concurrent stores")
	assert.Contains(t, string(data), "avatar payload ")

	entries, err := os.ReadDir(filepath.Join(dir, modelsSubdir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "Concurrent stores to one fingerprint share one blob")
}
