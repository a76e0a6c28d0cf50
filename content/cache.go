package content

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/hkdf"

	"asc.dev/asc/hash"
)

var (
	bucketHeader      = []byte("header")
	bucketPrefixIndex = []byte("prefix_index")
	bucketTipCache    = []byte("tip_cache")

	headerIntegrityKey = []byte("integrity_tag")
)

// Cache is a derived, rebuildable bbolt-backed metadata cache sitting beside
// the content-addressed blob Store. It holds a prefix_index bucket (every
// known hash, for fast abbreviated-hash lookup) and a tip_cache bucket
// (branch/tag name to tip hash, read-through, invalidated on every
// Repository.Save). Nothing in it is authoritative: it is entirely
// reconstructible from the repository's on-disk graph, branches and tags,
// so a corrupt or stale cache file is discarded and rebuilt rather than
// trusted.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if necessary) the cache database at path. The
// cache is keyed to projectCode: if the stored integrity tag doesn't match
// the tag derived from projectCode - because the file is foreign, stale, or
// hand-edited - it's wiped and rebuilt empty rather than trusted.
func OpenCache(path string, projectCode hash.ObjectHash) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 200 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	c := &Cache{db: db}
	if err := c.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	ok, err := c.checkIntegrity(projectCode)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !ok {
		if err := c.reset(projectCode); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) ensureBuckets() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeader, bucketPrefixIndex, bucketTipCache} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create cache bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// integrityTag derives a deterministic, encryption-free tag from
// projectCode via HKDF. It exists purely to detect a cache file built for
// a different repository (or hand-edited) so it can be discarded - it is
// not a secret and carries no confidentiality.
func integrityTag(projectCode hash.ObjectHash) ([]byte, error) {
	reader := hkdf.New(sha256.New, projectCode.Bytes(), nil, []byte("asc-cache-integrity"))
	tag := make([]byte, sha256.Size)
	if _, err := io.ReadFull(reader, tag); err != nil {
		return nil, fmt.Errorf("derive cache integrity tag: %w", err)
	}
	return tag, nil
}

func (c *Cache) checkIntegrity(projectCode hash.ObjectHash) (bool, error) {
	want, err := integrityTag(projectCode)
	if err != nil {
		return false, err
	}
	var got []byte
	err = c.db.View(func(tx *bolt.Tx) error {
		got = tx.Bucket(bucketHeader).Get(headerIntegrityKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read cache integrity tag: %w", err)
	}
	return bytes.Equal(got, want), nil
}

// reset wipes every bucket and re-stamps the header with projectCode's
// integrity tag, leaving an empty but now-trustworthy cache.
func (c *Cache) reset(projectCode hash.ObjectHash) error {
	tag, err := integrityTag(projectCode)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketPrefixIndex, bucketTipCache} {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("reset cache bucket %s: %w", b, err)
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return fmt.Errorf("recreate cache bucket %s: %w", b, err)
			}
		}
		return tx.Bucket(bucketHeader).Put(headerIntegrityKey, tag)
	})
}

// Close releases the underlying bbolt file handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordHash adds h to the prefix index, a no-op if it's already present.
func (c *Cache) RecordHash(h hash.ObjectHash) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrefixIndex).Put([]byte(h.Full()), nil)
	})
}

// PrefixLookup returns every hash in the index whose hex form starts with
// prefix, in ascending order.
func (c *Cache) PrefixLookup(prefix string) ([]hash.ObjectHash, error) {
	var out []hash.ObjectHash
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketPrefixIndex).Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := cur.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, _ = cur.Next() {
			h, err := hash.FromHex(string(k))
			if err != nil {
				return fmt.Errorf("cache prefix index: %w", err)
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearTips empties the tip_cache bucket, used before a full repopulation
// on every Repository.Save.
func (c *Cache) ClearTips() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketTipCache); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("clear tip cache: %w", err)
		}
		_, err := tx.CreateBucket(bucketTipCache)
		return err
	})
}

// SetTip records name's current tip hash.
func (c *Cache) SetTip(name string, h hash.ObjectHash) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTipCache).Put([]byte(name), h.Bytes())
	})
}

// GetTip looks up name's cached tip hash.
func (c *Cache) GetTip(name string) (hash.ObjectHash, bool, error) {
	var h hash.ObjectHash
	var ok bool
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTipCache).Get([]byte(name))
		if v == nil {
			return nil
		}
		if len(v) != hash.Size {
			return fmt.Errorf("tip cache entry %q: expected %d bytes, got %d", name, hash.Size, len(v))
		}
		copy(h[:], v)
		ok = true
		return nil
	})
	if err != nil {
		return hash.ObjectHash{}, false, err
	}
	return h, ok, nil
}
