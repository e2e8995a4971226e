package kvbackend

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/func/seeder/storage"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// DefaultBoltFile is the state file used by NewBolt, relative to the home
// directory of the current user.
var DefaultBoltFile = filepath.Join(".seeder", "state.db")

// Bolt stores key-value pairs in bolt db. Each bucket of a key maps to a
// bolt bucket.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens the state file in the default location.
func NewBolt() (*Bolt, error) {
	u, err := user.Current()
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return NewBoltWithFile(filepath.Join(u.HomeDir, DefaultBoltFile))
}

// NewBoltWithFile creates and opens a database at the given path. If the file
// or directory do not exist, they are created.
func NewBoltWithFile(file string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return nil, errors.Wrapf(err, "ensure dir exists: %s", filepath.Dir(file))
	}
	db, err := bolt.Open(file, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt db %s", file)
	}
	return &Bolt{db: db}, nil
}

// Close closes the database and releases the file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Put creates or updates a value.
func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	buc, k, err := splitKey(key)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(buc)
		if err != nil {
			return errors.Wrap(err, "ensure bucket exists")
		}
		return bucket.Put(k, value)
	})
}

// Get returns a single value.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	buc, k, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	var ret []byte
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(buc)
		if bucket == nil {
			return storage.ErrNotFound
		}
		data := bucket.Get(k)
		if data == nil {
			return storage.ErrNotFound
		}
		// Data is only valid within the transaction.
		ret = append([]byte{}, data...)
		return nil
	})
	return ret, err
}

// Delete deletes a key.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	buc, k, err := splitKey(key)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(buc)
		if bucket == nil || bucket.Get(k) == nil {
			return storage.ErrNotFound
		}
		return errors.Wrap(bucket.Delete(k), "delete key")
	})
}

// Scan returns all values directly within a bucket.
func (b *Bolt) Scan(ctx context.Context, bucket string) (map[string][]byte, error) {
	if bucket == "" || strings.HasSuffix(bucket, "/") {
		return nil, errors.Errorf("invalid bucket %q", bucket)
	}
	ret := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			if v == nil {
				// Nested bucket.
				return nil
			}
			ret[bucket+"/"+string(k)] = append([]byte{}, v...)
			return nil
		})
	})
	return ret, err
}

// splitKey splits a key at the last slash:
//
//   applied/monsoon3/domains
//   ->
//   bucket: applied/monsoon3
//   key:    domains
func splitKey(input string) (bucket, key []byte, err error) {
	if strings.HasPrefix(input, "/") || strings.HasSuffix(input, "/") {
		return nil, nil, errors.Errorf("invalid key %q: leading or trailing slash", input)
	}
	slash := strings.LastIndex(input, "/")
	if slash == -1 {
		return nil, nil, errors.Errorf("invalid key %q: no bucket", input)
	}
	return []byte(input[:slash]), []byte(input[slash+1:]), nil
}
