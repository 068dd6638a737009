package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketData = []byte("objects")
	bucketInfo = []byte("object_info")
)

// infoRecord is the JSON form of Info kept in bucketInfo.
type infoRecord struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
}

// BoltStore implements Store on a single bbolt file. Object bodies and their
// Info live in separate buckets under the same key and are written in one
// transaction.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketData, bucketInfo} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Put implements Store.Put.
func (s *BoltStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := json.Marshal(infoRecord{
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: s.now().UTC(),
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketData).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket(bucketInfo).Put([]byte(key), rec)
	})
}

// Get implements Store.Get.
func (s *BoltStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var obj *Object
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketInfo).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		info, err := decodeInfo(key, raw)
		if err != nil {
			return err
		}
		v := tx.Bucket(bucketData).Get([]byte(key))
		data := make([]byte, len(v))
		copy(data, v)
		obj = &Object{Info: info, Data: data}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Head implements Store.Head.
func (s *BoltStore) Head(ctx context.Context, key string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	var info Info
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketInfo).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		var err error
		info, err = decodeInfo(key, raw)
		return err
	})
	return info, err
}

// Delete implements Store.Delete.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		info := tx.Bucket(bucketInfo)
		if info.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		if err := info.Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketData).Delete([]byte(key))
	})
}

// List implements Store.List. bbolt keeps keys in byte order, so the cursor
// walk from prefix already yields sorted results.
func (s *BoltStore) List(ctx context.Context, prefix string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Info, 0)
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInfo).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			info, err := decodeInfo(string(k), v)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Store.Close.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decodeInfo(key string, raw []byte) (Info, error) {
	var rec infoRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Info{}, fmt.Errorf("decode info for %q: %w", key, err)
	}
	return Info{
		Key:          key,
		Size:         rec.Size,
		ContentType:  rec.ContentType,
		LastModified: rec.LastModified,
	}, nil
}
