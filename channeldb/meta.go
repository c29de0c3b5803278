package channeldb

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"
)

var metaKey = []byte("meta")

// Meta holds database-wide metadata distinct from any single channel
// record, presently just the schema version.
type Meta struct {
	DbVersionNumber uint32
}

func (d *DB) fetchMeta() (*Meta, error) {
	var meta *Meta
	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(metaBucket)
		if bucket == nil {
			return ErrMetaNotFound
		}

		data := bucket.Get(metaKey)
		if data == nil {
			return ErrMetaNotFound
		}

		meta = &Meta{DbVersionNumber: binary.BigEndian.Uint32(data)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func putMeta(meta *Meta, tx *bolt.Tx) error {
	bucket, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}

	var data [4]byte
	binary.BigEndian.PutUint32(data[:], meta.DbVersionNumber)
	return bucket.Put(metaKey, data[:])
}
