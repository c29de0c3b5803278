package channeldb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	bolt "go.etcd.io/bbolt"
)

const (
	dbName           = "channel.db"
	dbFilePermission = 0600
)

// log is the subsystem logger, wired up by SetLogger from the daemon's
// logging setup. It defaults to the library's disabled logger so the
// package is silent when used standalone (e.g. from tests).
var log = btclog.Disabled

// SetLogger assigns the channeldb subsystem logger.
func SetLogger(l btclog.Logger) {
	log = l
}

// migration mutates the bucket structure of a prior database version into
// the next one, so a schema change never requires a destructive Wipe. The
// versions and their migrations are listed in dbVersions below.
type migration func(tx *bolt.Tx) error

type version struct {
	number    uint32
	migration migration
}

// dbVersions enumerates every schema version in ascending order. The base
// version requires no migration; version 1 adds the open-channel-by-client
// secondary index (§3.5, §6.3) for databases created before it existed.
var dbVersions = []version{
	{number: 0, migration: nil},
	{number: 1, migration: migrateAddClientIndex},
}

func migrateAddClientIndex(tx *bolt.Tx) error {
	_, err := tx.CreateBucketIfNotExists(clientIndexBucket)
	return err
}

var (
	channelBucket     = []byte("channels")
	metaBucket        = []byte("meta")
	clientIndexBucket = []byte("open_by_client")
)

// DB is the channel state store: a single bbolt file holding every
// channel record, keyed by channel ID. Every mutating operation on it runs
// inside one bbolt.Update transaction so the load, guard check, and store
// described by the store's atomicity requirement never split across
// separate round-trips (§4.2.2).
type DB struct {
	*bolt.DB
	dbPath string
}

// Open opens the channel database at dbPath, creating it and its buckets if
// this is the first run, then synchronizing its schema version.
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbName)

	if !fileExists(path) {
		if err := createChannelDB(dbPath); err != nil {
			return nil, err
		}
	}

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	chanDB := &DB{
		DB:     bdb,
		dbPath: dbPath,
	}

	if err := chanDB.syncVersions(dbVersions); err != nil {
		bdb.Close()
		return nil, err
	}

	return chanDB, nil
}

// Wipe deletes every stored channel in a single atomic transaction. It
// exists for tests; production callers never need it.
func (d *DB) Wipe() error {
	return d.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(channelBucket)
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(channelBucket); err != nil {
			return err
		}

		err = tx.DeleteBucket(clientIndexBucket)
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err = tx.CreateBucket(clientIndexBucket)
		return err
	})
}

// createChannelDB initializes a fresh database file and its top-level
// buckets, stamped with the latest schema version.
func createChannelDB(dbPath string) error {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return err
		}
	}

	path := filepath.Join(dbPath, dbName)
	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return err
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucket(channelBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(metaBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(clientIndexBucket); err != nil {
			return err
		}

		meta := &Meta{DbVersionNumber: getLatestDBVersion(dbVersions)}
		return putMeta(meta, tx)
	})
	if err != nil {
		bdb.Close()
		return fmt.Errorf("unable to create new channeldb: %w", err)
	}

	return bdb.Close()
}

// fileExists returns true if the file at path exists.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

func (d *DB) syncVersions(versions []version) error {
	meta, err := d.fetchMeta()
	if err != nil {
		if err == ErrMetaNotFound {
			meta = &Meta{}
		} else {
			return err
		}
	}

	latestVersion := getLatestDBVersion(versions)
	log.Infof("Checking for schema update: latest_version=%v, "+
		"db_version=%v", latestVersion, meta.DbVersionNumber)
	if meta.DbVersionNumber == latestVersion {
		return nil
	}

	log.Infof("Performing database schema migration")

	migrations, migrationVersions := getMigrationsToApply(versions,
		meta.DbVersionNumber)
	return d.Update(func(tx *bolt.Tx) error {
		for i, migration := range migrations {
			if migration == nil {
				continue
			}
			log.Infof("Applying migration #%v", migrationVersions[i])
			if err := migration(tx); err != nil {
				log.Infof("Unable to apply migration #%v",
					migrationVersions[i])
				return err
			}
		}
		meta.DbVersionNumber = latestVersion
		return putMeta(meta, tx)
	})
}

func getLatestDBVersion(versions []version) uint32 {
	return versions[len(versions)-1].number
}

func getMigrationsToApply(versions []version, version uint32) ([]migration, []uint32) {
	migrations := make([]migration, 0, len(versions))
	migrationVersions := make([]uint32, 0, len(versions))

	for _, v := range versions {
		if v.number > version {
			migrations = append(migrations, v.migration)
			migrationVersions = append(migrationVersions, v.number)
		}
	}

	return migrations, migrationVersions
}
