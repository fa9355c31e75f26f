package database

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// Database schema version
const CurrentSchemaVersion = 2

// Bucket names
const (
	BucketAssignments = "assignments"
	BucketIPHistory   = "ip_history"
	bucketMigrations  = "migrations"
	bucketMeta        = "meta"
)

// snapshotKey is the single key each snapshot bucket stores its document under
var snapshotKey = []byte("snapshot")

// Migration represents a database migration
type Migration struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// DatabaseManager wraps a bbolt file holding the fleet snapshots
type DatabaseManager struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the database and brings its schema up to date
func Open(dbPath string, logger *slog.Logger) (*DatabaseManager, error) {
	db, err := bbolt.Open(dbPath, dataFilePerms, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	dm := &DatabaseManager{db: db, logger: logger}

	if err := dm.db.Update(dm.runMigrations); err != nil {
		db.Close()
		return nil, err
	}

	return dm, nil
}

func (dm *DatabaseManager) runMigrations(tx *bbolt.Tx) error {
	migrationsBucket, err := tx.CreateBucketIfNotExists([]byte(bucketMigrations))
	if err != nil {
		return err
	}

	currentVersion := 0
	if data := migrationsBucket.Get([]byte("schema_version")); data != nil {
		if err := json.Unmarshal(data, &currentVersion); err != nil {
			return fmt.Errorf("decode schema version: %w", err)
		}
	}

	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	for version := currentVersion + 1; version <= CurrentSchemaVersion; version++ {
		migration, err := dm.runMigration(tx, version)
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}

		migrationData, err := json.Marshal(migration)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("migration_%03d", version)
		if err := migrationsBucket.Put([]byte(key), migrationData); err != nil {
			return err
		}
		dm.logger.Info("Applied migration", "version", version, "description", migration.Description)
	}

	versionData, _ := json.Marshal(CurrentSchemaVersion)
	return migrationsBucket.Put([]byte("schema_version"), versionData)
}

func (dm *DatabaseManager) runMigration(tx *bbolt.Tx, version int) (Migration, error) {
	migration := Migration{
		Version:   version,
		AppliedAt: time.Now(),
	}

	switch version {
	case 1:
		migration.Description = "Snapshot buckets for assignments and IP history"
		return migration, dm.migration001_SnapshotBuckets(tx)
	case 2:
		migration.Description = "Per-bucket write bookkeeping"
		return migration, dm.migration002_Meta(tx)
	default:
		return migration, fmt.Errorf("unknown migration version: %d", version)
	}
}

func (dm *DatabaseManager) migration001_SnapshotBuckets(tx *bbolt.Tx) error {
	for _, bucket := range []string{BucketAssignments, BucketIPHistory} {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return err
		}
	}
	return nil
}

func (dm *DatabaseManager) migration002_Meta(tx *bbolt.Tx) error {
	meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
	if err != nil {
		return err
	}

	// Seed bookkeeping for snapshots written before the meta bucket existed.
	for _, bucket := range []string{BucketAssignments, BucketIPHistory} {
		if tx.Bucket([]byte(bucket)).Get(snapshotKey) == nil {
			continue
		}
		data, _ := json.Marshal(SnapshotMeta{Bucket: bucket})
		if err := meta.Put([]byte(bucket), data); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotMeta records when a snapshot bucket was last written
type SnapshotMeta struct {
	Bucket    string    `json:"bucket"`
	Writes    int64     `json:"writes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SchemaVersion returns the stored schema version
func (dm *DatabaseManager) SchemaVersion() (int, error) {
	var version int
	err := dm.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketMigrations)).Get([]byte("schema_version"))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &version)
	})
	return version, err
}

// Meta returns the write bookkeeping of a snapshot bucket
func (dm *DatabaseManager) Meta(bucket string) (*SnapshotMeta, error) {
	var meta *SnapshotMeta
	err := dm.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketMeta)).Get([]byte(bucket))
		if data == nil {
			return fmt.Errorf("no metadata for bucket %s", bucket)
		}
		meta = &SnapshotMeta{}
		return json.Unmarshal(data, meta)
	})
	return meta, err
}

// Store returns a SnapshotStore backed by one bucket of the database
func (dm *DatabaseManager) Store(bucket string) SnapshotStore {
	return &boltStore{dm: dm, bucket: []byte(bucket)}
}

// Close closes the database
func (dm *DatabaseManager) Close() error {
	return dm.db.Close()
}

type boltStore struct {
	dm     *DatabaseManager
	bucket []byte
}

func (bs *boltStore) Load(v any) (bool, error) {
	found := false
	err := bs.dm.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bs.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s does not exist", bs.bucket)
		}
		data := bucket.Get(snapshotKey)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	if err == bbolt.ErrDatabaseNotOpen {
		return false, ErrClosed
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", bs.bucket, err)
	}
	return found, nil
}

func (bs *boltStore) Save(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bs.bucket, err)
	}

	err = bs.dm.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bs.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s does not exist", bs.bucket)
		}
		if err := bucket.Put(snapshotKey, data); err != nil {
			return err
		}
		return bs.touch(tx)
	})
	if err == bbolt.ErrDatabaseNotOpen {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", bs.bucket, err)
	}
	return nil
}

func (bs *boltStore) touch(tx *bbolt.Tx) error {
	metaBucket := tx.Bucket([]byte(bucketMeta))
	meta := SnapshotMeta{Bucket: string(bs.bucket)}
	if data := metaBucket.Get(bs.bucket); data != nil {
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
	}
	meta.Writes++
	meta.UpdatedAt = time.Now()

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return metaBucket.Put(bs.bucket, data)
}
