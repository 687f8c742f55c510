// Package database keeps a local log of check-in attempts in a bbolt file,
// for the status API and for troubleshooting on site. No reader or card
// state lives here; the file only records outcomes.
package database

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/checkinhq/checkind/pkg/config"
)

const (
	BucketHistory = "history"
)

func dbFile(cfg *config.UserConfig) string {
	return filepath.Join(filepath.Dir(cfg.AppPath), config.DbFilename)
}

// Open the db with the given options. If the database does not exist it
// will be created and the buckets will be initialized.
func open(cfg *config.UserConfig, options *bolt.Options) (*bolt.DB, error) {
	path := dbFile(cfg)

	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, options)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists([]byte(BucketHistory))
		return err
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}

type Database struct {
	bdb *bolt.DB
}

func Open(cfg *config.UserConfig) (*Database, error) {
	db, err := open(cfg, &bolt.Options{})
	if err != nil {
		return nil, err
	}

	return &Database{bdb: db}, nil
}

func (d *Database) Close() error {
	return d.bdb.Close()
}

// HistoryEntry is the outcome of one badge tap.
type HistoryEntry struct {
	Time    time.Time `json:"time"`
	Reader  string    `json:"reader"`
	User    string    `json:"user"`
	Tag     string    `json:"tag"`
	Success bool      `json:"success"`
}

func HistoryKey(entry HistoryEntry) string {
	// timestamp prefix keeps bucket iteration in tap order; the random
	// suffix avoids collisions when two readers fire in the same instant
	return entry.Time.Format(time.RFC3339) + "-" + uuid.NewString()
}

func (d *Database) AddHistory(entry HistoryEntry) error {
	return d.bdb.Update(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(HistoryKey(entry)), data)
	})
}

// GetHistory returns the most recent tap outcomes, newest first.
func (d *Database) GetHistory() ([]HistoryEntry, error) {
	var entries []HistoryEntry
	maxResults := 25

	err := d.bdb.View(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < maxResults; k, v = c.Prev() {
			var entry HistoryEntry
			err := json.Unmarshal(v, &entry)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
