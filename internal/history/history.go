// Package history keeps track of the trouble codes reported by fault scans.
package history

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/gavinwade12/motodiag/protocols/obd"
)

const bucketKey = "dtcs"

// ErrNotFound is returned when a code has never been recorded.
var ErrNotFound = errors.New("code not found in history")

// Entry is the history of a single trouble code.
type Entry struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	Count       int       `json:"count"`
}

// Store is a bbolt backed record of trouble codes.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening history database '%s'", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketKey))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating history bucket")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record adds the codes of one scan and returns the ones that were never
// seen before.
func (s *Store) Record(dtcs []obd.DTC, at time.Time) ([]string, error) {
	newCodes := []string{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketKey))
		for _, d := range dtcs {
			key := []byte(strings.ToUpper(d.Code))

			var e Entry
			if v := b.Get(key); v == nil {
				e = Entry{Code: string(key), FirstSeen: at}
				newCodes = append(newCodes, e.Code)
			} else if err := json.Unmarshal(v, &e); err != nil {
				return errors.Wrapf(err, "decoding entry for %s", key)
			}

			e.Count++
			e.LastSeen = at
			if d.Description != "" {
				e.Description = d.Description
			}

			v, err := json.Marshal(e)
			if err != nil {
				return errors.Wrapf(err, "encoding entry for %s", key)
			}
			if err = b.Put(key, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "recording codes")
	}
	return newCodes, nil
}

// List returns every recorded code, sorted by code.
func (s *Store) List() ([]Entry, error) {
	entries := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketKey)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return errors.Wrapf(err, "decoding entry for %s", k)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the history of code.
func (s *Store) Get(code string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketKey)).Get([]byte(strings.ToUpper(code)))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}

// Remove forgets code, e.g. after it has been repaired.
func (s *Store) Remove(code string) error {
	key := []byte(strings.ToUpper(code))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketKey))
		if b.Get(key) == nil {
			return ErrNotFound
		}
		return b.Delete(key)
	})
}

// Clear forgets every code.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketKey)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketKey))
		return err
	})
}
