// Package channeldb persists the gossip router's view of the public channel
// graph (nodes, channel announcements, and per-direction channel updates) to
// an embedded bbolt database, so a restart doesn't force a full resync with
// every peer.
package channeldb

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/coreos/bbolt"
	"github.com/go-errors/errors"
)

// byteOrder is the byte order used for every integer field this package
// serializes to disk.
var byteOrder = binary.BigEndian

var (
	// ErrUnknownAddressType is returned when a serialized address tag
	// does not match any of the address types this package knows how to
	// decode.
	ErrUnknownAddressType = errors.New("unknown address type")

	// ErrGraphNodeNotFound is returned when a node lookup fails to turn
	// up a node with the target public key.
	ErrGraphNodeNotFound = errors.New("graph node not found")

	// ErrEdgeNotFound is returned when an edge lookup fails to turn up a
	// channel with the target short channel ID.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrEdgeAlreadyExist is returned when AddChannel is called with a
	// short channel ID that is already present in the graph.
	ErrEdgeAlreadyExist = errors.New("edge already exists")
)

const dbName = "graph.db"

// DB wraps an on-disk bbolt store holding the persisted channel graph. It is
// safe for concurrent use across goroutines; bbolt serializes writers
// internally and allows any number of concurrent readers.
type DB struct {
	*bbolt.DB
	path string
}

// Open creates a new DB instance, opening (and creating if necessary) the
// backing bbolt file at dbPath/graph.db, and ensuring that the top-level
// buckets this package relies on exist.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}

	path := filepath.Join(dbPath, dbName)

	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	cdb := &DB{DB: bdb, path: path}

	if err := cdb.createTopLevelBuckets(); err != nil {
		cdb.Close()
		return nil, err
	}

	return cdb, nil
}

// createTopLevelBuckets initializes the bucket hierarchy used by GraphDB, so
// that later reads never need to special-case a not-yet-created bucket.
func (d *DB) createTopLevelBuckets() error {
	return d.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// Wipe drops every top-level bucket, returning the database to an empty
// state. It's used by tests that need a clean graph between cases without
// paying for a fresh temp file each time.
func (d *DB) Wipe() error {
	return d.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range topLevelBuckets {
			err := tx.DeleteBucket(bucket)
			if err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// fileExists reports whether a file exists at the given path.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
