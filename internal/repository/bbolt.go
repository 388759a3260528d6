// Package repository persists per-peer bookkeeping: establishment
// outcomes and unknown-type flags. Connections themselves are never
// persisted; the records feed the caller's peer selection policy.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/btkit/bitwire/pkg/connect"
)

const (
	peersBucket    = "peers"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// ErrPeerNotFound is returned when a peer record cannot be found.
var ErrPeerNotFound = errors.New("peer not found")

// PeerRecord is the stored bookkeeping for one peer address.
type PeerRecord struct {
	Addr         string    `json:"addr"`
	LastConnID   uuid.UUID `json:"last_conn_id"`
	PeerID       string    `json:"peer_id,omitempty"`
	LastState    string    `json:"last_state"`
	LastReason   string    `json:"last_reason,omitempty"`
	Established  int       `json:"established"`
	Failed       int       `json:"failed"`
	UnknownTypes int       `json:"unknown_types"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BboltRepository implements the connect.Recorder and connect.Flagger
// interfaces over a bbolt database.
type BboltRepository struct {
	db *bbolt.DB
}

// NewBboltRepository creates a new bbolt repository.
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema.
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(peersBucket))
		if err != nil {
			return fmt.Errorf("failed to create peers bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))

		err = meta.Put([]byte("schema_version"), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// RecordOutcome updates the peer record for an establishment attempt.
func (r *BboltRepository) RecordOutcome(o connect.Outcome) error {
	if o.Addr == "" {
		return errors.New("outcome has no address")
	}

	return r.update(o.Addr, func(rec *PeerRecord) {
		rec.LastConnID = o.ConnID
		rec.LastState = o.State.String()
		rec.LastReason = o.Reason

		if o.PeerID != ([20]byte{}) {
			rec.PeerID = fmt.Sprintf("%x", o.PeerID)
		}

		if o.State == connect.StateEstablished {
			rec.Established++
		} else {
			rec.Failed++
		}
	})
}

// FlagUnknownType increments the unknown-type counter for a peer and
// returns the new count.
func (r *BboltRepository) FlagUnknownType(addr string) (int, error) {
	var count int

	err := r.update(addr, func(rec *PeerRecord) {
		rec.UnknownTypes++
		count = rec.UnknownTypes
	})

	return count, err
}

// Get retrieves the record for a peer address.
func (r *BboltRepository) Get(addr string) (*PeerRecord, error) {
	var rec *PeerRecord

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(peersBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", peersBucket)
		}

		data := bucket.Get([]byte(addr))
		if data == nil {
			return ErrPeerNotFound
		}

		rec = &PeerRecord{}

		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// List returns all peer records.
func (r *BboltRepository) List() ([]*PeerRecord, error) {
	var records []*PeerRecord

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(peersBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", peersBucket)
		}

		return bucket.ForEach(func(_, v []byte) error {
			rec := &PeerRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("failed to unmarshal peer record: %w", err)
			}

			records = append(records, rec)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// update loads (or creates) the record for addr, applies fn, and
// stores the result.
func (r *BboltRepository) update(addr string, fn func(*PeerRecord)) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(peersBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", peersBucket)
		}

		rec := &PeerRecord{Addr: addr}

		if data := bucket.Get([]byte(addr)); data != nil {
			if err := json.Unmarshal(data, rec); err != nil {
				return fmt.Errorf("failed to unmarshal peer record: %w", err)
			}
		}

		fn(rec)
		rec.UpdatedAt = time.Now()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal peer record: %w", err)
		}

		if err := bucket.Put([]byte(addr), data); err != nil {
			return fmt.Errorf("failed to save peer record: %w", err)
		}

		return nil
	})
}

// Close closes the underlying database.
func (r *BboltRepository) Close() error {
	return r.db.Close()
}
