// Package boltdb stores sessions in a local bbolt file. It suits single-node
// deployments that do not run MongoDB.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// SessionRepository implements domain.SessionRepository on a bbolt file.
// bbolt serialises writers, so UpdateSession runs read-mutate-write inside a
// single write transaction.
type SessionRepository struct {
	db *bbolt.DB
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*SessionRepository, error) {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Info().Str("dir", dir).Msg("Database directory does not exist, creating it")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("BBoltDB session store initialized")
	return &SessionRepository{db: db}, nil
}

// Close releases the database file lock.
func (r *SessionRepository) Close() error {
	return r.db.Close()
}

func (r *SessionRepository) InsertSession(_ context.Context, session *domain.Session) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(session.ID)) != nil {
			return domain.ErrSessionExists
		}
		if err := checkReservation(b, session); err != nil {
			return err
		}
		return put(b, session)
	})
}

func (r *SessionRepository) GetSession(_ context.Context, id string) (*domain.Session, error) {
	var session *domain.Session
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		session, err = get(tx.Bucket(sessionsBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionRepository) UpdateSession(_ context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	var next *domain.Session
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		current, err := get(b, id)
		if err != nil {
			return err
		}
		if err := mutate(current); err != nil {
			return err
		}
		current.ID = id
		if err := checkReservation(b, current); err != nil {
			return err
		}
		next = current
		return put(b, current)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *SessionRepository) FindSessions(_ context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	var out []*domain.Session
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var s domain.Session
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if filter.Matches(&s) {
				out = append(out, &s)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *SessionRepository) DeleteSession(_ context.Context, id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(id)) == nil {
			return domain.ErrSessionNotFound
		}
		return b.Delete([]byte(id))
	})
}

// DeleteStaleSessions collects the keys first; bbolt cursors must not be
// used while deleting from the same bucket.
func (r *SessionRepository) DeleteStaleSessions(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var s domain.Session
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if !s.Reserved && s.LastAccess.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func get(b *bbolt.Bucket, id string) (*domain.Session, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, domain.ErrSessionNotFound
	}
	var s domain.Session
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &s, nil
}

func put(b *bbolt.Bucket, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return b.Put([]byte(s.ID), data)
}

func checkReservation(b *bbolt.Bucket, s *domain.Session) error {
	if !s.Reserved {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		if string(k) == s.ID {
			return nil
		}
		var other domain.Session
		if err := json.Unmarshal(v, &other); err != nil {
			return err
		}
		if other.Reserved && other.ExternalUserID == s.ExternalUserID && other.Provider == s.Provider {
			return domain.ErrReservationConflict
		}
		return nil
	})
}
