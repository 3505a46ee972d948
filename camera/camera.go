// Package camera implements the dynamic camera-target state: which camera
// each gamepad slot currently controls, persisted across restarts in an
// embedded KV store, plus a transient in-memory PTZ-modifier flag that is
// never persisted.
package camera

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const targetsBucket = "camera_targets"

func targetKey(slot string) []byte {
	return []byte("camera_target:" + slot)
}

type targetEntry struct {
	GamepadSlot string `json:"gamepad_slot"`
	CameraID    string `json:"camera_id"`
	TimestampMs int64  `json:"timestamp"`
}

// Store holds the gamepad -> camera assignment, durable via bbolt, plus a
// pure in-memory PTZ-modifier-held map reset at every process start.
type Store struct {
	db *bolt.DB

	mu      sync.RWMutex
	targets map[string]string

	ptzMu sync.RWMutex
	ptz   map[string]bool
}

// NewStore opens (creating if needed) the targets bucket in db and
// rehydrates the in-memory map from any previously persisted entries.
func NewStore(db *bolt.DB) (*Store, error) {
	s := &Store{
		db:      db,
		targets: make(map[string]string),
		ptz:     make(map[string]bool),
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(targetsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open camera target bucket: %w", err)
	}

	if err := s.loadFromDB(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadFromDB() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(targetsBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry targetEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				// A corrupt entry should not prevent the rest from loading.
				return nil
			}
			s.targets[entry.GamepadSlot] = entry.CameraID
			return nil
		})
	})
}

// Set assigns cameraID to gamepadSlot. The in-memory map is updated first,
// then the assignment is persisted; a persistence failure is returned to the
// caller but the in-memory value is retained regardless (best-effort
// durability).
func (s *Store) Set(gamepadSlot, cameraID string) error {
	s.mu.Lock()
	s.targets[gamepadSlot] = cameraID
	s.mu.Unlock()

	entry := targetEntry{
		GamepadSlot: gamepadSlot,
		CameraID:    cameraID,
		TimestampMs: time.Now().UnixMilli(),
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize camera target: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(targetsBucket))
		return b.Put(targetKey(gamepadSlot), value)
	})
	if err != nil {
		return fmt.Errorf("failed to persist camera target: %w", err)
	}
	return nil
}

// Get returns the camera currently targeted by gamepadSlot, if any.
func (s *Store) Get(gamepadSlot string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.targets[gamepadSlot]
	return id, ok
}

// GetAll returns a snapshot of every current gamepad -> camera assignment.
func (s *Store) GetAll() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.targets))
	for k, v := range s.targets {
		out[k] = v
	}
	return out
}

// Clear removes any camera assignment for gamepadSlot.
func (s *Store) Clear(gamepadSlot string) error {
	s.mu.Lock()
	delete(s.targets, gamepadSlot)
	s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(targetsBucket))
		return b.Delete(targetKey(gamepadSlot))
	})
	if err != nil {
		return fmt.Errorf("failed to remove camera target: %w", err)
	}
	return nil
}

// SetPTZModifier records whether the PTZ-modifier button is currently held
// for gamepadSlot. Never persisted; reset on every process start.
func (s *Store) SetPTZModifier(gamepadSlot string, held bool) {
	s.ptzMu.Lock()
	defer s.ptzMu.Unlock()
	s.ptz[gamepadSlot] = held
}

// IsPTZModifierHeld reports the last-recorded PTZ-modifier state for
// gamepadSlot, defaulting to false.
func (s *Store) IsPTZModifierHeld(gamepadSlot string) bool {
	s.ptzMu.RLock()
	defer s.ptzMu.RUnlock()
	return s.ptz[gamepadSlot]
}
