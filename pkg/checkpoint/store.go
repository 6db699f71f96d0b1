// Package checkpoint persists the progress cursor of a run so an
// interrupted matrix can be resumed. One JSON file, one record: the last
// cell attempted for a device.
package checkpoint

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Record marks the last matrix cell attempted.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Band      string    `json:"band"`
	Standard  string    `json:"standard"`
	Channel   int       `json:"channel"`
}

// Store reads and writes the checkpoint file.
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the record, replacing any previous one.
func (s *Store) Save(record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling checkpoint failed")
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrapf(err, "writing checkpoint %q failed", s.path)
	}
	log.Debugf("Checkpoint saved: %s/%s/ch%d", record.Band, record.Standard, record.Channel)
	return nil
}

// Load returns the stored record, or nil when there is none. A missing or
// corrupt file means "no checkpoint", never an error: losing a cursor only
// costs re-running cells.
func (s *Store) Load() *Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		log.Warnf("Ignoring unreadable checkpoint %q: %v", s.path, err)
		return nil
	}

	log.Infof("Checkpoint loaded: %s @ %s/%s/ch%d",
		record.Device, record.Band, record.Standard, record.Channel)
	return &record
}

// Clear removes the checkpoint file. Called on clean completion.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing checkpoint %q failed", s.path)
	}
	return nil
}
