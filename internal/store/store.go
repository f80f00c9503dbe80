// Package store persists the engine's resumable state as a single JSON file.
// Writes are atomic (temp file plus rename), so a crash mid-save leaves the
// previous state intact.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/internal/version"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// StateFile wraps the persisted portfolio snapshot with the run identity and
// the schema version that wrote it. Cycle number and trade sequence live
// inside the snapshot; restarts resume both from there.
type StateFile struct {
	SchemaVersion string                  `json:"schema_version"`
	RunID         string                  `json:"run_id"`
	SavedAt       time.Time               `json:"saved_at"`
	Portfolio     types.PortfolioSnapshot `json:"portfolio"`
}

// Store reads and writes the state file at a fixed path.
type Store struct {
	path   string
	logger *logger.Logger
}

// NewStore creates a store for the state file at path, creating the parent
// directory when needed.
func NewStore(path string, logger *logger.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "state file path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to create state directory %s", dir)
		}
	}

	return &Store{
		path:   path,
		logger: logger,
	}, nil
}

// GetPath returns the state file path.
func (s *Store) GetPath() string {
	return s.path
}

// Save writes the state atomically. SchemaVersion and SavedAt are stamped
// here; callers only provide the run identity and the snapshot.
func (s *Store) Save(state StateFile) error {
	state.SchemaVersion = version.GetVersion()
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to encode state", err)
	}

	tempPath := s.path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to write state to %s", tempPath)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to move state into place at %s", s.path)
	}

	s.logger.Debug("state saved",
		zap.String("path", s.path),
		zap.Int64("cycle", state.Portfolio.CycleNumber),
		zap.Int("trades", len(state.Portfolio.Trades)))

	return nil
}

// Load reads the state file. The second return is false when no file exists
// yet, which is a fresh start rather than an error. Incompatible schema
// versions and unparsable files are fatal. Trades left non-terminal by a
// crash are repaired to FAILED here, before the ledger is rebuilt.
func (s *Store) Load() (StateFile, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return StateFile{}, false, nil
		}

		return StateFile{}, false, errors.Wrapf(errors.ErrCodeStateCorrupted, err, "failed to read state file %s", s.path)
	}

	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return StateFile{}, false, errors.Wrapf(errors.ErrCodeStateCorrupted, err, "failed to parse state file %s", s.path)
	}

	if state.SchemaVersion == "" {
		return StateFile{}, false, errors.Newf(errors.ErrCodeStateCorrupted, "state file %s carries no schema version", s.path)
	}

	if err := version.CheckSchemaCompatibility(version.GetVersion(), state.SchemaVersion); err != nil {
		return StateFile{}, false, errors.Wrapf(errors.ErrCodeSchemaVersionMismatch, err,
			"state file %s was written by schema %s", s.path, state.SchemaVersion)
	}

	s.repair(&state)

	return state, true, nil
}

// repair marks trades persisted in a non-terminal state as FAILED. A clean
// seal only ever writes terminal trades, so anything else is a crash leftover;
// any real venue fill behind it surfaces through reconciliation.
func (s *Store) repair(state *StateFile) {
	var repaired []string

	for i := range state.Portfolio.Trades {
		trade := &state.Portfolio.Trades[i]
		if trade.State.IsTerminal() {
			continue
		}

		trade.State = types.TradeStateFailed
		trade.FailureReason = optional.Some(types.Reason{
			Reason:  types.IntentReasonRepair,
			Message: "trade was not terminal when the state file was written",
		})

		repaired = append(repaired, trade.ID)
	}

	if len(repaired) > 0 {
		s.logger.Warn("repaired non-terminal trades from state file",
			zap.String("path", s.path),
			zap.Strings("trade_ids", repaired))
	}
}
