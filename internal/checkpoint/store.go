// Package checkpoint persists per-run pipeline state under the state root.
// Each run owns one directory containing checkpoint.json (rewritten
// atomically), a lock file naming the live owner, and a temp/ scratch
// directory. The store enforces single ownership per run and monotonic
// progress: the stage cursor never moves backwards and completed item sets
// only grow within a stage.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
	"github.com/voxcut/voxcut/internal/storage"
)

const (
	checkpointFile = "checkpoint.json"
	lockFile       = "lock"
	tempDir        = "temp"
)

// Sentinel errors surfaced by the store. Both are corrupt_state category:
// the run cannot proceed without operator action.
var (
	// ErrAlreadyLocked means another live process owns the run.
	ErrAlreadyLocked = errors.New("run is locked by another process")
	// ErrCorruptCheckpoint means the persisted snapshot cannot be trusted.
	ErrCorruptCheckpoint = errors.New("checkpoint is corrupt")
	// ErrStageRegression means a Save tried to move the cursor backwards.
	ErrStageRegression = errors.New("checkpoint stage cursor would regress")
	// ErrNotFound means no checkpoint exists for the run.
	ErrNotFound = errors.New("checkpoint not found")
)

// lockInfo is the serialized content of a run's lock file.
type lockInfo struct {
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	LockedAt time.Time `json:"locked_at"`
}

// Store manages checkpoints for all runs under one state root.
type Store struct {
	root   *storage.Sandbox
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]*Handle
}

// NewStore creates a Store rooted at stateRoot, creating it if needed.
func NewStore(stateRoot string, logger *slog.Logger) (*Store, error) {
	root, err := storage.NewSandbox(stateRoot)
	if err != nil {
		return nil, fmt.Errorf("opening state root: %w", err)
	}
	return &Store{
		root:   root,
		logger: observability.WithComponent(logger, "checkpoint"),
		open:   make(map[string]*Handle),
	}, nil
}

// Handle is an exclusive grip on one run's durable state. It must be
// released with Close; Save, Load and Delete panic-free fail after Close.
type Handle struct {
	store *Store
	runID models.RunID
	box   *storage.Sandbox

	mu     sync.Mutex
	closed bool
	// last persisted snapshot, used to enforce monotonic progress.
	last *models.Checkpoint
}

// Open acquires exclusive ownership of a run's state directory. A second
// opener, in this process or another, gets ErrAlreadyLocked. Stale locks
// left by a dead process on the same host are broken silently.
func (s *Store) Open(runID models.RunID) (*Handle, error) {
	id := runID.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.open[id]; live {
		return nil, fmt.Errorf("run %s: %w", id, ErrAlreadyLocked)
	}

	box, err := s.root.SubSandbox(id)
	if err != nil {
		return nil, fmt.Errorf("opening run directory: %w", err)
	}

	if err := s.acquireLock(box, id); err != nil {
		return nil, err
	}
	if err := box.MkdirAll(tempDir); err != nil {
		releaseLock(box)
		return nil, err
	}

	h := &Handle{store: s, runID: runID, box: box}
	if data, err := box.ReadFile(checkpointFile); err == nil {
		cp, err := decode(data)
		if err != nil {
			releaseLock(box)
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		h.last = cp
	}

	s.open[id] = h
	s.logger.Debug("run opened", "run_id", id)
	return h, nil
}

// acquireLock writes the lock file, refusing when a live owner exists.
// Caller holds s.mu.
func (s *Store) acquireLock(box *storage.Sandbox, id string) error {
	if data, err := box.ReadFile(lockFile); err == nil {
		var info lockInfo
		if err := json.Unmarshal(data, &info); err == nil && lockOwnerAlive(info) {
			return fmt.Errorf("run %s held by pid %d on %s: %w", id, info.PID, info.Hostname, ErrAlreadyLocked)
		}
		s.logger.Warn("breaking stale lock", "run_id", id)
	}

	host, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{PID: os.Getpid(), Hostname: host, LockedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding lock: %w", err)
	}
	if err := box.AtomicWrite(lockFile, data); err != nil {
		return fmt.Errorf("writing lock: %w", err)
	}
	return nil
}

// lockOwnerAlive reports whether the recorded owner still runs. Locks from
// other hosts are never considered stale; only the owning host can tell.
func lockOwnerAlive(info lockInfo) bool {
	host, _ := os.Hostname()
	if info.Hostname != host {
		return true
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func releaseLock(box *storage.Sandbox) {
	_ = box.Remove(lockFile)
}

// RunID returns the run this handle owns.
func (h *Handle) RunID() models.RunID {
	return h.runID
}

// TempDir returns the run's scratch directory.
func (h *Handle) TempDir() (string, error) {
	return h.box.TempDir()
}

// Sandbox exposes the run directory for stage scratch sub-sandboxes.
func (h *Handle) Sandbox() *storage.Sandbox {
	return h.box
}

// Save persists a checkpoint snapshot. The write is atomic; monotonic
// invariants are enforced against the last persisted snapshot: the stage
// cursor may not regress, and within a stage the completed item set only
// grows (incoming items are merged with the persisted set).
func (h *Handle) Save(cp *models.Checkpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("run %s: handle closed", h.runID)
	}

	snapshot := cp.Clone()
	snapshot.UpdatedAt = time.Now().UTC()
	snapshot.SchemaVersion = models.CheckpointSchemaVersion

	if h.last != nil {
		if snapshot.Stage.Order() < h.last.Stage.Order() {
			return fmt.Errorf("run %s: %s -> %s: %w", h.runID, h.last.Stage, snapshot.Stage, ErrStageRegression)
		}
		if snapshot.Stage == h.last.Stage {
			snapshot.CompletedItems.Merge(h.last.CompletedItems)
		}
		if snapshot.CreatedAt.IsZero() {
			snapshot.CreatedAt = h.last.CreatedAt
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := h.box.AtomicWrite(checkpointFile, data); err != nil {
		return fmt.Errorf("persisting checkpoint: %w", err)
	}

	h.last = snapshot
	return nil
}

// Load returns the latest persisted snapshot, or ErrNotFound when the run
// has never been saved.
func (h *Handle) Load() (*models.Checkpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("run %s: handle closed", h.runID)
	}
	if h.last == nil {
		return nil, fmt.Errorf("run %s: %w", h.runID, ErrNotFound)
	}
	return h.last.Clone(), nil
}

// Delete removes the run's entire state directory. Called on successful
// completion (when cleanup_on_success is set) and by explicit discard.
func (h *Handle) Delete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("run %s: handle closed", h.runID)
	}

	id := h.runID.String()
	if err := h.store.root.RemoveAll(id); err != nil {
		return fmt.Errorf("deleting run state: %w", err)
	}
	h.last = nil
	h.closed = true

	h.store.mu.Lock()
	delete(h.store.open, id)
	h.store.mu.Unlock()
	h.store.logger.Debug("run state deleted", "run_id", id)
	return nil
}

// Close releases the lock without touching the checkpoint. Idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	releaseLock(h.box)

	h.store.mu.Lock()
	delete(h.store.open, h.runID.String())
	h.store.mu.Unlock()
	return nil
}

// Peek reads a run's checkpoint without acquiring the lock. Safe for status
// displays; the snapshot may be superseded immediately.
func (s *Store) Peek(runID models.RunID) (*models.Checkpoint, error) {
	data, err := s.root.ReadFile(filepath.Join(runID.String(), checkpointFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}
	return decode(data)
}

// ListIncomplete returns the checkpoints of every non-terminal run under
// the state root, oldest first (run ids are ULIDs, so lexicographic
// directory order is creation order). Undecodable checkpoints are skipped
// with a warning rather than failing the listing.
func (s *Store) ListIncomplete() ([]*models.Checkpoint, error) {
	entries, err := s.root.List(".")
	if err != nil {
		return nil, fmt.Errorf("listing state root: %w", err)
	}

	var out []*models.Checkpoint
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := models.ParseRunID(entry.Name()); err != nil {
			continue
		}
		data, err := s.root.ReadFile(filepath.Join(entry.Name(), checkpointFile))
		if err != nil {
			continue
		}
		cp, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", "run_id", entry.Name(), "error", err)
			continue
		}
		if cp.IsTerminal() {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// Sweep deletes run directories whose checkpoint has not been updated for
// maxAge and which are not currently locked by a live owner. maxAge <= 0
// disables expiration. Returns the number of runs removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	entries, err := s.root.List(".")
	if err != nil {
		return 0, fmt.Errorf("listing state root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if _, err := models.ParseRunID(id); err != nil {
			continue
		}

		s.mu.Lock()
		_, live := s.open[id]
		s.mu.Unlock()
		if live {
			continue
		}
		if data, err := s.root.ReadFile(filepath.Join(id, lockFile)); err == nil {
			var info lockInfo
			if json.Unmarshal(data, &info) == nil && lockOwnerAlive(info) {
				continue
			}
		}

		stale := false
		if data, err := s.root.ReadFile(filepath.Join(id, checkpointFile)); err == nil {
			if cp, err := decode(data); err == nil {
				stale = cp.UpdatedAt.Before(cutoff)
			} else {
				// Unreadable and old enough by directory mtime: sweep it.
				if info, serr := s.root.Stat(id); serr == nil {
					stale = info.ModTime().Before(cutoff)
				}
			}
		} else if info, serr := s.root.Stat(id); serr == nil {
			stale = info.ModTime().Before(cutoff)
		}
		if !stale {
			continue
		}

		if err := s.root.RemoveAll(id); err != nil {
			s.logger.Warn("sweep failed to remove run", "run_id", id, "error", err)
			continue
		}
		s.logger.Info("swept expired run state", "run_id", id)
		removed++
	}
	return removed, nil
}

// decode parses and sanity-checks a persisted checkpoint.
func decode(data []byte) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if cp.SchemaVersion != models.CheckpointSchemaVersion {
		return nil, fmt.Errorf("%w: unknown schema version %d", ErrCorruptCheckpoint, cp.SchemaVersion)
	}
	if !cp.Stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrCorruptCheckpoint, cp.Stage)
	}
	if cp.CompletedItems == nil {
		cp.CompletedItems = models.NewItemSet()
	}
	return &cp, nil
}

// ClassifyError maps store errors onto the pipeline error taxonomy.
func ClassifyError(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ErrAlreadyLocked),
		errors.Is(err, ErrCorruptCheckpoint),
		errors.Is(err, ErrStageRegression):
		return models.ErrKindCorruptState
	case errors.Is(err, ErrNotFound):
		return models.ErrKindInvalidInput
	default:
		return models.ErrKindResourceExhausted
	}
}
