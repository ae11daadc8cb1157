package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/fsutil"
)

// Manager owns artifact files and the active pointer.
// Current is lock-free; mutations are serialized.
type Manager struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[Artifact]
}

// NewManager stores artifact files under baseDir/artifacts.
func NewManager(database *sql.DB, baseDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:     database,
		dir:    filepath.Join(baseDir, db.ArtifactsDir),
		logger: logger.Named("artifact"),
	}
}

// FileName is the payload file name for a version.
func FileName(version int) string {
	return fmt.Sprintf("model-v%06d.json", version)
}

// Current returns the in-memory active artifact, or nil before LoadActive/Activate.
func (m *Manager) Current() *Artifact {
	return m.current.Load()
}

// NextVersion returns one past the highest version ever registered.
func (m *Manager) NextVersion(ctx context.Context) (int, error) {
	v, err := db.MaxArtifactVersion(ctx, m.db)
	if err != nil {
		return 0, err
	}
	return v + 1, nil
}

// Activate persists a and makes it active. The payload is written to its own file
// first; the registry pointer then moves in one transaction; the in-memory pointer
// is swapped last. Any failure leaves the previous artifact active.
func (m *Manager) Activate(ctx context.Context, a *Artifact) (*db.ArtifactRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := db.GetArtifact(ctx, m.db, a.Version()); err == nil {
		return nil, errors.NewConflict(fmt.Sprintf("artifact v%d already registered", a.Version()))
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	data, err := Encode(a)
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "encode artifact"))
	}

	name := FileName(a.Version())
	path := filepath.Join(m.dir, name)
	if err := fsutil.WriteBytesAtomic(path, 0600, data); err != nil {
		return nil, errors.NewInternal(eris.Wrapf(err, "write artifact v%d", a.Version()))
	}

	if err := ctx.Err(); err != nil {
		os.Remove(path)
		return nil, err
	}

	rec := &db.ArtifactRecord{
		Version:     a.Version(),
		TrainedAt:   a.TrainedAt().Unix(),
		Path:        name,
		Checksum:    Checksum(data),
		SizeBytes:   int64(len(data)),
		Examples:    a.stats.Examples,
		Corrections: a.stats.Corrections,
		Categories:  a.Categories(),
	}
	if err := db.InsertArtifact(ctx, m.db, rec, true); err != nil {
		os.Remove(path)
		return nil, err
	}

	m.current.Store(a)
	m.logger.Info("artifact activated",
		zap.Int("version", a.Version()),
		zap.Int("bytes", len(data)),
		zap.Strings("categories", rec.Categories),
	)
	return rec, nil
}

// LoadActive loads and verifies the active artifact. If it fails its integrity check,
// the newest older intact version is activated once in its place; if that also fails
// the original corruption error is returned.
func (m *Manager) LoadActive(ctx context.Context) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := db.GetActiveArtifact(ctx, m.db)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewNoModel()
		}
		return nil, err
	}

	a, loadErr := m.load(rec)
	if loadErr == nil {
		m.current.Store(a)
		return a, nil
	}
	if !errors.Is(loadErr, errors.ErrArtifactCorruption) {
		return nil, loadErr
	}

	m.logger.Error("active artifact failed integrity check", zap.Int("version", rec.Version), zap.Error(loadErr))

	prev, err := db.PreviousArtifact(ctx, m.db, rec.Version)
	if err != nil {
		return nil, loadErr
	}
	a, err = m.load(prev)
	if err != nil {
		m.logger.Error("rollback target failed integrity check", zap.Int("version", prev.Version), zap.Error(err))
		return nil, loadErr
	}
	if err := db.SetActiveArtifact(ctx, m.db, prev.Version); err != nil {
		return nil, err
	}
	if err := db.DiscardArtifact(ctx, m.db, rec.Version); err != nil {
		m.logger.Warn("failed to discard corrupt artifact", zap.Int("version", rec.Version), zap.Error(err))
	}

	m.current.Store(a)
	m.logger.Warn("rolled back from corrupt artifact",
		zap.Int("corrupt_version", rec.Version),
		zap.Int("version", prev.Version),
	)
	return a, nil
}

// Rollback activates the newest intact version older than the active one.
func (m *Manager) Rollback(ctx context.Context) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := db.GetActiveArtifact(ctx, m.db)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewNoModel()
		}
		return nil, err
	}
	prev, err := db.PreviousArtifact(ctx, m.db, rec.Version)
	if err != nil {
		return nil, err
	}
	a, err := m.load(prev)
	if err != nil {
		return nil, err
	}
	if err := db.SetActiveArtifact(ctx, m.db, prev.Version); err != nil {
		return nil, err
	}

	m.current.Store(a)
	m.logger.Info("rolled back", zap.Int("from_version", rec.Version), zap.Int("version", prev.Version))
	return a, nil
}

// List returns registry rows newest first, excluding discarded versions.
func (m *Manager) List(ctx context.Context) ([]db.ArtifactRecord, error) {
	return db.ListArtifacts(ctx, m.db, false)
}

// Discard removes an inactive version from the registry and deletes its file.
func (m *Manager) Discard(ctx context.Context, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.discard(ctx, version)
}

// Prune discards inactive versions beyond the newest keep. keep <= 0 keeps everything.
// Returns the discarded versions.
func (m *Manager) Prune(ctx context.Context, keep int) ([]int, error) {
	if keep <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := db.ListArtifacts(ctx, m.db, false)
	if err != nil {
		return nil, err
	}

	var pruned []int
	inactive := 0
	for _, rec := range records {
		if rec.Active {
			continue
		}
		inactive++
		if inactive <= keep {
			continue
		}
		if err := m.discard(ctx, rec.Version); err != nil {
			return pruned, err
		}
		pruned = append(pruned, rec.Version)
	}
	if len(pruned) > 0 {
		m.logger.Info("pruned artifacts", zap.Ints("versions", pruned))
	}
	return pruned, nil
}

func (m *Manager) discard(ctx context.Context, version int) error {
	rec, err := db.GetArtifact(ctx, m.db, version)
	if err != nil {
		return err
	}
	if err := db.DiscardArtifact(ctx, m.db, version); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(m.dir, rec.Path)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove artifact file", zap.Int("version", version), zap.Error(err))
	}
	return nil
}

// load reads and verifies one registry row's payload.
// Missing files, checksum mismatches and undecodable payloads are all corruption.
func (m *Manager) load(rec *db.ArtifactRecord) (*Artifact, error) {
	data, err := fsutil.ReadFileNoFollow(filepath.Join(m.dir, rec.Path))
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return nil, errors.NewArtifactCorruption(rec.Version, "payload file missing")
		}
		return nil, errors.NewInternal(err)
	}
	if sum := Checksum(data); sum != rec.Checksum {
		return nil, errors.NewArtifactCorruption(rec.Version, "checksum mismatch")
	}
	a, err := Decode(data)
	if err != nil {
		return nil, errors.NewArtifactCorruption(rec.Version, err.Error())
	}
	if a.Version() != rec.Version {
		return nil, errors.NewArtifactCorruption(rec.Version, fmt.Sprintf("payload claims version %d", a.Version()))
	}
	return a, nil
}
