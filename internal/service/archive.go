package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"transfer_cavity_lock/internal/archive"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

var errNoArchiveDir = errors.New("archive storage is not configured")

// ErrArchiveNotFound is returned for an unknown id or a bundle missing on disk.
var ErrArchiveNotFound = repository.ErrArchiveNotFound

type ArchiveService struct {
	ctrl      Controller
	writer    *archive.Writer
	repo      repository.ArchiveRepo
	eventRepo repository.EventRepo
	log       *logger.Logger
}

func NewArchiveService(ctrl Controller, w *archive.Writer, repo repository.ArchiveRepo, eventRepo repository.EventRepo, log *logger.Logger) *ArchiveService {
	return &ArchiveService{ctrl: ctrl, writer: w, repo: repo, eventRepo: eventRepo, log: logger.OrNop(log)}
}

// Store bundles the current snapshot under batch and indexes it.
func (s *ArchiveService) Store(ctx context.Context, batch int) (models.ArchiveEntry, error) {
	if s.writer == nil {
		return models.ArchiveEntry{}, errNoArchiveDir
	}
	if batch < 0 {
		return models.ArchiveEntry{}, fmt.Errorf("%w: batch must not be negative, got %d", ErrInvalidParams, batch)
	}

	snap := s.ctrl.Snapshot()
	rec, err := s.writer.Store(snap, batch)
	if err != nil {
		return models.ArchiveEntry{}, fmt.Errorf("store archive: %w", err)
	}

	entry := models.ArchiveEntry{
		ID:        rec.ID,
		Path:      rec.Path,
		Batch:     rec.Batch,
		State:     snap.Status.State.String(),
		SetPoint:  snap.Status.SetPoint,
		CreatedAt: rec.CreatedAt.UTC(),
	}
	if err := s.repo.Add(ctx, entry); err != nil {
		return models.ArchiveEntry{}, err
	}

	meta := map[string]any{"path": entry.Path, "batch": entry.Batch}
	if id, ok := IdentityFrom(ctx); ok {
		meta["operator"] = id.Username
	}
	if err := s.eventRepo.Append(ctx, models.LockEvent{
		OccurredAt:  entry.CreatedAt,
		Type:        models.EventArchive,
		Description: "Stored " + entry.ID,
		Metadata:    meta,
	}); err != nil {
		s.log.Warnw("event_append_failed", "type", models.EventArchive, "error", err)
	}
	return entry, nil
}

func (s *ArchiveService) List(ctx context.Context, limit int) ([]models.ArchiveEntry, error) {
	return s.repo.List(ctx, limit)
}

// Get returns the index entry for id together with the parameter
// dictionary read back from its bundle.
func (s *ArchiveService) Get(ctx context.Context, id string) (models.ArchiveDetail, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.ArchiveDetail{}, err
	}
	b, err := archive.Load(entry.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.ArchiveDetail{}, fmt.Errorf("%w: bundle %s is gone", ErrArchiveNotFound, entry.Path)
	}
	if err != nil {
		return models.ArchiveDetail{}, fmt.Errorf("load archive %s: %w", entry.ID, err)
	}
	return models.ArchiveDetail{
		ArchiveEntry: entry,
		Parameters:   b.Parameters,
		HasTraces:    b.HasTraces,
		HasImage:     b.HasImage,
	}, nil
}
