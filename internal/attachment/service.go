// Package attachment manages images attached to forum posts: drafts that
// collect uploads, promotion of temporary objects into permanent storage,
// and reclamation of objects nothing references anymore.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/imageproc"
	"github.com/debemdeboas/forum-attachments/internal/keys"
	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/objectstore"
	"github.com/debemdeboas/forum-attachments/internal/repository"
	"github.com/debemdeboas/forum-attachments/internal/repository/draft"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var attachLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	attachLogger = l
}

// ReferenceChecker is the safety gate in front of every reference-checked
// delete. A true result, with or without an error, blocks deletion.
type ReferenceChecker interface {
	IsReferenced(ctx context.Context, key string) (bool, error)
}

type Validator interface {
	Validate(data []byte) (imageproc.Info, error)
}

type Config struct {
	DraftTTL           time.Duration
	PromoteConcurrency int
	// Commit without an explicit target searches the owner's posts modified
	// since the draft was created minus this window.
	TargetSearchWindow time.Duration
	TargetSearchLimit  int
}

type Deps struct {
	Drafts    draft.Repository
	Posts     repository.PostRepository
	Store     objectstore.Store
	Codec     *keys.Codec
	Refs      ReferenceChecker
	Validator Validator
}

type Service struct {
	cfg Config

	drafts    draft.Repository
	posts     repository.PostRepository
	store     objectstore.Store
	codec     *keys.Codec
	refs      ReferenceChecker
	validator Validator

	locks *draftLocks
	now   func() time.Time

	// Tracks asynchronous purges scheduled by expired appends.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Drafts == nil:
		return nil, errors.New("attachment: draft repository is required")
	case deps.Posts == nil:
		return nil, errors.New("attachment: post repository is required")
	case deps.Store == nil:
		return nil, errors.New("attachment: object store is required")
	case deps.Codec == nil:
		return nil, errors.New("attachment: key codec is required")
	case deps.Refs == nil:
		return nil, errors.New("attachment: reference index is required")
	case deps.Validator == nil:
		return nil, errors.New("attachment: upload validator is required")
	}
	if cfg.DraftTTL <= 0 {
		return nil, errors.New("attachment: draft TTL must be positive")
	}
	if cfg.PromoteConcurrency <= 0 {
		cfg.PromoteConcurrency = 1
	}
	if cfg.TargetSearchLimit <= 0 {
		cfg.TargetSearchLimit = 20
	}

	return &Service{
		cfg:       cfg,
		drafts:    deps.Drafts,
		posts:     deps.Posts,
		store:     deps.Store,
		codec:     deps.Codec,
		refs:      deps.Refs,
		validator: deps.Validator,
		locks:     newDraftLocks(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Close waits for scheduled background purges and stops accepting new ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// CreateDraft starts a composition session for owner.
func (s *Service) CreateDraft(ctx context.Context, owner model.UserID, scopeHint string) (*model.Draft, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrForbidden)
	}
	now := s.now()
	d := &model.Draft{
		Token:     model.DraftToken(uuid.NewString()),
		Owner:     owner,
		ScopeHint: scopeHint,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.drafts.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	attachLogger.Debug().Str("token", string(d.Token)).Str("owner", string(owner)).Msg("Draft created")
	return d, nil
}

// AppendImage validates data, stores it under a temporary key and appends
// it to the draft. Validation happens before any storage write.
func (s *Service) AppendImage(ctx context.Context, token model.DraftToken, owner model.UserID, data []byte) (model.ImageRef, error) {
	info, err := s.validator.Validate(data)
	if err != nil {
		metrics.RecordUpload(len(data), false)
		return model.ImageRef{}, err
	}

	unlock := s.locks.lock(token)
	defer unlock()

	d, err := s.loadOwned(ctx, token, owner)
	if err != nil {
		metrics.RecordUpload(len(data), false)
		return model.ImageRef{}, err
	}
	now := s.now()
	if d.IsExpired(now, s.cfg.DraftTTL) {
		metrics.RecordUpload(len(data), false)
		s.purgeAsync(ctx, token)
		return model.ImageRef{}, fmt.Errorf("%w: %s", ErrExpired, token)
	}

	id := newImageID(d)
	key := s.codec.TemporaryKey(string(d.Owner), string(d.Token), string(id), info.Ext)
	if err := s.store.Put(ctx, key, data, info.ContentType); err != nil {
		metrics.RecordUpload(len(data), false)
		return model.ImageRef{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	ref := model.ImageRef{ID: id, Key: key, URL: s.codec.URL(key)}
	d.Images = append(d.Images, ref)
	d.UpdatedAt = now
	if err := s.drafts.Save(ctx, d); err != nil {
		// Nothing can reference the object yet.
		s.deleteUnchecked(ctx, "upload", []string{key})
		metrics.RecordUpload(len(data), false)
		return model.ImageRef{}, s.draftError(token, err)
	}

	metrics.RecordUpload(len(data), true)
	attachLogger.Debug().
		Str("token", string(token)).
		Str("image_id", string(id)).
		Str("key", key).
		Int("size", len(data)).
		Msg("Image appended")
	return ref, nil
}

// DeleteDraft cancels a draft eagerly, running the same checks as the
// garbage collector. Missing drafts are already cancelled.
func (s *Service) DeleteDraft(ctx context.Context, token model.DraftToken, owner model.UserID) error {
	unlock := s.locks.lock(token)
	defer unlock()

	d, err := s.loadOwned(ctx, token, owner)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	switch s.purgeDraft(ctx, d, "cancel") {
	case purgeSkipped:
		attachLogger.Info().Str("token", string(token)).Msg("Draft still referenced, left for the sweeper")
	case purgeFailed:
		attachLogger.Warn().Str("token", string(token)).Msg("Draft cleanup failed, left for the sweeper")
	}
	return nil
}

// Draft returns the owner's draft.
func (s *Service) Draft(ctx context.Context, token model.DraftToken, owner model.UserID) (*model.Draft, error) {
	return s.loadOwned(ctx, token, owner)
}

// loadOwned fetches a live draft. Committed drafts only await cleanup and
// are reported as missing.
func (s *Service) loadOwned(ctx context.Context, token model.DraftToken, owner model.UserID) (*model.Draft, error) {
	d, err := s.drafts.Get(ctx, token)
	if err != nil {
		return nil, s.draftError(token, err)
	}
	if d.Owner != owner {
		return nil, fmt.Errorf("%w: draft %s", ErrForbidden, token)
	}
	if d.Committed() {
		return nil, fmt.Errorf("%w: draft %s is committed", ErrNotFound, token)
	}
	return d, nil
}

func (s *Service) draftError(token model.DraftToken, err error) error {
	switch {
	case errors.Is(err, draft.ErrNotFound):
		return fmt.Errorf("%w: draft %s", ErrNotFound, token)
	case errors.Is(err, draft.ErrVersionConflict):
		return fmt.Errorf("%w: draft %s", ErrConflict, token)
	default:
		return fmt.Errorf("draft %s: %w", token, err)
	}
}

// purgeAsync purges an expired draft in the background, detached from the
// request that noticed it.
func (s *Service) purgeAsync(ctx context.Context, token model.DraftToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()

		unlock := s.locks.lock(token)
		defer unlock()

		d, err := s.drafts.Get(ctx, token)
		if err != nil {
			if !errors.Is(err, draft.ErrNotFound) {
				attachLogger.Warn().Err(err).Str("token", string(token)).Msg("Failed to load expired draft")
			}
			return
		}
		if d.IsExpired(s.now(), s.cfg.DraftTTL) {
			s.purgeDraft(ctx, d, "expired")
		}
	}()
}

func newImageID(d *model.Draft) model.ImageID {
	for {
		id := model.ImageID("img-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
		if _, taken := d.Image(id); !taken {
			return id
		}
	}
}
