// Package app assembles the attachment subsystem from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/debemdeboas/forum-attachments/internal/attachment"
	"github.com/debemdeboas/forum-attachments/internal/auth"
	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/db"
	"github.com/debemdeboas/forum-attachments/internal/gc"
	"github.com/debemdeboas/forum-attachments/internal/imageproc"
	"github.com/debemdeboas/forum-attachments/internal/keys"
	"github.com/debemdeboas/forum-attachments/internal/logger"
	"github.com/debemdeboas/forum-attachments/internal/objectstore"
	"github.com/debemdeboas/forum-attachments/internal/refindex"
	"github.com/debemdeboas/forum-attachments/internal/repository"
	"github.com/debemdeboas/forum-attachments/internal/repository/draft"
	"github.com/debemdeboas/forum-attachments/internal/util/compression"
	"github.com/rs/zerolog"
)

// SetLoggers hands every package its component logger.
func SetLoggers(l zerolog.Logger) {
	config.SetLogger(logger.Component(l, "config"))
	db.SetLogger(logger.Component(l, "db"))
	repository.SetLogger(logger.Component(l, "repository"))
	objectstore.SetLogger(logger.Component(l, "objectstore"))
	refindex.SetLogger(logger.Component(l, "refindex"))
	attachment.SetLogger(logger.Component(l, "attachment"))
	gc.SetLogger(logger.Component(l, "gc"))
	auth.SetLogger(logger.Component(l, "auth"))
}

type App struct {
	Config *config.Config

	DB      db.DB
	Posts   *repository.DBPostRepository
	Drafts  draft.Repository
	Store   objectstore.Store
	Codec   *keys.Codec
	Service *attachment.Service
	Sweeper *gc.Sweeper
}

// New opens the database and object store and wires the service on top.
// The sweeper is built but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := conn.InitDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{Config: cfg, DB: conn}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	compressor, err := compression.New(cfg.Database.RevisionCompression)
	if err != nil {
		return err
	}
	a.Posts = repository.NewDBPostRepository(a.DB, compressor)
	a.Drafts = draft.NewSQLRepository(a.DB)

	store, err := objectstore.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	a.Store = store

	a.Codec, err = keys.NewCodec(keys.Config{
		PublicBaseURL:     cfg.Storage.PublicBaseURL,
		Bucket:            cfg.Storage.Bucket,
		Hosts:             cfg.Storage.Hosts,
		TemporaryPrefixes: []string{cfg.Attachments.TemporaryPrefix},
		PermanentPrefixes: append([]string{cfg.Attachments.PermanentPrefix}, cfg.Attachments.LegacyPrefixes...),
	})
	if err != nil {
		return err
	}

	a.Service, err = attachment.NewService(attachment.Config{
		DraftTTL:           cfg.Attachments.DraftTTL,
		PromoteConcurrency: cfg.Attachments.PromoteConcurrency,
		TargetSearchWindow: cfg.Attachments.TargetSearchWindow,
		TargetSearchLimit:  cfg.Attachments.TargetSearchLimit,
	}, attachment.Deps{
		Drafts: a.Drafts,
		Posts:  a.Posts,
		Store:  a.Store,
		Codec:  a.Codec,
		Refs:   refindex.New(a.Posts, cfg.Attachments.ReferenceScopes...),
		Validator: imageproc.NewValidator(imageproc.Limits{
			MaxBytes:  cfg.Attachments.MaxBytes,
			MaxWidth:  cfg.Attachments.MaxWidth,
			MaxHeight: cfg.Attachments.MaxHeight,
			Formats:   cfg.Attachments.Formats,
		}),
	})
	if err != nil {
		return err
	}

	a.Sweeper = gc.NewSweeper(a.Service, cfg.Attachments.SweepInterval, cfg.Attachments.SweepBatch)
	return nil
}

// Close stops the sweeper, waits for background purges and releases the
// store and database.
func (a *App) Close() error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Service != nil {
		a.Service.Close()
	}
	var errs []error
	if c, ok := a.Store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
