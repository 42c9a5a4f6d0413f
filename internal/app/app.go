// Package app assembles the vault from configuration: blob backends,
// metadata and audit stores, and the logger.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hamzasheedi/secure-hub/internal/audit"
	"github.com/hamzasheedi/secure-hub/internal/config"
	"github.com/hamzasheedi/secure-hub/internal/storage"
	"github.com/hamzasheedi/secure-hub/internal/vault"
)

const (
	recordsCollection = "vault_records"
	auditCollection   = "audit_log"
)

type App struct {
	Config config.Config
	Vault  *vault.Store
	Logger *logrus.Logger

	sqlDB   *sql.DB
	mongo   *mongo.Client
	durable storage.BlobStore
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(cfg config.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
		l.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
	}
	l.SetLevel(lvl)
	return l
}

// Open wires every store named by cfg and records a vault_open event.
func Open(ctx context.Context, cfg config.Config, log *logrus.Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	a := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	suite, err := cfg.Suite()
	if err != nil {
		return nil, err
	}
	scratch, err := storage.NewFileBlobStore(cfg.ScratchDir)
	if err != nil {
		return nil, err
	}

	if cfg.UsesMongo() {
		cctx, cancel := context.WithTimeout(ctx, cfg.DurableTimeout)
		a.mongo, err = storage.ConnectMongo(cctx, cfg.MongoURI)
		cancel()
		if err != nil {
			if a.mongo == nil || cfg.MetadataBackend == config.MetadataMongo {
				return nil, fmt.Errorf("app: connect mongo: %w", err)
			}
			log.WithError(err).Warn("durable storage unreachable at startup, files fall back to scratch storage until it answers")
			err = nil
		}
	}

	records, auditStore, err := a.openMetadata(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.DurableEnabled {
		a.durable = storage.NewMongoBlobStore(a.mongo.Database(cfg.MongoDB), cfg.BlobBucket)
	}

	a.Vault, err = vault.New(vault.Options{
		Records:   records,
		Durable:   a.durable,
		Ephemeral: scratch,
		Audit:     audit.New(auditStore),
		Suite:     suite,
		Policy: vault.Policy{
			MaxPayloadBytes: cfg.MaxPayloadBytes,
			HeadroomBuffer:  cfg.HeadroomBuffer,
			DurableTimeout:  cfg.DurableTimeout,
		},
		ScratchDir: cfg.ScratchDir,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	if err := a.Vault.SystemEvent(ctx, "vault_open", map[string]string{
		"suite":    suite.ID(),
		"metadata": cfg.MetadataBackend,
		"durable":  strconv.FormatBool(a.durable != nil),
	}); err != nil {
		return nil, fmt.Errorf("app: record startup: %w", err)
	}

	log.WithFields(logrus.Fields{
		"suite":    suite.ID(),
		"metadata": cfg.MetadataBackend,
		"durable":  a.durable != nil,
		"scratch":  cfg.ScratchDir,
	}).Info("vault opened")
	return a, nil
}

func (a *App) openMetadata(ctx context.Context) (storage.RecordStore, audit.Store, error) {
	switch a.Config.MetadataBackend {
	case config.MetadataMemory:
		a.Logger.Warn("metadata kept in memory, records and audit log are lost on exit")
		return storage.NewMemoryRecordStore(), audit.NewMemoryStore(), nil

	case config.MetadataMongo:
		db := a.mongo.Database(a.Config.MongoDB)
		records, err := storage.NewMongoRecordStore(ctx, db, recordsCollection)
		if err != nil {
			return nil, nil, err
		}
		chain, err := audit.NewMongoStore(ctx, db, auditCollection)
		if err != nil {
			return nil, nil, err
		}
		return records, chain, nil

	default:
		db, err := storage.OpenSQLite(a.Config.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.sqlDB = db
		records, err := storage.NewSQLiteRecordStore(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		chain, err := audit.NewSQLiteStore(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		return records, chain, nil
	}
}

// Close releases database handles. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
		a.sqlDB = nil
	}
	if a.mongo != nil {
		errs = append(errs, a.mongo.Disconnect(ctx))
		a.mongo = nil
	}
	return errors.Join(errs...)
}
