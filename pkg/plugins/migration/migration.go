// Package migration provides the schema migration plugin. It applies a YAML
// changelog to the database opened by the orm plugin, recording applied
// change sets in a changelog collection and serializing runs with a lock
// collection.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/orm"
	"github.com/sirosfoundation/go-service-framework/pkg/singleton"
)

// ErrLocked is returned when another run holds the changelog lock.
var ErrLocked = errors.New("migration: changelog is locked by another run")

const lockID = "lock"

// Result describes one run.
type Result struct {
	RunID   string
	Applied []string
	Skipped int
}

// Manager is the schema migration capability.
type Manager interface {
	plugin.Plugin

	// CreateAndUpdate brings the database up to date with the changelog.
	// It returns a nil Result when migration is disabled.
	CreateAndUpdate(ctx context.Context) (*Result, error)
}

// DatabaseSource yields the database manager migrations run against.
type DatabaseSource func() (orm.Manager, error)

// MongoManager applies changelogs to MongoDB.
type MongoManager struct {
	cfg    config.MigrationConfig
	dbs    DatabaseSource
	logger *zap.Logger
	now    func() time.Time
}

// NewMongoManager creates a migration manager.
func NewMongoManager(cfg config.MigrationConfig, dbs DatabaseSource, logger *zap.Logger) *MongoManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dbs == nil {
		dbs = orm.Pinned
	}
	if cfg.ChangeLogTable == "" {
		cfg.ChangeLogTable = "LIQUIBASE_CHANGE_LOG_TABLE"
	}
	if cfg.ChangeLogLockTable == "" {
		cfg.ChangeLogLockTable = "LIQUIBASE_CHANGE_LOCK_TABLE"
	}
	return &MongoManager{cfg: cfg, dbs: dbs, logger: logger.Named("migration"), now: time.Now}
}

func (m *MongoManager) PluginName() string { return "mongo-migration" }

func (m *MongoManager) CreateAndUpdate(ctx context.Context) (*Result, error) {
	if !m.cfg.Enable {
		m.logger.Debug("Migration disabled")
		return nil, nil
	}

	cl, err := LoadChangeLog(m.cfg.ChangeLogFile)
	if err != nil {
		return nil, err
	}
	sets, err := cl.UpTo(m.cfg.Tag)
	if err != nil {
		return nil, err
	}

	dbm, err := m.dbs()
	if err != nil {
		return nil, fmt.Errorf("migration: no database: %w", err)
	}
	if err := dbm.Init(ctx); err != nil {
		return nil, err
	}
	db, ok := dbm.Database()
	if !ok {
		return nil, fmt.Errorf("migration: database %s not open", dbm.PluginName())
	}

	res := &Result{RunID: uuid.NewString()}
	log := m.logger.With(zap.String("run_id", res.RunID))

	release, err := m.lock(ctx, db, res.RunID)
	if err != nil {
		return nil, err
	}
	defer release()

	changelog := db.Collection(m.cfg.ChangeLogTable)
	if m.cfg.DropFirst {
		for _, name := range append(cl.Collections(), m.cfg.ChangeLogTable) {
			if err := db.Collection(name).Drop(ctx); err != nil {
				return nil, fmt.Errorf("failed to drop %s: %w", name, err)
			}
		}
		log.Warn("Dropped changelog collections before update")
	}

	applied, err := m.applied(ctx, changelog)
	if err != nil {
		return nil, err
	}
	pending, err := Pending(sets, applied)
	if err != nil {
		return nil, err
	}
	res.Skipped = len(sets) - len(pending)

	for _, cs := range pending {
		if err := m.apply(ctx, db, cs); err != nil {
			return res, fmt.Errorf("change set %q: %w", cs.ID, err)
		}
		_, err := changelog.InsertOne(ctx, bson.M{
			"_id":         cs.ID,
			"author":      cs.Author,
			"tag":         cs.Tag,
			"checksum":    cs.Checksum(),
			"run_id":      res.RunID,
			"executed_at": m.now().UTC(),
		})
		if err != nil {
			return res, fmt.Errorf("failed to record change set %q: %w", cs.ID, err)
		}
		res.Applied = append(res.Applied, cs.ID)
		log.Info("Change set applied", zap.String("id", cs.ID), zap.String("author", cs.Author))
	}

	log.Info("Migration complete", zap.Int("applied", len(res.Applied)), zap.Int("skipped", res.Skipped))
	return res, nil
}

func (m *MongoManager) lock(ctx context.Context, db *mongo.Database, runID string) (func(), error) {
	locks := db.Collection(m.cfg.ChangeLogLockTable)
	_, err := locks.InsertOne(ctx, bson.M{"_id": lockID, "locked_by": runID, "locked_at": m.now().UTC()})
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire changelog lock: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := locks.DeleteOne(ctx, bson.M{"_id": lockID, "locked_by": runID}); err != nil {
			m.logger.Error("Failed to release changelog lock", zap.Error(err))
		}
	}, nil
}

func (m *MongoManager) applied(ctx context.Context, changelog *mongo.Collection) (map[string]string, error) {
	cur, err := changelog.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to read changelog: %w", err)
	}
	var rows []struct {
		ID       string `bson:"_id"`
		Checksum string `bson:"checksum"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to read changelog: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Checksum
	}
	return out, nil
}

func (m *MongoManager) apply(ctx context.Context, db *mongo.Database, cs ChangeSet) error {
	for _, c := range cs.Changes {
		switch {
		case c.CreateCollection != "":
			err := db.CreateCollection(ctx, c.CreateCollection)
			var cmdErr mongo.CommandError
			if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
				err = nil
			}
			if err != nil {
				return err
			}
		case c.DropCollection != "":
			if err := db.Collection(c.DropCollection).Drop(ctx); err != nil {
				return err
			}
		case c.CreateIndex != nil:
			idx := options.Index().SetUnique(c.CreateIndex.Unique)
			if c.CreateIndex.Name != "" {
				idx.SetName(c.CreateIndex.Name)
			}
			_, err := db.Collection(c.CreateIndex.Collection).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys:    IndexKeys(c.CreateIndex.Keys),
				Options: idx,
			})
			if err != nil {
				return err
			}
		case c.Insert != nil:
			if len(c.Insert.Documents) == 0 {
				continue
			}
			docs := make([]any, len(c.Insert.Documents))
			for i, d := range c.Insert.Documents {
				docs[i] = bson.M(d)
			}
			if _, err := db.Collection(c.Insert.Collection).InsertMany(ctx, docs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Capability describes the migration plugin. dbs supplies the database
// manager, typically resolved from the same resolver.
func Capability(cfg config.MigrationConfig, dbs DatabaseSource, logger *zap.Logger) plugin.Capability {
	return plugin.CapabilityOf[Manager](func() (Manager, error) {
		return NewMongoManager(cfg, dbs, logger), nil
	})
}

var slot = singleton.For[Manager](func() (Manager, error) {
	return NewMongoManager(config.Default().Plugins.Migration, orm.Pinned, nil), nil
})

// Singleton returns the process-wide slot of the default migration manager.
func Singleton() *singleton.Slot[Manager] { return slot }

// Pinned returns the process-wide migration manager.
func Pinned() (Manager, error) { return slot.GetPinned() }

// Evictable returns the process-wide evictable migration manager.
func Evictable() (Manager, error) { return slot.GetEvictable() }
