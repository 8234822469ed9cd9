package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/database"
)

//go:embed sql
var migrationsFS embed.FS

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// Migrator wraps goose operations for the SQL drivers and index management
// for the document store.
type Migrator struct {
	db     *bun.DB
	mongo  *mongo.Database
	dir    string
	cfg    config.Mongo
	logger *zap.Logger
}

// New constructs a migrator for the configured storage driver.
func New(cfg config.Config, conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	m := &Migrator{mongo: conns.Mongo, cfg: cfg.Database.Mongo, logger: logger}

	if !cfg.Database.IsSQL() {
		return m, nil
	}

	dialect, err := gooseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return nil, err
	}
	goose.SetBaseFS(migrationsFS)

	m.db = conns.Writer
	m.dir = path.Join("sql", dialect)
	return m, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	switch {
	case m.db != nil:
		if err := goose.UpContext(ctx, m.db.DB, m.dir); err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to apply")

				return nil
			}
			return err
		}
	case m.mongo != nil:
		if err := m.createIndexes(ctx); err != nil {
			return err
		}
	default:
		m.logger.Info("storage driver has no schema; skipping migrations")

		return nil
	}

	m.logger.Info("migrations applied")

	return nil
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
// For the document store every managed index is dropped regardless of steps.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if m.db == nil {
		if m.mongo != nil {
			if err := m.dropIndexes(ctx); err != nil {
				return err
			}
			m.logger.Info("indexes dropped")
		}
		return nil
	}

	if all {
		if err := goose.DownToContext(ctx, m.db.DB, m.dir, 0); err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to rollback")

				return nil
			}
			return err
		}
		m.logger.Info("migrations rolled back", zap.String("mode", "all"))

		return nil
	}

	if steps <= 0 {
		steps = 1
	}

	for i := 0; i < steps; i++ {
		if err := goose.DownContext(ctx, m.db.DB, m.dir); err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to rollback")

				return nil
			}
			return err
		}
	}

	m.logger.Info("migrations rolled back", zap.Int("steps", steps))

	return nil
}

// Version reports the applied schema version. Drivers without a SQL schema
// report 0.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if m.db == nil {
		return 0, nil
	}
	return goose.GetDBVersionContext(ctx, m.db.DB)
}

type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

func (m *Migrator) indexes() []collectionIndexes {
	return []collectionIndexes{
		{
			collection: m.cfg.OrdersCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "product", Value: 1}, {Key: "creationDate", Value: -1}},
					Options: options.Index().SetName("product_creationDate"),
				},
				{
					Keys:    bson.D{{Key: "patientNumber", Value: 1}},
					Options: options.Index().SetName("patientNumber"),
				},
				{
					Keys:    bson.D{{Key: "collectionDate", Value: 1}},
					Options: options.Index().SetName("collectionDate"),
				},
			},
		},
		{
			collection: m.cfg.UsersCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "username", Value: 1}},
					Options: options.Index().SetName("username_unique").SetUnique(true),
				},
			},
		},
	}
}

func (m *Migrator) createIndexes(ctx context.Context) error {
	for _, ci := range m.indexes() {
		names, err := m.mongo.Collection(ci.collection).Indexes().CreateMany(ctx, ci.models)
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", ci.collection, err)
		}
		m.logger.Info("indexes ensured", zap.String("collection", ci.collection), zap.Strings("indexes", names))
	}
	return nil
}

func (m *Migrator) dropIndexes(ctx context.Context) error {
	for _, ci := range m.indexes() {
		view := m.mongo.Collection(ci.collection).Indexes()
		for _, model := range ci.models {
			name := *model.Options.Name
			if _, err := view.DropOne(ctx, name); err != nil {
				var cmdErr mongo.CommandError
				if errors.As(err, &cmdErr) && cmdErr.Name == "IndexNotFound" {
					continue
				}
				return fmt.Errorf("drop index %s on %s: %w", name, ci.collection, err)
			}
		}
	}
	return nil
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case "postgres", "pg":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}

func isNoMigrationErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "no migrations")
}
