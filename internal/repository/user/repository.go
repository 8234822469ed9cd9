package user

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/database"
	"github.com/Additional-Code/pharmadesk/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/repository/user")

// ErrNotFound is returned when no account matches.
var ErrNotFound = errors.New("user not found")

// Repository encapsulates access to dashboard accounts.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	Insert(ctx context.Context, u *entity.User) error
}

// NewRepository picks the implementation matching the configured storage driver.
func NewRepository(cfg config.Config, conns *database.Connections) (Repository, error) {
	switch {
	case conns.Driver == "mongo":
		return newMongoRepository(conns.Mongo.Collection(cfg.Database.Mongo.UsersCollection)), nil
	case cfg.Database.IsSQL():
		return newSQLRepository(conns.Writer, conns.Reader), nil
	case conns.Driver == "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("no user repository for driver %q", conns.Driver)
	}
}
