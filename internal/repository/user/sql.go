package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/pharmadesk/internal/entity"
)

type sqlRepository struct {
	writer *bun.DB
	reader *bun.DB
}

func newSQLRepository(writer, reader *bun.DB) *sqlRepository {
	if reader == nil {
		reader = writer
	}
	return &sqlRepository{writer: writer, reader: reader}
}

func (r *sqlRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	ctx, span := repoTracer.Start(ctx, "UserRepository.FindByUsername", trace.WithAttributes(attribute.String("user.name", username)))
	defer span.End()

	u := new(entity.User)
	err := r.reader.NewSelect().Model(u).Where("username = ?", username).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return u, nil
}

func (r *sqlRepository) Insert(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	ctx, span := repoTracer.Start(ctx, "UserRepository.Insert", trace.WithAttributes(attribute.String("user.name", u.Username)))
	defer span.End()

	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}
	if _, err := r.writer.NewInsert().Model(u).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}
