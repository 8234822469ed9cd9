package user

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/pharmadesk/internal/entity"
)

type userDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Username  string             `bson:"username"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	Role      string             `bson:"role"`
	Subrole   string             `bson:"subrole"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type mongoRepository struct {
	users *mongo.Collection
}

func newMongoRepository(users *mongo.Collection) *mongoRepository {
	return &mongoRepository{users: users}
}

func (r *mongoRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	ctx, span := repoTracer.Start(ctx, "UserRepository.FindByUsername", trace.WithAttributes(attribute.String("user.name", username)))
	defer span.End()

	var doc userDocument
	err := r.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find failed")
		return nil, err
	}
	return &entity.User{
		ID:           doc.ID.Hex(),
		Username:     doc.Username,
		Email:        doc.Email,
		PasswordHash: doc.Password,
		Role:         doc.Role,
		Subrole:      doc.Subrole,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (r *mongoRepository) Insert(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	ctx, span := repoTracer.Start(ctx, "UserRepository.Insert", trace.WithAttributes(attribute.String("user.name", u.Username)))
	defer span.End()

	oid := primitive.NewObjectID()
	if u.ID != "" {
		parsed, err := primitive.ObjectIDFromHex(u.ID)
		if err != nil {
			return err
		}
		oid = parsed
	}
	doc := userDocument{
		ID:        oid,
		Username:  u.Username,
		Email:     u.Email,
		Password:  u.PasswordHash,
		Role:      u.Role,
		Subrole:   u.Subrole,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	u.ID = oid.Hex()
	return nil
}
