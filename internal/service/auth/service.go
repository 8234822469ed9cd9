package auth

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	userrepo "github.com/Additional-Code/pharmadesk/internal/repository/user"
	"github.com/Additional-Code/pharmadesk/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/service/auth")

// msgInvalidCredentials is shared by the unknown-user and wrong-password paths.
const msgInvalidCredentials = "invalid username or password"

// Session is what a successful login reveals to the dashboard.
type Session struct {
	Message string `json:"message"`
	Role    string `json:"role"`
	Subrole string `json:"subrole"`
}

// Service verifies dashboard credentials.
type Service struct {
	users  userrepo.Repository
	logger *zap.Logger
}

// NewService wires a new Service instance.
func NewService(users userrepo.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, logger: logger}
}

// Login checks username and password against the stored bcrypt hash.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errorbank.BadRequest("username and password are required")
	}

	ctx, span := serviceTracer.Start(ctx, "AuthService.Login", trace.WithAttributes(attribute.String("user.name", username)))
	defer span.End()

	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, userrepo.ErrNotFound) {
		span.SetStatus(codes.Error, "unknown user")
		return nil, errorbank.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		s.logger.Error("failed to load user", zap.Error(err))
		return nil, errorbank.Internal("failed to verify credentials", errorbank.WithCause(err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		span.SetStatus(codes.Error, "password mismatch")
		s.logger.Info("login rejected", zap.String("username", username))
		return nil, errorbank.Unauthorized(msgInvalidCredentials)
	}

	return &Session{Message: "Login successful", Role: user.Role, Subrole: user.Subrole}, nil
}

// HashPassword returns the bcrypt hash stored for new accounts.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
