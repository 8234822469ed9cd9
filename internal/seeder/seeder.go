package seeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/entity"
	orderrepo "github.com/Additional-Code/pharmadesk/internal/repository/order"
	userrepo "github.com/Additional-Code/pharmadesk/internal/repository/user"
	authservice "github.com/Additional-Code/pharmadesk/internal/service/auth"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	users  userrepo.Repository
	orders orderrepo.Repository
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Seeder on top of the configured repositories.
func New(users userrepo.Repository, orders orderrepo.Repository, logger *zap.Logger) *Seeder {
	return &Seeder{users: users, orders: orders, logger: logger, now: time.Now}
}

type account struct {
	username string
	email    string
	password string
	role     string
	subrole  string
}

var accounts = []account{
	{"rushadmin", "rushadmin@gorush.com", "admin123", "gorush", "admin"},
	{"rushcs", "rushcs@gorush.com", "cs123", "gorush", "customer_service"},
	{"jpmcuser", "jpmcuser@jpmc.com", "jpmc123", "jpmc", "viewer"},
	{"dylan", "dylan@gorush.com", "dylan123", "gorush", "admin"},
	{"mohuser", "mohuser@moh.gov", "moh123", "moh", "viewer"},
}

// Users creates the dashboard accounts that do not exist yet. Existing
// accounts are left untouched.
func (s *Seeder) Users(ctx context.Context) error {
	created := 0
	for _, a := range accounts {
		_, err := s.users.FindByUsername(ctx, a.username)
		switch {
		case err == nil:
			s.logger.Info("user already exists", zap.String("username", a.username))
			continue
		case !errors.Is(err, userrepo.ErrNotFound):
			return fmt.Errorf("lookup %s: %w", a.username, err)
		}

		hash, err := authservice.HashPassword(a.password)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		u := &entity.User{
			Username:     a.username,
			Email:        a.email,
			PasswordHash: hash,
			Role:         a.role,
			Subrole:      a.subrole,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Insert(ctx, u); err != nil {
			return fmt.Errorf("insert %s: %w", a.username, err)
		}
		created++
	}

	s.logger.Info("seeded users", zap.Int("created", created), zap.Int("total", len(accounts)))
	return nil
}

// Orders seeds a handful of sample orders covering both pharmacies and a
// legacy untagged record. Orders are keyed by fixed ids so reruns are no-ops.
func (s *Seeder) Orders(ctx context.Context) error {
	now := s.now().UTC()
	created := now.AddDate(0, 0, -3)
	collection := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 2)
	jpmc, moh := access.ProductJPMC, access.ProductMOH

	samples := []entity.Order{
		{
			ID:               "65f000000000000000000001",
			Product:          &jpmc,
			ReceiverName:     "Aminah binti Yusof",
			PatientNumber:    "JP-100231",
			DoTrackingNumber: "GR-JP-0001",
			JobMethod:        "Standard",
			CollectionDate:   &collection,
			CollectionStatus: "scheduled",
			CreationDate:     &created,
			Extra:            map[string]any{"receiverPhoneNumber": "+673 711 0001", "receiverAddress": "Kampong Kiarong"},
		},
		{
			ID:               "65f000000000000000000002",
			Product:          &jpmc,
			ReceiverName:     "Aminah binti Yusof",
			PatientNumber:    "JP-100231",
			DoTrackingNumber: "GR-JP-0002",
			JobMethod:        "Self Collect",
			CreationDate:     &created,
		},
		{
			ID:               "65f000000000000000000003",
			Product:          &moh,
			ReceiverName:     "Haji Rosli",
			PatientNumber:    "MOH-55012",
			DoTrackingNumber: "GR-MOH-0001",
			JobMethod:        "Standard",
			CollectionDate:   &collection,
			CollectionStatus: "scheduled",
			CreationDate:     &created,
			Extra:            map[string]any{"receiverPhoneNumber": "+673 822 0003"},
		},
		{
			ID:               "65f000000000000000000004",
			ReceiverName:     "Lim Mei Ling",
			PatientNumber:    "JP-099870",
			DoTrackingNumber: "GR-LEGACY-0001",
			JobMethod:        "Standard",
			CreationDate:     &created,
		},
	}

	inserted := 0
	for _, sample := range samples {
		order := sample
		_, err := s.orders.GetByID(ctx, order.ID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, orderrepo.ErrNotFound):
			return fmt.Errorf("lookup order %s: %w", order.ID, err)
		}

		order.UpdatedAt = &now
		if err := s.orders.Insert(ctx, &order); err != nil {
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}
		inserted++
	}

	s.logger.Info("seeded orders", zap.Int("created", inserted), zap.Int("total", len(samples)))
	return nil
}

// All runs every seeder in dependency order.
func (s *Seeder) All(ctx context.Context) error {
	if err := s.Users(ctx); err != nil {
		return err
	}
	return s.Orders(ctx)
}
