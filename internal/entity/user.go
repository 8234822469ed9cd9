package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a dashboard account. Accounts are created by the seeder and are
// read-only at runtime.
type User struct {
	bun.BaseModel `bun:"table:app_users"`

	ID           string    `bun:"id,pk" json:"id"`
	Username     string    `bun:"username,unique" json:"username"`
	Email        string    `bun:"email,unique" json:"email"`
	PasswordHash string    `bun:"password" json:"-"`
	Role         string    `bun:"role" json:"role"`
	Subrole      string    `bun:"subrole" json:"subrole"`
	CreatedAt    time.Time `bun:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `bun:"updated_at" json:"updatedAt"`
}
