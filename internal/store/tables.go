package store

import (
	"database/sql"

	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/types"
)

// Column names used in queries by the service layer.
const (
	ColumnUsername  = "username"
	ColumnEmail     = "email"
	ColumnHash      = "hash"
	ColumnExpiresAt = "expires_at"
	ColumnUserID    = "user_id"
	ColumnProductID = "product_id"
	ColumnName      = "name"
)

// UserTable maps types.User onto the users table.
var UserTable = Table[*types.User]{
	Name:    "users",
	Columns: []string{"username", "email", "name", "role", "password_hash"},
	New:     func() *types.User { return &types.User{} },
	Values: func(u *types.User) []any {
		return []any{u.Username, u.Email, u.Name, int(u.Role), u.PasswordHash}
	},
	Targets: func(u *types.User) []any {
		return []any{&u.Username, &u.Email, &u.Name, &u.Role, &u.PasswordHash}
	},
}

// ResetTokenTable maps types.ResetToken onto the reset_tokens table.
var ResetTokenTable = Table[*types.ResetToken]{
	Name:    "reset_tokens",
	Columns: []string{"hash", "expires_at", "user_id"},
	New:     func() *types.ResetToken { return &types.ResetToken{} },
	Values: func(t *types.ResetToken) []any {
		return []any{t.Hash, t.ExpiresAt, t.UserID}
	},
	Targets: func(t *types.ResetToken) []any {
		return []any{&t.Hash, &t.ExpiresAt, &t.UserID}
	},
}

// ProductTable maps types.Product onto the products table.
var ProductTable = Table[*types.Product]{
	Name:    "products",
	Columns: []string{"name", "amount", "amount_threshold", "user_id"},
	New:     func() *types.Product { return &types.Product{} },
	Values: func(p *types.Product) []any {
		return []any{p.Name, p.Amount, p.AmountThreshold, p.UserID}
	},
	Targets: func(p *types.Product) []any {
		return []any{&p.Name, &p.Amount, &p.AmountThreshold, &p.UserID}
	},
}

// ProductImageTable maps types.ProductImage onto the product_images table.
var ProductImageTable = Table[*types.ProductImage]{
	Name:    "product_images",
	Columns: []string{"product_id", "name", "path", "content_type"},
	New:     func() *types.ProductImage { return &types.ProductImage{} },
	Values: func(i *types.ProductImage) []any {
		return []any{i.ProductID, i.Name, i.Path, i.ContentType}
	},
	Targets: func(i *types.ProductImage) []any {
		return []any{&i.ProductID, &i.Name, &i.Path, &i.ContentType}
	},
}

// Repositories groups the repository of every entity kind.
type Repositories struct {
	Users         *Repository[*types.User]
	ResetTokens   *Repository[*types.ResetToken]
	Products      *Repository[*types.Product]
	ProductImages *Repository[*types.ProductImage]
}

// NewRepositories builds SQL-backed repositories sharing one connection pool.
func NewRepositories(db *sql.DB, dialect Dialect, clk clock.Clock) *Repositories {
	return &Repositories{
		Users:         NewRepository[*types.User](NewSQLBackend(db, dialect, UserTable), clk),
		ResetTokens:   NewRepository[*types.ResetToken](NewSQLBackend(db, dialect, ResetTokenTable), clk),
		Products:      NewRepository[*types.Product](NewSQLBackend(db, dialect, ProductTable), clk),
		ProductImages: NewRepository[*types.ProductImage](NewSQLBackend(db, dialect, ProductImageTable), clk),
	}
}
