package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Compile-time check
var _ Directory = (*Gorm)(nil)

// userRecord is the table form of a User. Username is nullable so that
// several users may omit it without tripping the unique index.
type userRecord struct {
	ID           string  `gorm:"primaryKey;size:36"`
	Name         string  `gorm:"not null"`
	Username     *string `gorm:"uniqueIndex"`
	Email        string  `gorm:"uniqueIndex;not null"`
	PasswordHash string  `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (r *userRecord) toUser() *User {
	u := &User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
	if r.Username != nil {
		u.Username = *r.Username
	}
	return u
}

// Gorm is a Directory on any GORM dialect.
type Gorm struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database for NewGorm.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("directory: open sqlite %s: %w", path, err)
	}
	return db, nil
}

// NewGorm migrates the users table and returns a directory on db.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if db == nil {
		return nil, fmt.Errorf("directory: gorm db is required")
	}
	if err := db.AutoMigrate(&userRecord{}); err != nil {
		return nil, fmt.Errorf("directory: migrate users: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Create(ctx context.Context, u *User) (*User, error) {
	c, err := normalize(u)
	if err != nil {
		return nil, err
	}
	rec := userRecord{
		ID:           uuid.NewString(),
		Name:         c.Name,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if c.Username != "" {
		rec.Username = &c.Username
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("directory: insert user: %w", err)
	}
	return rec.toUser(), nil
}

func (g *Gorm) ByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	return g.first(g.db.WithContext(ctx).Where("id = ?", id))
}

func (g *Gorm) ByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	ids = uniqueIDs(ids)
	out := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []userRecord
	if err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("directory: find users: %w", err)
	}
	for i := range recs {
		u := recs[i].toUser()
		out[u.ID] = u
	}
	return out, nil
}

func (g *Gorm) ByIdentifier(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, ErrUserNotFound
	}
	return g.first(g.db.WithContext(ctx).Where("email = ? OR username = ?", identifier, identifier))
}

func (g *Gorm) first(tx *gorm.DB) (*User, error) {
	var rec userRecord
	if err := tx.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("directory: find user: %w", err)
	}
	return rec.toUser(), nil
}

func (g *Gorm) Search(ctx context.Context, q string, limit int) ([]*User, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []*User{}, nil
	}
	pattern := "%" + likeEscaper.Replace(q) + "%"

	var recs []userRecord
	err := g.db.WithContext(ctx).
		Where(`LOWER(email) LIKE ? ESCAPE '\' OR LOWER(username) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("created_at ASC").
		Limit(searchLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("directory: search users: %w", err)
	}
	out := make([]*User, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toUser())
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// isUniqueViolation also matches the raw driver message for handles
// opened without TranslateError.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
