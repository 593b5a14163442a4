package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/patrckmello/zg-planner/internal/notification"
)

// UserModel is the read-side view of the users table. The planner only needs
// addresses and display names; account management lives elsewhere.
type UserModel struct {
	ID       int64  `gorm:"primaryKey"`
	Name     string `gorm:"type:varchar(255)"`
	Email    string `gorm:"type:varchar(255);uniqueIndex"`
	IsActive bool   `gorm:"default:true"`
}

func (UserModel) TableName() string {
	return "users"
}

type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// EmailsByIDs returns the addresses of the active users among ids. Missing
// or inactive users are simply absent from the result.
func (d *UserDirectory) EmailsByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	var users []UserModel
	err := d.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("is_active = ?", true).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(users))
	for _, u := range users {
		if u.Email != "" {
			out[u.ID] = u.Email
		}
	}
	return out, nil
}

// FindByEmail returns the active user with the given address, or nil.
func (d *UserDirectory) FindByEmail(ctx context.Context, email string) (*notification.User, error) {
	var u UserModel
	err := d.db.WithContext(ctx).
		Where("email = ?", email).
		Where("is_active = ?", true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &notification.User{ID: u.ID, Name: u.Name, Email: u.Email}, nil
}
