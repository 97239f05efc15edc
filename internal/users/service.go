package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/auth"
	"github.com/openmetalab/marketspace/backend/internal/fault"
	"github.com/openmetalab/marketspace/backend/internal/notification"
)

const (
	opResolve      = "users.resolve_or_create"
	opUserByID     = "users.by_id"
	opUserByAddr   = "users.by_address"
	opUpdate       = "users.update_profile"
	opFollow       = "users.follow"
	opUnfollow     = "users.unfollow"
	opFollowStatus = "users.follow_status"
	opFollowers    = "users.followers"
	opFollowing    = "users.following"
	opTopFollowers = "users.top_followers"
)

// Notifier pushes a notification to the user behind an address.
type Notifier interface {
	NotifyUser(ctx context.Context, address string, draft notification.Draft) error
}

// ServiceConfig describes the dependencies of the profile and social service.
type ServiceConfig struct {
	Database *gorm.DB
	Notifier Notifier
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Service manages marketplace accounts and the follow graph.
type Service struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	clock    func() time.Time
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:       cfg.Database,
		notifier: cfg.Notifier,
		logger:   logger,
		clock:    clock,
	}, nil
}

// SetNotifier wires the fan-out after construction. The notification service
// resolves recipients through this service, so the two are linked in main.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// ResolveOrCreate returns the user for the address, creating a row with empty
// profile fields on first sight. The second return reports a fresh create.
func (s *Service) ResolveOrCreate(ctx context.Context, address string) (User, bool, error) {
	checksummed, err := auth.ChecksumAddress(address)
	if err != nil {
		return User{}, false, fault.Rejected(opResolve, "invalid account address")
	}

	var user User
	err = s.db.WithContext(ctx).Where("address = ?", checksummed).First(&user).Error
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, false, fault.Internal(opResolve, err)
	}

	user = User{Address: checksummed}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Concurrent first login for the same address; fetch the winner.
			var existing User
			if fetchErr := s.db.WithContext(ctx).Where("address = ?", checksummed).First(&existing).Error; fetchErr == nil {
				return existing, false, nil
			}
		}
		return User{}, false, fault.Internal(opResolve, err)
	}
	return user, true, nil
}

// UserByID loads a user by primary key.
func (s *Service) UserByID(ctx context.Context, id uint) (User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.NotFound(opUserByID, "user not found")
	}
	if err != nil {
		return User{}, fault.Internal(opUserByID, err)
	}
	return user, nil
}

// UserByAddress loads a user by checksummed address.
func (s *Service) UserByAddress(ctx context.Context, address string) (User, error) {
	checksummed, err := auth.ChecksumAddress(address)
	if err != nil {
		return User{}, fault.Rejected(opUserByAddr, "invalid account address")
	}
	var user User
	err = s.db.WithContext(ctx).Where("address = ?", checksummed).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.NotFound(opUserByAddr, "user not found")
	}
	if err != nil {
		return User{}, fault.Internal(opUserByAddr, err)
	}
	return user, nil
}

// UserIDByAddress satisfies notification.UserDirectory.
func (s *Service) UserIDByAddress(ctx context.Context, address string) (uint, error) {
	user, err := s.UserByAddress(ctx, address)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

// AddressByUserID returns the checksummed address of a user.
func (s *Service) AddressByUserID(ctx context.Context, id uint) (string, error) {
	user, err := s.UserByID(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Address, nil
}

// ProfileUpdate carries optional profile mutations; nil fields are untouched.
type ProfileUpdate struct {
	Name        *string
	Email       *string
	Avatar      *string
	Description *string
	Website     *string
	Facebook    *string
	Twitter     *string
	Instagram   *string
}

// UpdateProfile applies the provided fields to the user's profile.
func (s *Service) UpdateProfile(ctx context.Context, userID uint, update ProfileUpdate) (User, error) {
	updates := map[string]interface{}{}
	assign := func(column string, value *string) {
		if value != nil {
			updates[column] = *value
		}
	}
	assign("name", update.Name)
	assign("email", update.Email)
	assign("avatar", update.Avatar)
	assign("description", update.Description)
	assign("website", update.Website)
	assign("facebook", update.Facebook)
	assign("twitter", update.Twitter)
	assign("instagram", update.Instagram)

	if len(updates) > 0 {
		result := s.db.WithContext(ctx).
			Model(&User{}).
			Where("id = ?", userID).
			Updates(updates)
		if result.Error != nil {
			return User{}, fault.Internal(opUpdate, result.Error)
		}
		if result.RowsAffected == 0 {
			return User{}, fault.NotFound(opUpdate, "user not found")
		}
	}
	return s.UserByID(ctx, userID)
}

// Follow creates a follower→followed edge and notifies the followed user.
func (s *Service) Follow(ctx context.Context, followerID uint, address string) error {
	followed, err := s.UserByAddress(ctx, address)
	if err != nil {
		return err
	}
	if followed.ID == followerID {
		return fault.Rejected(opFollow, "cannot follow yourself")
	}
	follower, err := s.UserByID(ctx, followerID)
	if err != nil {
		return err
	}

	edge := Follow{FollowerID: followerID, FollowedID: followed.ID}
	if err := s.db.WithContext(ctx).Create(&edge).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fault.Conflict(opFollow, "already following")
		}
		return fault.Internal(opFollow, err)
	}

	if s.notifier != nil {
		draft := notification.Draft{
			Type:         notification.TypeFollow,
			Avatar:       follower.Avatar,
			ActorAddress: follower.Address,
			Message:      "Followed you",
		}
		if notifyErr := s.notifier.NotifyUser(ctx, followed.Address, draft); notifyErr != nil {
			s.logger.Warn("follow notification failed",
				zap.String("address", followed.Address),
				zap.Error(notifyErr))
		}
	}
	return nil
}

// Unfollow removes the follower→followed edge.
func (s *Service) Unfollow(ctx context.Context, followerID uint, address string) error {
	followed, err := s.UserByAddress(ctx, address)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Where("follower_id = ? AND followed_id = ?", followerID, followed.ID).
		Delete(&Follow{})
	if result.Error != nil {
		return fault.Internal(opUnfollow, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound(opUnfollow, "not following")
	}
	return nil
}

// FollowStatus reports whether followerID follows the user behind address.
func (s *Service) FollowStatus(ctx context.Context, followerID uint, address string) (bool, error) {
	followed, err := s.UserByAddress(ctx, address)
	if err != nil {
		return false, err
	}
	var count int64
	err = s.db.WithContext(ctx).
		Model(&Follow{}).
		Where("follower_id = ? AND followed_id = ?", followerID, followed.ID).
		Count(&count).
		Error
	if err != nil {
		return false, fault.Internal(opFollowStatus, err)
	}
	return count > 0, nil
}

// Followers lists the users following the user behind address.
func (s *Service) Followers(ctx context.Context, address string) ([]User, error) {
	followed, err := s.UserByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	var followers []User
	err = s.db.WithContext(ctx).
		Joins("JOIN follows ON follows.follower_id = users.id").
		Where("follows.followed_id = ?", followed.ID).
		Order("follows.created_at DESC").
		Find(&followers).
		Error
	if err != nil {
		return nil, fault.Internal(opFollowers, err)
	}
	return followers, nil
}

// Following lists the users the user behind address follows.
func (s *Service) Following(ctx context.Context, address string) ([]User, error) {
	follower, err := s.UserByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	var following []User
	err = s.db.WithContext(ctx).
		Joins("JOIN follows ON follows.followed_id = users.id").
		Where("follows.follower_id = ?", follower.ID).
		Order("follows.created_at DESC").
		Find(&following).
		Error
	if err != nil {
		return nil, fault.Internal(opFollowing, err)
	}
	return following, nil
}

// TopFollowers ranks users by follower count, descending.
func (s *Service) TopFollowers(ctx context.Context, limit int) ([]RankedUser, error) {
	if limit <= 0 {
		limit = 9
	}
	var ranked []RankedUser
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Select("users.*, COUNT(follows.id) AS follower_count").
		Joins("LEFT JOIN follows ON follows.followed_id = users.id").
		Group("users.id").
		Order("follower_count DESC").
		Limit(limit).
		Find(&ranked).
		Error
	if err != nil {
		return nil, fault.Internal(opTopFollowers, err)
	}
	return ranked, nil
}
