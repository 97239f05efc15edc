package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/fault"
)

const (
	opNotify   = "notification.notify_user"
	opList     = "notification.list"
	opMarkRead = "notification.mark_read"
)

// UserDirectory resolves marketplace users by account address.
type UserDirectory interface {
	UserIDByAddress(ctx context.Context, address string) (uint, error)
}

// ServiceConfig describes the dependencies of the fan-out service.
type ServiceConfig struct {
	Database   *gorm.DB
	Users      UserDirectory
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Service persists notifications and pushes live events to connected
// recipients.
type Service struct {
	db         *gorm.DB
	users      UserDirectory
	dispatcher *Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// NewService constructs the fan-out service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notification: database connection required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("notification: user directory required")
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
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
		db:         cfg.Database,
		users:      cfg.Users,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      clock,
	}, nil
}

// Dispatcher exposes the live channel for the websocket endpoint.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// NotifyUser upserts a notification for the user behind address. A duplicate
// draft re-marks the existing row unread; only a fresh insert is pushed over
// the live channel.
func (s *Service) NotifyUser(ctx context.Context, address string, draft Draft) error {
	if !ValidType(draft.Type) {
		return fault.Rejected(opNotify, fmt.Sprintf("unknown notification type %q", draft.Type))
	}
	userID, err := s.users.UserIDByAddress(ctx, address)
	if err != nil {
		return err
	}

	var existing Notification
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND avatar = ? AND actor_address = ? AND image = ? AND message = ?",
			userID, draft.Type, draft.Avatar, draft.ActorAddress, draft.Image, draft.Message).
		First(&existing).
		Error
	if err == nil {
		if updateErr := s.db.WithContext(ctx).
			Model(&Notification{}).
			Where("id = ?", existing.ID).
			Update("is_read", false).
			Error; updateErr != nil {
			return fault.Internal(opNotify, updateErr)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.Internal(opNotify, err)
	}

	row := Notification{
		UserID:       userID,
		Type:         draft.Type,
		Avatar:       draft.Avatar,
		ActorAddress: draft.ActorAddress,
		Image:        draft.Image,
		Message:      draft.Message,
		IsRead:       false,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fault.Internal(opNotify, err)
	}

	s.dispatcher.Publish(address, eventFromRow(row))
	s.logger.Debug("notification delivered",
		zap.Uint("user_id", userID),
		zap.String("type", string(draft.Type)))
	return nil
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uint) ([]Event, error) {
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).
		Error
	if err != nil {
		return nil, fault.Internal(opList, err)
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	return events, nil
}

// MarkRead flips the read flag on one of the user's own notifications.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID uint) error {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if result.Error != nil {
		return fault.Internal(opMarkRead, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound(opMarkRead, "notification not found")
	}
	return nil
}
