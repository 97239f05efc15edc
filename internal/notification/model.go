package notification

import "time"

// Type tags the notification kind. Each kind carries the same payload shape
// but renders differently on the client.
type Type string

const (
	TypeFollow   Type = "follow"
	TypeLike     Type = "like"
	TypeBid      Type = "bid"
	TypeSale     Type = "sale"
	TypePurchase Type = "purchase"
)

// ValidType reports whether the tag is one of the known notification kinds.
func ValidType(t Type) bool {
	switch t {
	case TypeFollow, TypeLike, TypeBid, TypeSale, TypePurchase:
		return true
	}
	return false
}

// Notification is a persisted inbox entry for a user. A duplicate draft
// (same user, type and payload) re-marks the existing row unread instead of
// inserting a new one.
type Notification struct {
	ID           uint      `gorm:"column:id;primaryKey"`
	UserID       uint      `gorm:"column:user_id;not null;index"`
	Type         Type      `gorm:"column:type;size:16;not null"`
	Avatar       string    `gorm:"column:avatar;size:512"`
	ActorAddress string    `gorm:"column:actor_address;size:64"`
	Image        string    `gorm:"column:image;size:512"`
	Message      string    `gorm:"column:message;size:512"`
	IsRead       bool      `gorm:"column:is_read;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// Draft is the payload a domain event hands to the fan-out.
type Draft struct {
	Type         Type
	Avatar       string
	ActorAddress string
	Image        string
	Message      string
}

// Event is the wire shape emitted over the live channel and by list reads.
type Event struct {
	ID      uint   `json:"id"`
	Type    Type   `json:"type"`
	Avatar  string `json:"avatar"`
	Address string `json:"address"`
	Image   string `json:"image"`
	Message string `json:"message"`
	IsRead  bool   `json:"isRead"`
}

func eventFromRow(row Notification) Event {
	return Event{
		ID:      row.ID,
		Type:    row.Type,
		Avatar:  row.Avatar,
		Address: row.ActorAddress,
		Image:   row.Image,
		Message: row.Message,
		IsRead:  row.IsRead,
	}
}
