package users

import "time"

// User is a marketplace account keyed by its checksummed address. The row is
// created with empty profile fields on first successful login.
type User struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	Address     string    `gorm:"column:address;size:64;not null;uniqueIndex"`
	Name        string    `gorm:"column:name;size:190"`
	Email       string    `gorm:"column:email;size:320"`
	Avatar      string    `gorm:"column:avatar;size:512"`
	Description string    `gorm:"column:description;size:1024"`
	Website     string    `gorm:"column:website;size:512"`
	Facebook    string    `gorm:"column:facebook;size:512"`
	Twitter     string    `gorm:"column:twitter;size:512"`
	Instagram   string    `gorm:"column:instagram;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing marketplace users.
func (User) TableName() string {
	return "users"
}

// Follow is a directed edge from follower to followed, unique per pair.
type Follow struct {
	ID         uint      `gorm:"column:id;primaryKey"`
	FollowerID uint      `gorm:"column:follower_id;not null;uniqueIndex:idx_follows_edge"`
	FollowedID uint      `gorm:"column:followed_id;not null;uniqueIndex:idx_follows_edge;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing follow edges.
func (Follow) TableName() string {
	return "follows"
}

// RankedUser pairs a user with their follower count for leaderboard reads.
type RankedUser struct {
	User
	FollowerCount int64 `gorm:"column:follower_count" json:"followerCount"`
}
