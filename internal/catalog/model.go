package catalog

import "time"

// Collection groups NFTs for browsing and auction filtering.
type Collection struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Description string    `gorm:"column:description;size:1024"`
	Image       string    `gorm:"column:image;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing collections.
func (Collection) TableName() string {
	return "collections"
}

// Nft is a minted token. TokenID is the stable lookup key; owner, price and
// the listed flag mutate on purchase, resale and auction settlement.
type Nft struct {
	TokenID      uint      `gorm:"column:token_id;primaryKey"`
	OwnerID      uint      `gorm:"column:owner_id;not null;index"`
	CollectionID uint      `gorm:"column:collection_id;index"`
	Price        float64   `gorm:"column:price;not null"`
	IsSelling    bool      `gorm:"column:is_selling;not null"`
	Image        string    `gorm:"column:image;size:512"`
	Name         string    `gorm:"column:name;size:190;not null"`
	Description  string    `gorm:"column:description;size:1024"`
	Website      string    `gorm:"column:website;size:512"`
	Royalties    float64   `gorm:"column:royalties"`
	Size         string    `gorm:"column:size;size:64"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing NFTs.
func (Nft) TableName() string {
	return "nfts"
}

// NftLike is unique per (user, token) pair.
type NftLike struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex:idx_nft_likes_pair"`
	TokenID   uint      `gorm:"column:token_id;not null;uniqueIndex:idx_nft_likes_pair;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing NFT likes.
func (NftLike) TableName() string {
	return "nft_likes"
}

// OwnershipTransfer is an append-only record of an NFT changing hands,
// written on direct purchase and on auction settlement.
type OwnershipTransfer struct {
	ID         uint      `gorm:"column:id;primaryKey"`
	TokenID    uint      `gorm:"column:token_id;not null;index"`
	FromUserID uint      `gorm:"column:from_user_id;not null"`
	ToUserID   uint      `gorm:"column:to_user_id;not null"`
	Price      float64   `gorm:"column:price;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing ownership history.
func (OwnershipTransfer) TableName() string {
	return "ownership_transfers"
}
