package auction

import "time"

// Auction offers an NFT for bidding. At most one active auction may exist per
// NFT; a partial unique index on (nft_id) WHERE is_active backs that
// invariant at the storage layer (see internal/database migrations).
type Auction struct {
	ID              uint      `gorm:"column:id;primaryKey"`
	NftID           uint      `gorm:"column:nft_id;not null;index"`
	SellerID        uint      `gorm:"column:seller_id;not null;index"`
	MinBid          float64   `gorm:"column:min_bid;not null"`
	DurationSeconds int64     `gorm:"column:duration_seconds;not null"`
	EndTime         time.Time `gorm:"column:end_time;not null"`
	IsActive        bool      `gorm:"column:is_active;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing auctions.
func (Auction) TableName() string {
	return "auctions"
}

// Bid is append-only; the highest bid is determined by sorting on amount at
// read time.
type Bid struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AuctionID uint      `gorm:"column:auction_id;not null;index"`
	BidderID  uint      `gorm:"column:bidder_id;not null"`
	Amount    float64   `gorm:"column:amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing auction bids.
func (Bid) TableName() string {
	return "auction_bids"
}

// BidRecord is the parallel history row written alongside every bid. Unlike
// bids it carries the NFT id, so per-token bid history survives the auction.
type BidRecord struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AuctionID uint      `gorm:"column:auction_id;not null;index"`
	NftID     uint      `gorm:"column:nft_id;not null;index"`
	BidderID  uint      `gorm:"column:bidder_id;not null"`
	Amount    float64   `gorm:"column:amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing per-token bid history.
func (BidRecord) TableName() string {
	return "auction_bid_records"
}
