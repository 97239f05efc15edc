package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/catalog"
	"github.com/openmetalab/marketspace/backend/internal/fault"
	"github.com/openmetalab/marketspace/backend/internal/notification"
	"github.com/openmetalab/marketspace/backend/internal/users"
)

const (
	opCreate   = "auction.create"
	opBid      = "auction.bid"
	opEnd      = "auction.end"
	opTop      = "auction.top"
	opFiltered = "auction.filtered"
)

// Sort policies for Filtered. Top uses its own ranking (bid count).
const (
	SortHighest = "highest"
	SortNewest  = "newest"
)

// UserDirectory resolves marketplace users for notifications and listings.
type UserDirectory interface {
	UserByID(ctx context.Context, id uint) (users.User, error)
}

// Notifier pushes a notification to the user behind an address.
type Notifier interface {
	NotifyUser(ctx context.Context, address string, draft notification.Draft) error
}

// ServiceConfig describes the dependencies of the auction service.
type ServiceConfig struct {
	Database *gorm.DB
	Users    UserDirectory
	Notifier Notifier
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Service runs the auction lifecycle: create, bid, end, and read-side
// projections. There is no timer-driven expiry; End is invoked externally.
type Service struct {
	db       *gorm.DB
	users    UserDirectory
	notifier Notifier
	logger   *zap.Logger
	clock    func() time.Time
}

// NewService constructs the auction service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("auction: database connection required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("auction: user directory required")
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
		users:    cfg.Users,
		notifier: cfg.Notifier,
		logger:   logger,
		clock:    clock,
	}, nil
}

// Create opens an auction for an NFT owned by userID. Duration is in
// seconds. The partial unique index on active auctions makes concurrent
// creations for the same NFT lose with a conflict instead of both
// succeeding.
func (s *Service) Create(ctx context.Context, userID, nftID uint, minBid float64, durationSeconds int64) (Auction, error) {
	if minBid < 0 {
		return Auction{}, fault.Rejected(opCreate, "minimum bid must not be negative")
	}
	if durationSeconds <= 0 {
		return Auction{}, fault.Rejected(opCreate, "duration must be positive")
	}

	var nft catalog.Nft
	err := s.db.WithContext(ctx).
		Where("token_id = ? AND owner_id = ?", nftID, userID).
		First(&nft).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Auction{}, fault.Rejected(opCreate, "nft not found or not owned by caller")
	}
	if err != nil {
		return Auction{}, fault.Internal(opCreate, err)
	}

	var active int64
	err = s.db.WithContext(ctx).
		Model(&Auction{}).
		Where("nft_id = ? AND is_active = ?", nftID, true).
		Count(&active).
		Error
	if err != nil {
		return Auction{}, fault.Internal(opCreate, err)
	}
	if active > 0 {
		return Auction{}, fault.Conflict(opCreate, "auction already active")
	}

	now := s.clock().UTC()
	row := Auction{
		NftID:           nftID,
		SellerID:        userID,
		MinBid:          minBid,
		DurationSeconds: durationSeconds,
		EndTime:         now.Add(time.Duration(durationSeconds) * time.Second),
		IsActive:        true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race against a concurrent create on the same NFT.
			return Auction{}, fault.Conflict(opCreate, "auction already active")
		}
		return Auction{}, fault.Internal(opCreate, err)
	}
	return row, nil
}

// Bid places a bid on the active auction for nftID. Amounts equal to the
// minimum are accepted; anything below is rejected. The bid and its history
// record are written in one transaction, then the seller is notified.
func (s *Service) Bid(ctx context.Context, userID, nftID uint, amount float64) (Bid, error) {
	auction, err := s.activeAuction(ctx, nftID, opBid)
	if err != nil {
		return Bid{}, err
	}
	if amount < auction.MinBid {
		return Bid{}, fault.Rejected(opBid, "bid amount too low")
	}

	bid := Bid{AuctionID: auction.ID, BidderID: userID, Amount: amount}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&bid).Error; err != nil {
			return err
		}
		return tx.Create(&BidRecord{
			AuctionID: auction.ID,
			NftID:     nftID,
			BidderID:  userID,
			Amount:    amount,
		}).Error
	})
	if txErr != nil {
		return Bid{}, fault.Internal(opBid, txErr)
	}

	s.notifyBid(ctx, auction, userID, nftID)
	return bid, nil
}

func (s *Service) notifyBid(ctx context.Context, auction Auction, bidderID, nftID uint) {
	if s.notifier == nil {
		return
	}
	seller, err := s.users.UserByID(ctx, auction.SellerID)
	if err != nil {
		s.logger.Warn("bid notification skipped", zap.Uint("seller_id", auction.SellerID), zap.Error(err))
		return
	}
	bidder, err := s.users.UserByID(ctx, bidderID)
	if err != nil {
		s.logger.Warn("bid notification skipped", zap.Uint("bidder_id", bidderID), zap.Error(err))
		return
	}
	var nft catalog.Nft
	image := ""
	if err := s.db.WithContext(ctx).First(&nft, nftID).Error; err == nil {
		image = nft.Image
	}
	draft := notification.Draft{
		Type:         notification.TypeBid,
		Avatar:       bidder.Avatar,
		ActorAddress: bidder.Address,
		Image:        image,
		Message:      "Made an offer on your auction",
	}
	if err := s.notifier.NotifyUser(ctx, seller.Address, draft); err != nil {
		s.logger.Warn("bid notification failed", zap.String("address", seller.Address), zap.Error(err))
	}
}

// End closes the active auction for nftID. With at least one bid the NFT and
// its price move to the highest bidder and an ownership transfer is
// recorded; without bids the auction is only deactivated. Missing active
// auction is a hard not-found.
func (s *Service) End(ctx context.Context, nftID uint) error {
	auction, err := s.activeAuction(ctx, nftID, opEnd)
	if err != nil {
		return err
	}

	var winner *Bid
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Auction{}).
			Where("id = ? AND is_active = ?", auction.ID, true).
			Update("is_active", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fault.Conflict(opEnd, "auction already ended")
		}

		var highest Bid
		err := tx.Where("auction_id = ?", auction.ID).
			Order("amount DESC").
			First(&highest).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&catalog.Nft{}).
			Where("token_id = ?", nftID).
			Updates(map[string]interface{}{"owner_id": highest.BidderID, "price": highest.Amount}).
			Error; err != nil {
			return err
		}
		if err := tx.Create(&catalog.OwnershipTransfer{
			TokenID:    nftID,
			FromUserID: auction.SellerID,
			ToUserID:   highest.BidderID,
			Price:      highest.Amount,
		}).Error; err != nil {
			return err
		}
		winner = &highest
		return nil
	})
	if txErr != nil {
		if fault.KindOf(txErr) != fault.KindInternal {
			return txErr
		}
		return fault.Internal(opEnd, txErr)
	}

	if winner != nil {
		s.notifySettlement(ctx, *winner, nftID)
	}
	return nil
}

func (s *Service) notifySettlement(ctx context.Context, winner Bid, nftID uint) {
	if s.notifier == nil {
		return
	}
	bidder, err := s.users.UserByID(ctx, winner.BidderID)
	if err != nil {
		s.logger.Warn("settlement notification skipped", zap.Uint("bidder_id", winner.BidderID), zap.Error(err))
		return
	}
	var nft catalog.Nft
	image := ""
	if err := s.db.WithContext(ctx).First(&nft, nftID).Error; err == nil {
		image = nft.Image
	}
	draft := notification.Draft{
		Type:         notification.TypePurchase,
		Avatar:       bidder.Avatar,
		ActorAddress: bidder.Address,
		Image:        image,
		Message:      "You won the auction",
	}
	if err := s.notifier.NotifyUser(ctx, bidder.Address, draft); err != nil {
		s.logger.Warn("settlement notification failed", zap.String("address", bidder.Address), zap.Error(err))
	}
}

func (s *Service) activeAuction(ctx context.Context, nftID uint, op string) (Auction, error) {
	var auction Auction
	err := s.db.WithContext(ctx).
		Where("nft_id = ? AND is_active = ?", nftID, true).
		First(&auction).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Auction{}, fault.NotFound(op, "no active auction for nft")
	}
	if err != nil {
		return Auction{}, fault.Internal(op, err)
	}
	return auction, nil
}

// Listing is the read-side projection joining auction, NFT, collection and
// seller with the current highest bid (zero when no bids exist).
type Listing struct {
	Auction    Auction             `json:"auction"`
	Nft        catalog.Nft         `json:"nft"`
	Collection *catalog.Collection `json:"collection,omitempty"`
	Seller     users.User          `json:"seller"`
	HighestBid float64             `json:"highestBid"`
	BidCount   int64               `json:"bidCount"`
}

// Top returns active auctions ranked by bid count, descending.
func (s *Service) Top(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []Auction
	err := s.db.WithContext(ctx).
		Model(&Auction{}).
		Select("auctions.*").
		Joins("LEFT JOIN auction_bids ON auction_bids.auction_id = auctions.id").
		Where("auctions.is_active = ?", true).
		Group("auctions.id").
		Order("COUNT(auction_bids.id) DESC").
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, fault.Internal(opTop, err)
	}
	return s.hydrate(ctx, rows, opTop)
}

// FilterInput narrows and orders the active auction list.
type FilterInput struct {
	CollectionID *uint
	Sort         string
}

// Filtered returns active auctions, optionally restricted to a collection.
// Sort "highest" orders by minimum bid descending, "newest" (the default) by
// creation time descending.
func (s *Service) Filtered(ctx context.Context, input FilterInput) ([]Listing, error) {
	query := s.db.WithContext(ctx).
		Model(&Auction{}).
		Select("auctions.*").
		Joins("JOIN nfts ON nfts.token_id = auctions.nft_id").
		Where("auctions.is_active = ?", true)
	if input.CollectionID != nil {
		query = query.Where("nfts.collection_id = ?", *input.CollectionID)
	}
	switch input.Sort {
	case SortHighest:
		query = query.Order("auctions.min_bid DESC")
	case SortNewest, "":
		query = query.Order("auctions.created_at DESC")
	default:
		return nil, fault.Rejected(opFiltered, fmt.Sprintf("unknown sort %q", input.Sort))
	}

	var rows []Auction
	if err := query.Find(&rows).Error; err != nil {
		return nil, fault.Internal(opFiltered, err)
	}
	return s.hydrate(ctx, rows, opFiltered)
}

func (s *Service) hydrate(ctx context.Context, rows []Auction, op string) ([]Listing, error) {
	listings := make([]Listing, 0, len(rows))
	for _, row := range rows {
		var nft catalog.Nft
		if err := s.db.WithContext(ctx).First(&nft, row.NftID).Error; err != nil {
			return nil, fault.Internal(op, err)
		}
		listing := Listing{Auction: row, Nft: nft}

		if nft.CollectionID != 0 {
			var collection catalog.Collection
			if err := s.db.WithContext(ctx).First(&collection, nft.CollectionID).Error; err == nil {
				listing.Collection = &collection
			}
		}

		seller, err := s.users.UserByID(ctx, row.SellerID)
		if err == nil {
			listing.Seller = seller
		}

		var highest Bid
		err = s.db.WithContext(ctx).
			Where("auction_id = ?", row.ID).
			Order("amount DESC").
			First(&highest).
			Error
		if err == nil {
			listing.HighestBid = highest.Amount
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.Internal(op, err)
		}

		if err := s.db.WithContext(ctx).
			Model(&Bid{}).
			Where("auction_id = ?", row.ID).
			Count(&listing.BidCount).
			Error; err != nil {
			return nil, fault.Internal(op, err)
		}

		listings = append(listings, listing)
	}
	return listings, nil
}
