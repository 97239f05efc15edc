package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/fault"
	"github.com/openmetalab/marketspace/backend/internal/notification"
	"github.com/openmetalab/marketspace/backend/internal/users"
)

const (
	opCreateNft   = "catalog.create_nft"
	opCollections = "catalog.collections"
	opNftByToken  = "catalog.nft_by_token"
	opBuyNft      = "catalog.buy_nft"
	opResellNft   = "catalog.resell_nft"
	opLikeNft     = "catalog.like_nft"
	opUnlikeNft   = "catalog.unlike_nft"
	opLikeStatus  = "catalog.like_status"
	opListLiked   = "catalog.list_liked"
	opListSelling = "catalog.list_selling"
	opListOwned   = "catalog.list_owned"
)

// UserDirectory resolves marketplace users for notifications and
// address-keyed listings.
type UserDirectory interface {
	UserByID(ctx context.Context, id uint) (users.User, error)
	UserByAddress(ctx context.Context, address string) (users.User, error)
}

// Notifier pushes a notification to the user behind an address.
type Notifier interface {
	NotifyUser(ctx context.Context, address string, draft notification.Draft) error
}

// ServiceConfig describes the dependencies of the catalog service.
type ServiceConfig struct {
	Database *gorm.DB
	Users    UserDirectory
	Notifier Notifier
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Service covers minting, purchase, resale and likes.
type Service struct {
	db       *gorm.DB
	users    UserDirectory
	notifier Notifier
	logger   *zap.Logger
	clock    func() time.Time
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("catalog: database connection required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("catalog: user directory required")
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

// CreateNftInput carries the metadata for a mint.
type CreateNftInput struct {
	Image        string
	Name         string
	Description  string
	Website      string
	Price        float64
	Size         string
	Royalties    float64
	CollectionID uint
}

// CreateNft mints a token owned by ownerID, listed for sale.
func (s *Service) CreateNft(ctx context.Context, ownerID uint, input CreateNftInput) (Nft, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Nft{}, fault.Rejected(opCreateNft, "name is required")
	}
	if input.Price < 0 {
		return Nft{}, fault.Rejected(opCreateNft, "price must not be negative")
	}
	nft := Nft{
		OwnerID:      ownerID,
		CollectionID: input.CollectionID,
		Price:        input.Price,
		IsSelling:    true,
		Image:        input.Image,
		Name:         input.Name,
		Description:  input.Description,
		Website:      input.Website,
		Royalties:    input.Royalties,
		Size:         input.Size,
	}
	if err := s.db.WithContext(ctx).Create(&nft).Error; err != nil {
		return Nft{}, fault.Internal(opCreateNft, err)
	}
	return nft, nil
}

// Collections lists every collection.
func (s *Service) Collections(ctx context.Context) ([]Collection, error) {
	var collections []Collection
	if err := s.db.WithContext(ctx).Find(&collections).Error; err != nil {
		return nil, fault.Internal(opCollections, err)
	}
	return collections, nil
}

// NftByToken loads an NFT by token id.
func (s *Service) NftByToken(ctx context.Context, tokenID uint) (Nft, error) {
	var nft Nft
	err := s.db.WithContext(ctx).First(&nft, tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Nft{}, fault.NotFound(opNftByToken, "nft not found")
	}
	if err != nil {
		return Nft{}, fault.Internal(opNftByToken, err)
	}
	return nft, nil
}

// BuyNft transfers the token to the authenticated buyer, unlists it, records
// the ownership transfer and notifies the previous owner.
func (s *Service) BuyNft(ctx context.Context, buyerID, tokenID uint) error {
	nft, err := s.NftByToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if !nft.IsSelling {
		return fault.Rejected(opBuyNft, "nft is not listed for sale")
	}
	if nft.OwnerID == buyerID {
		return fault.Rejected(opBuyNft, "cannot buy your own nft")
	}

	sellerID := nft.OwnerID
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Nft{}).
			Where("token_id = ? AND owner_id = ?", tokenID, sellerID).
			Updates(map[string]interface{}{"owner_id": buyerID, "is_selling": false})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fault.Conflict(opBuyNft, "nft changed hands")
		}
		return tx.Create(&OwnershipTransfer{
			TokenID:    tokenID,
			FromUserID: sellerID,
			ToUserID:   buyerID,
			Price:      nft.Price,
		}).Error
	})
	if txErr != nil {
		if fault.KindOf(txErr) != fault.KindInternal {
			return txErr
		}
		return fault.Internal(opBuyNft, txErr)
	}

	s.notifySale(ctx, sellerID, buyerID, nft)
	return nil
}

func (s *Service) notifySale(ctx context.Context, sellerID, buyerID uint, nft Nft) {
	if s.notifier == nil {
		return
	}
	seller, err := s.users.UserByID(ctx, sellerID)
	if err != nil {
		s.logger.Warn("sale notification skipped", zap.Uint("seller_id", sellerID), zap.Error(err))
		return
	}
	buyer, err := s.users.UserByID(ctx, buyerID)
	if err != nil {
		s.logger.Warn("sale notification skipped", zap.Uint("buyer_id", buyerID), zap.Error(err))
		return
	}
	draft := notification.Draft{
		Type:         notification.TypeSale,
		Avatar:       buyer.Avatar,
		ActorAddress: buyer.Address,
		Image:        nft.Image,
		Message:      "Bought your NFT",
	}
	if err := s.notifier.NotifyUser(ctx, seller.Address, draft); err != nil {
		s.logger.Warn("sale notification failed", zap.String("address", seller.Address), zap.Error(err))
	}
}

// ResellNft relists an owned token at a new price.
func (s *Service) ResellNft(ctx context.Context, ownerID, tokenID uint, price float64) error {
	if price < 0 {
		return fault.Rejected(opResellNft, "price must not be negative")
	}
	result := s.db.WithContext(ctx).
		Model(&Nft{}).
		Where("token_id = ? AND owner_id = ?", tokenID, ownerID).
		Updates(map[string]interface{}{"is_selling": true, "price": price})
	if result.Error != nil {
		return fault.Internal(opResellNft, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.Rejected(opResellNft, "nft not found or not owned by caller")
	}
	return nil
}

// LikeNft records a like and notifies the token owner.
func (s *Service) LikeNft(ctx context.Context, userID, tokenID uint) error {
	nft, err := s.NftByToken(ctx, tokenID)
	if err != nil {
		return err
	}
	like := NftLike{UserID: userID, TokenID: tokenID}
	if err := s.db.WithContext(ctx).Create(&like).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fault.Conflict(opLikeNft, "already liked")
		}
		return fault.Internal(opLikeNft, err)
	}

	if s.notifier != nil && nft.OwnerID != userID {
		actor, err := s.users.UserByID(ctx, userID)
		if err == nil {
			owner, ownerErr := s.users.UserByID(ctx, nft.OwnerID)
			if ownerErr == nil {
				draft := notification.Draft{
					Type:         notification.TypeLike,
					Avatar:       actor.Avatar,
					ActorAddress: actor.Address,
					Image:        nft.Image,
					Message:      "Liked your NFT",
				}
				if notifyErr := s.notifier.NotifyUser(ctx, owner.Address, draft); notifyErr != nil {
					s.logger.Warn("like notification failed",
						zap.String("address", owner.Address),
						zap.Error(notifyErr))
				}
			}
		}
	}
	return nil
}

// UnlikeNft removes the caller's like.
func (s *Service) UnlikeNft(ctx context.Context, userID, tokenID uint) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		Delete(&NftLike{})
	if result.Error != nil {
		return fault.Internal(opUnlikeNft, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound(opUnlikeNft, "like not found")
	}
	return nil
}

// LikeStatus returns the like count for a token and whether userID liked it.
func (s *Service) LikeStatus(ctx context.Context, userID, tokenID uint) (int64, bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&NftLike{}).
		Where("token_id = ?", tokenID).
		Count(&count).
		Error
	if err != nil {
		return 0, false, fault.Internal(opLikeStatus, err)
	}
	var own int64
	err = s.db.WithContext(ctx).
		Model(&NftLike{}).
		Where("token_id = ? AND user_id = ?", tokenID, userID).
		Count(&own).
		Error
	if err != nil {
		return 0, false, fault.Internal(opLikeStatus, err)
	}
	return count, own > 0, nil
}

// ListLiked returns the NFTs liked by the user behind address.
func (s *Service) ListLiked(ctx context.Context, address string) ([]Nft, error) {
	user, err := s.users.UserByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	var nfts []Nft
	err = s.db.WithContext(ctx).
		Joins("JOIN nft_likes ON nft_likes.token_id = nfts.token_id").
		Where("nft_likes.user_id = ?", user.ID).
		Order("nft_likes.created_at DESC").
		Find(&nfts).
		Error
	if err != nil {
		return nil, fault.Internal(opListLiked, err)
	}
	return nfts, nil
}

// ListSelling returns the user's NFTs listed for sale.
func (s *Service) ListSelling(ctx context.Context, address string) ([]Nft, error) {
	return s.listByOwner(ctx, address, true, opListSelling)
}

// ListOwned returns the user's unlisted NFTs.
func (s *Service) ListOwned(ctx context.Context, address string) ([]Nft, error) {
	return s.listByOwner(ctx, address, false, opListOwned)
}

func (s *Service) listByOwner(ctx context.Context, address string, selling bool, op string) ([]Nft, error) {
	user, err := s.users.UserByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	var nfts []Nft
	err = s.db.WithContext(ctx).
		Where("owner_id = ? AND is_selling = ?", user.ID, selling).
		Order("created_at DESC").
		Find(&nfts).
		Error
	if err != nil {
		return nil, fault.Internal(op, err)
	}
	return nfts, nil
}
