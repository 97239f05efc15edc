package catalog

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/fault"
	"github.com/openmetalab/marketspace/backend/internal/notification"
	"github.com/openmetalab/marketspace/backend/internal/users"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{}, &users.Follow{},
		&Collection{}, &Nft{}, &NftLike{}, &OwnershipTransfer{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type notifierRecorder struct {
	addresses []string
	drafts    []notification.Draft
}

func (r *notifierRecorder) NotifyUser(_ context.Context, address string, draft notification.Draft) error {
	r.addresses = append(r.addresses, address)
	r.drafts = append(r.drafts, draft)
	return nil
}

type fixture struct {
	service  *Service
	users    *users.Service
	recorder *notifierRecorder
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	recorder := &notifierRecorder{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Users:    userService,
		Notifier: recorder,
	})
	if err != nil {
		t.Fatalf("failed to create catalog service: %v", err)
	}
	return &fixture{service: service, users: userService, recorder: recorder, db: db}
}

func (f *fixture) mustUser(t *testing.T, n int) users.User {
	t.Helper()
	user, _, err := f.users.ResolveOrCreate(context.Background(), fmt.Sprintf("0x%040x", n))
	if err != nil {
		t.Fatalf("failed to resolve user %d: %v", n, err)
	}
	return user
}

func (f *fixture) mustMint(t *testing.T, ownerID uint, price float64) Nft {
	t.Helper()
	nft, err := f.service.CreateNft(context.Background(), ownerID, CreateNftInput{
		Image: "ipfs://img",
		Name:  "piece",
		Price: price,
	})
	if err != nil {
		t.Fatalf("failed to mint nft: %v", err)
	}
	return nft
}

func TestCreateNftMintsListedToken(t *testing.T) {
	f := newFixture(t)
	owner := f.mustUser(t, 1)

	nft := f.mustMint(t, owner.ID, 12.5)
	if !nft.IsSelling {
		t.Fatalf("expected minted nft to be listed for sale")
	}
	if nft.OwnerID != owner.ID {
		t.Fatalf("expected owner %d, got %d", owner.ID, nft.OwnerID)
	}
	if nft.TokenID == 0 {
		t.Fatalf("expected generated token id")
	}
}

func TestCreateNftRejectsMissingName(t *testing.T) {
	f := newFixture(t)
	owner := f.mustUser(t, 1)

	_, err := f.service.CreateNft(context.Background(), owner.ID, CreateNftInput{Image: "x"})
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejected kind, got %v", err)
	}
}

func TestBuyNftTransfersOwnershipAndNotifiesSeller(t *testing.T) {
	f := newFixture(t)
	seller := f.mustUser(t, 1)
	buyer := f.mustUser(t, 2)
	nft := f.mustMint(t, seller.ID, 5)

	if err := f.service.BuyNft(context.Background(), buyer.ID, nft.TokenID); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	bought, err := f.service.NftByToken(context.Background(), nft.TokenID)
	if err != nil {
		t.Fatalf("failed to reload nft: %v", err)
	}
	if bought.OwnerID != buyer.ID {
		t.Fatalf("expected new owner %d, got %d", buyer.ID, bought.OwnerID)
	}
	if bought.IsSelling {
		t.Fatalf("expected purchased nft to be unlisted")
	}

	var transfers []OwnershipTransfer
	if err := f.db.Find(&transfers).Error; err != nil {
		t.Fatalf("failed to load transfers: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("expected one ownership transfer, got %d", len(transfers))
	}
	if transfers[0].FromUserID != seller.ID || transfers[0].ToUserID != buyer.ID || transfers[0].Price != 5 {
		t.Fatalf("unexpected transfer %+v", transfers[0])
	}

	if len(f.recorder.drafts) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.recorder.drafts))
	}
	if f.recorder.addresses[0] != seller.Address {
		t.Fatalf("expected seller notification, got %s", f.recorder.addresses[0])
	}
	if f.recorder.drafts[0].Type != notification.TypeSale {
		t.Fatalf("expected sale notification, got %s", f.recorder.drafts[0].Type)
	}
}

func TestBuyNftRejectsUnlistedAndOwnToken(t *testing.T) {
	f := newFixture(t)
	seller := f.mustUser(t, 1)
	buyer := f.mustUser(t, 2)
	nft := f.mustMint(t, seller.ID, 5)

	if err := f.service.BuyNft(context.Background(), seller.ID, nft.TokenID); fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejected kind for own token, got %v", err)
	}

	if err := f.service.BuyNft(context.Background(), buyer.ID, nft.TokenID); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	err := f.service.BuyNft(context.Background(), seller.ID, nft.TokenID)
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejected kind for unlisted token, got %v", err)
	}
}

func TestResellNftRelistsForOwnerOnly(t *testing.T) {
	f := newFixture(t)
	seller := f.mustUser(t, 1)
	buyer := f.mustUser(t, 2)
	nft := f.mustMint(t, seller.ID, 5)

	if err := f.service.BuyNft(context.Background(), buyer.ID, nft.TokenID); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	err := f.service.ResellNft(context.Background(), seller.ID, nft.TokenID, 9)
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejected kind for non-owner resell, got %v", err)
	}

	if err := f.service.ResellNft(context.Background(), buyer.ID, nft.TokenID, 9); err != nil {
		t.Fatalf("resell failed: %v", err)
	}
	relisted, err := f.service.NftByToken(context.Background(), nft.TokenID)
	if err != nil {
		t.Fatalf("failed to reload nft: %v", err)
	}
	if !relisted.IsSelling || relisted.Price != 9 {
		t.Fatalf("expected relisted at 9, got %+v", relisted)
	}
}

func TestLikeNftNotifiesOwnerOnce(t *testing.T) {
	f := newFixture(t)
	owner := f.mustUser(t, 1)
	fan := f.mustUser(t, 2)
	nft := f.mustMint(t, owner.ID, 5)

	if err := f.service.LikeNft(context.Background(), fan.ID, nft.TokenID); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	err := f.service.LikeNft(context.Background(), fan.ID, nft.TokenID)
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("expected conflict on duplicate like, got %v", err)
	}

	count, liked, err := f.service.LikeStatus(context.Background(), fan.ID, nft.TokenID)
	if err != nil {
		t.Fatalf("like status failed: %v", err)
	}
	if count != 1 || !liked {
		t.Fatalf("expected count 1 and liked, got %d %v", count, liked)
	}

	if len(f.recorder.drafts) != 1 {
		t.Fatalf("expected one like notification, got %d", len(f.recorder.drafts))
	}
	if f.recorder.drafts[0].Type != notification.TypeLike {
		t.Fatalf("expected like notification, got %s", f.recorder.drafts[0].Type)
	}
	if f.recorder.addresses[0] != owner.Address {
		t.Fatalf("expected owner notification, got %s", f.recorder.addresses[0])
	}
}

func TestUnlikeNftRemovesOnlyCallersLike(t *testing.T) {
	f := newFixture(t)
	owner := f.mustUser(t, 1)
	fanOne := f.mustUser(t, 2)
	fanTwo := f.mustUser(t, 3)
	nft := f.mustMint(t, owner.ID, 5)

	if err := f.service.LikeNft(context.Background(), fanOne.ID, nft.TokenID); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	if err := f.service.LikeNft(context.Background(), fanTwo.ID, nft.TokenID); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	if err := f.service.UnlikeNft(context.Background(), fanOne.ID, nft.TokenID); err != nil {
		t.Fatalf("unlike failed: %v", err)
	}

	count, liked, err := f.service.LikeStatus(context.Background(), fanOne.ID, nft.TokenID)
	if err != nil {
		t.Fatalf("like status failed: %v", err)
	}
	if count != 1 || liked {
		t.Fatalf("expected count 1 and not liked, got %d %v", count, liked)
	}

	err = f.service.UnlikeNft(context.Background(), fanOne.ID, nft.TokenID)
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not_found on repeated unlike, got %v", err)
	}
}

func TestOwnerListsSplitBySellingFlag(t *testing.T) {
	f := newFixture(t)
	owner := f.mustUser(t, 1)
	buyer := f.mustUser(t, 2)
	listed := f.mustMint(t, owner.ID, 5)
	sold := f.mustMint(t, owner.ID, 7)

	if err := f.service.BuyNft(context.Background(), buyer.ID, sold.TokenID); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	selling, err := f.service.ListSelling(context.Background(), owner.Address)
	if err != nil {
		t.Fatalf("list selling failed: %v", err)
	}
	if len(selling) != 1 || selling[0].TokenID != listed.TokenID {
		t.Fatalf("expected only the listed token, got %+v", selling)
	}

	owned, err := f.service.ListOwned(context.Background(), buyer.Address)
	if err != nil {
		t.Fatalf("list owned failed: %v", err)
	}
	if len(owned) != 1 || owned[0].TokenID != sold.TokenID {
		t.Fatalf("expected the purchased token, got %+v", owned)
	}
}

func TestListLikedReturnsLikedTokens(t *testing.T) {
	f := newFixture(t)
	owner := f.mustUser(t, 1)
	fan := f.mustUser(t, 2)
	first := f.mustMint(t, owner.ID, 5)
	f.mustMint(t, owner.ID, 7)

	if err := f.service.LikeNft(context.Background(), fan.ID, first.TokenID); err != nil {
		t.Fatalf("like failed: %v", err)
	}

	liked, err := f.service.ListLiked(context.Background(), fan.Address)
	if err != nil {
		t.Fatalf("list liked failed: %v", err)
	}
	if len(liked) != 1 || liked[0].TokenID != first.TokenID {
		t.Fatalf("expected only the liked token, got %+v", liked)
	}
}
