package notification

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/fault"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

// directoryStub maps lowercase addresses to user ids.
type directoryStub struct {
	ids map[string]uint
}

func (d *directoryStub) UserIDByAddress(_ context.Context, address string) (uint, error) {
	id, ok := d.ids[strings.ToLower(address)]
	if !ok {
		return 0, fault.NotFound("test.directory", "unknown address")
	}
	return id, nil
}

func newTestService(t *testing.T) (*Service, *Dispatcher) {
	t.Helper()
	dispatcher := NewDispatcher()
	service, err := NewService(ServiceConfig{
		Database: openTestDB(t),
		Users: &directoryStub{ids: map[string]uint{
			"0xaaa1": 1,
			"0xaaa2": 2,
		}},
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, dispatcher
}

func TestNotifyUserInsertsAndLists(t *testing.T) {
	service, _ := newTestService(t)

	draft := Draft{
		Type:         TypeFollow,
		Avatar:       "https://cdn/avatar.png",
		ActorAddress: "0xbbb1",
		Message:      "Followed you",
	}
	if err := service.NotifyUser(context.Background(), "0xaaa1", draft); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	events, err := service.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	got := events[0]
	if got.Type != TypeFollow || got.Address != "0xbbb1" || got.Message != "Followed you" || got.IsRead {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestNotifyUserDuplicateRemarksUnreadWithoutNewRow(t *testing.T) {
	service, _ := newTestService(t)

	draft := Draft{Type: TypeLike, ActorAddress: "0xbbb1", Message: "Liked your NFT"}
	if err := service.NotifyUser(context.Background(), "0xaaa1", draft); err != nil {
		t.Fatalf("first notify failed: %v", err)
	}

	events, err := service.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := service.MarkRead(context.Background(), 1, events[0].ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	if err := service.NotifyUser(context.Background(), "0xaaa1", draft); err != nil {
		t.Fatalf("duplicate notify failed: %v", err)
	}

	events, err = service.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected duplicate draft to reuse the row, got %d rows", len(events))
	}
	if events[0].IsRead {
		t.Fatalf("expected duplicate draft to re-mark the row unread")
	}
}

func TestNotifyUserPublishesOnlyOnInsert(t *testing.T) {
	service, dispatcher := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := dispatcher.Subscribe(ctx, "0xAAA1")
	defer unsubscribe()

	draft := Draft{Type: TypeBid, ActorAddress: "0xbbb1", Message: "Made an offer on your auction"}
	if err := service.NotifyUser(context.Background(), "0xaaa1", draft); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	select {
	case event := <-stream:
		if event.Type != TypeBid {
			t.Fatalf("unexpected live event %+v", event)
		}
	default:
		t.Fatalf("expected a live event on insert")
	}

	if err := service.NotifyUser(context.Background(), "0xaaa1", draft); err != nil {
		t.Fatalf("duplicate notify failed: %v", err)
	}
	select {
	case event := <-stream:
		t.Fatalf("expected no live event for duplicate draft, got %+v", event)
	default:
	}
}

func TestNotifyUserRejectsUnknownTypeAndAddress(t *testing.T) {
	service, _ := newTestService(t)

	err := service.NotifyUser(context.Background(), "0xaaa1", Draft{Type: "carrier-pigeon"})
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejected kind for unknown type, got %v", err)
	}

	err = service.NotifyUser(context.Background(), "0xdead", Draft{Type: TypeSale})
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not_found for unknown address, got %v", err)
	}
}

func TestMarkReadScopedToOwner(t *testing.T) {
	service, _ := newTestService(t)

	if err := service.NotifyUser(context.Background(), "0xaaa1", Draft{
		Type:    TypeSale,
		Message: "Bought your NFT",
	}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	events, err := service.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	err = service.MarkRead(context.Background(), 2, events[0].ID)
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not_found for foreign notification, got %v", err)
	}

	if err := service.MarkRead(context.Background(), 1, events[0].ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	events, err = service.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !events[0].IsRead {
		t.Fatalf("expected notification to be read")
	}
}
