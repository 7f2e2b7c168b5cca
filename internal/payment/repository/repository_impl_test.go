package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/storetest"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/datatypes"
)

func TestInsertEventDedupesByProviderEventID(t *testing.T) {
	ctx := context.Background()
	db := storetest.OpenDB(t)
	r := Provide()
	node, _ := snowflake.NewNode(8)

	now := time.Now().UTC()
	record := func() *domain.EventRecord {
		return &domain.EventRecord{
			ID:              node.Generate(),
			Provider:        domain.ProviderStripe,
			ProviderEventID: "evt_1",
			EventType:       domain.EventInvoicePaid,
			Payload:         datatypes.JSON(`{"id":"evt_1"}`),
			ReceivedAt:      now,
		}
	}

	inserted, err := r.InsertEvent(ctx, db, record())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert")
	}
	inserted, err = r.InsertEvent(ctx, db, record())
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate event to be skipped")
	}

	stored, err := r.FindEvent(ctx, db, domain.ProviderStripe, "evt_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored == nil || stored.EventType != domain.EventInvoicePaid || stored.ProcessedAt != nil {
		t.Fatalf("unexpected stored event: %+v", stored)
	}

	missing, err := r.FindEvent(ctx, db, domain.ProviderStripe, "evt_missing")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown event")
	}
}

func TestFailureThenProcessed(t *testing.T) {
	ctx := context.Background()
	db := storetest.OpenDB(t)
	r := Provide()
	node, _ := snowflake.NewNode(9)

	now := time.Now().UTC()
	ids := make([]snowflake.ID, 0, 3)
	for _, evt := range []string{"evt_a", "evt_b", "evt_c"} {
		id := node.Generate()
		ids = append(ids, id)
		if _, err := r.InsertEvent(ctx, db, &domain.EventRecord{
			ID:              id,
			Provider:        domain.ProviderStripe,
			ProviderEventID: evt,
			EventType:       domain.EventCheckoutCompleted,
			Payload:         datatypes.JSON(`{}`),
			ReceivedAt:      now,
		}); err != nil {
			t.Fatalf("insert %s: %v", evt, err)
		}
	}

	for _, id := range ids {
		if err := r.RecordFailure(ctx, db, id, "datastore unavailable"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := r.MarkProcessed(ctx, db, ids[1], now); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	failed, err := r.ListFailed(ctx, db, domain.ProviderStripe, nil, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed events, got %d", len(failed))
	}
	if failed[0].Attempts != 1 || failed[0].LastError == nil || *failed[0].LastError != "datastore unavailable" {
		t.Fatalf("unexpected failure bookkeeping: %+v", failed[0])
	}

	page, err := r.ListFailed(ctx, db, domain.ProviderStripe, &pagination.Cursor{ID: failed[0].ID.String()}, 10)
	if err != nil {
		t.Fatalf("list failed page: %v", err)
	}
	if len(page) != 1 || page[0].ProviderEventID != "evt_c" {
		t.Fatalf("expected evt_c on second page, got %+v", page)
	}

	storetest.AssertCount(t, db, 1, "SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL AND last_error IS NULL")
}
