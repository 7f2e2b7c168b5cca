package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/purchase/domain"
	"github.com/smallbiznis/storefront/internal/storetest"
)

func TestInsertIsIdempotentOnDedupeKey(t *testing.T) {
	ctx := context.Background()
	db := storetest.OpenDB(t)
	r := Provide()
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Now().UTC()
	newPurchase := func() *domain.Purchase {
		return &domain.Purchase{
			ID:        node.Generate(),
			AccountID: "u1",
			ProductID: "p1",
			Quantity:  2,
			PaidAt:    now,
			OrderID:   "cs_1",
			Source:    domain.SourceCart,
			DedupeKey: domain.OrderKey("cs_1", "p1"),
		}
	}

	inserted, err := r.Insert(ctx, db, newPurchase())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert to create a row")
	}

	inserted, err = r.Insert(ctx, db, newPurchase())
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate insert to be skipped")
	}

	storetest.AssertCount(t, db, 1, "SELECT COUNT(1) FROM purchases")

	items, err := r.ListByAccount(ctx, db, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Quantity != 2 || items[0].OrderID != "cs_1" {
		t.Fatalf("unexpected purchases: %+v", items)
	}
}

func TestSameProductInLaterOrderIsAllowed(t *testing.T) {
	ctx := context.Background()
	db := storetest.OpenDB(t)
	r := Provide()
	node, _ := snowflake.NewNode(4)

	now := time.Now().UTC()
	for _, order := range []string{"cs_1", "cs_2"} {
		_, err := r.Insert(ctx, db, &domain.Purchase{
			ID:        node.Generate(),
			AccountID: "u1",
			ProductID: "p1",
			Quantity:  1,
			PaidAt:    now,
			OrderID:   order,
			Source:    domain.SourceCart,
			DedupeKey: domain.OrderKey(order, "p1"),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", order, err)
		}
	}

	storetest.AssertCount(t, db, 2, "SELECT COUNT(1) FROM purchases WHERE account_id = ?", "u1")
}

func TestDeletePlanGrantKeepsOtherSources(t *testing.T) {
	ctx := context.Background()
	db := storetest.OpenDB(t)
	r := Provide()
	node, _ := snowflake.NewNode(5)

	now := time.Now().UTC()
	rows := []*domain.Purchase{
		{ID: node.Generate(), AccountID: "u1", ProductID: "p2", Quantity: 1, PaidAt: now, OrderID: "in_1", Source: domain.SourcePlan, DedupeKey: domain.PlanKey("u1", "p2")},
		{ID: node.Generate(), AccountID: "u1", ProductID: "p2", Quantity: 1, PaidAt: now, OrderID: "cs_9", Source: domain.SourceCart, DedupeKey: domain.OrderKey("cs_9", "p2")},
		{ID: node.Generate(), AccountID: "u1", ProductID: "p3", Quantity: 1, PaidAt: now, OrderID: "cs_9", Source: domain.SourceCart, DedupeKey: domain.OrderKey("cs_9", "p3")},
	}
	for _, row := range rows {
		if _, err := r.Insert(ctx, db, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	deleted, err := r.DeletePlanGrant(ctx, db, "u1", "p2")
	if err != nil {
		t.Fatalf("delete plan grant: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}

	deleted, err = r.DeletePlanGrant(ctx, db, "u1", "p2")
	if err != nil {
		t.Fatalf("delete plan grant again: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected second delete to be a no-op, got %d", deleted)
	}

	storetest.AssertCount(t, db, 2, "SELECT COUNT(1) FROM purchases WHERE account_id = ?", "u1")

	has, err := r.HasProduct(ctx, db, "u1", "p3")
	if err != nil {
		t.Fatalf("has product: %v", err)
	}
	if !has {
		t.Fatalf("expected p3 purchase to remain")
	}
}

func TestInsertCompanyDedupes(t *testing.T) {
	ctx := context.Background()
	db := storetest.OpenDB(t)
	r := Provide()
	node, _ := snowflake.NewNode(6)

	member := "u7"
	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if _, err := r.InsertCompany(ctx, db, &domain.CompanyPurchase{
			ID:        node.Generate(),
			CompanyID: "c1",
			AccountID: &member,
			ProductID: "p1",
			Quantity:  3,
			PaidAt:    now,
			OrderID:   "cs_1",
			DedupeKey: domain.CompanyKey("c1", "p1", "cs_1"),
		}); err != nil {
			t.Fatalf("insert company: %v", err)
		}
	}

	items, err := r.ListByCompany(ctx, db, "c1")
	if err != nil {
		t.Fatalf("list company: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 company purchase, got %d", len(items))
	}
	if items[0].AccountID == nil || *items[0].AccountID != member {
		t.Fatalf("expected purchasing member %s", member)
	}
}

func TestInsertValidates(t *testing.T) {
	db := storetest.OpenDB(t)
	r := Provide()

	_, err := r.Insert(context.Background(), db, &domain.Purchase{AccountID: "u1", ProductID: "p1", Quantity: 0, DedupeKey: "k"})
	if err != domain.ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	_, err = r.Insert(context.Background(), db, &domain.Purchase{AccountID: "u1", ProductID: "p1", Quantity: 1})
	if err != domain.ErrMissingDedupeKey {
		t.Fatalf("expected ErrMissingDedupeKey, got %v", err)
	}
}
