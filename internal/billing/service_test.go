package billing

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"invoicelens/api/internal/store"
)

type fakeBillingStore struct {
	plans       []store.Plan
	org         store.Org
	usage       store.UsageSnapshot
	settled     map[string]string
	createdSubs []store.Subscription
}

func newFakeBillingStore() *fakeBillingStore {
	return &fakeBillingStore{
		plans: []store.Plan{
			{ID: "plan_free", Name: "Free", PriceIDR: 0, MonthlyPages: 50},
			{ID: "plan_starter", Name: "Starter", PriceIDR: 149000, MonthlyPages: 500},
		},
		org:     store.Org{ID: "org_1", PlanID: "plan_free"},
		settled: map[string]string{},
	}
}

func (f *fakeBillingStore) ListPlans(ctx context.Context) ([]store.Plan, error) {
	return f.plans, nil
}

func (f *fakeBillingStore) GetPlan(ctx context.Context, planID string) (store.Plan, error) {
	for _, plan := range f.plans {
		if plan.ID == planID {
			return plan, nil
		}
	}
	return store.Plan{}, errors.New("plan not found")
}

func (f *fakeBillingStore) GetOrg(ctx context.Context, orgID string) (store.Org, error) {
	return f.org, nil
}

func (f *fakeBillingStore) GetUsage(ctx context.Context, orgID string) (store.UsageSnapshot, error) {
	return f.usage, nil
}

func (f *fakeBillingStore) CreateSubscription(ctx context.Context, sub store.Subscription) (store.Subscription, error) {
	f.createdSubs = append(f.createdSubs, sub)
	return sub, nil
}

func (f *fakeBillingStore) SettleSubscription(ctx context.Context, orderID, status string, periodEnd time.Time) error {
	f.settled[orderID] = status
	return nil
}

func signatureFor(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func TestUsageCombinesPlanAndSnapshot(t *testing.T) {
	fake := newFakeBillingStore()
	fake.usage = store.UsageSnapshot{OrgID: "org_1", PagesProcessed: 12}
	svc := NewService(fake, "", false)

	usage, err := svc.Usage(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.PagesProcessed != 12 {
		t.Errorf("pages: got %d", usage.PagesProcessed)
	}
	if usage.Plan.ID != "plan_free" {
		t.Errorf("plan: got %s", usage.Plan.ID)
	}
}

func TestWithinPageQuota(t *testing.T) {
	fake := newFakeBillingStore()
	fake.usage = store.UsageSnapshot{PagesProcessed: 48}
	svc := NewService(fake, "", false)

	ok, err := svc.WithinPageQuota(context.Background(), "org_1", 2)
	if err != nil {
		t.Fatalf("WithinPageQuota: %v", err)
	}
	if !ok {
		t.Error("48+2 of 50 should be within quota")
	}

	ok, err = svc.WithinPageQuota(context.Background(), "org_1", 3)
	if err != nil {
		t.Fatalf("WithinPageQuota: %v", err)
	}
	if ok {
		t.Error("48+3 of 50 should exceed quota")
	}
}

func TestCheckoutRequiresConfiguration(t *testing.T) {
	svc := NewService(newFakeBillingStore(), "", false)
	_, err := svc.Checkout(context.Background(), "org_1", "plan_starter", "a@b.c", "A")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("got %v, want ErrNotConfigured", err)
	}
}

func TestHandleNotificationRejectsBadSignature(t *testing.T) {
	fake := newFakeBillingStore()
	svc := NewService(fake, "server-key", false)

	err := svc.HandleNotification(context.Background(), Notification{
		OrderID:           "order_1",
		StatusCode:        "200",
		GrossAmount:       "149000.00",
		TransactionStatus: "settlement",
		SignatureKey:      "forged",
	})
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
	if len(fake.settled) != 0 {
		t.Error("forged notification must not settle anything")
	}
}

func TestHandleNotificationSettlesValidPayment(t *testing.T) {
	fake := newFakeBillingStore()
	svc := NewService(fake, "server-key", false)

	n := Notification{
		OrderID:           "order_1",
		StatusCode:        "200",
		GrossAmount:       "149000.00",
		TransactionStatus: "settlement",
	}
	n.SignatureKey = signatureFor(n.OrderID, n.StatusCode, n.GrossAmount, "server-key")

	if err := svc.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if fake.settled["order_1"] != "settlement" {
		t.Errorf("settled: %v", fake.settled)
	}
}

func TestHandleNotificationIgnoresPending(t *testing.T) {
	fake := newFakeBillingStore()
	svc := NewService(fake, "server-key", false)

	n := Notification{
		OrderID:           "order_2",
		StatusCode:        "201",
		GrossAmount:       "149000.00",
		TransactionStatus: "pending",
	}
	n.SignatureKey = signatureFor(n.OrderID, n.StatusCode, n.GrossAmount, "server-key")

	if err := svc.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if len(fake.settled) != 0 {
		t.Error("pending notification must not settle")
	}
}
