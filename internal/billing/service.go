// Package billing handles subscription plans, usage limits, and Midtrans
// Snap checkout.
package billing

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"

	"invoicelens/api/internal/store"
	"invoicelens/api/internal/util"
)

var (
	ErrNotConfigured = errors.New("payment gateway not configured")
	ErrBadSignature  = errors.New("invalid notification signature")
)

// BillingStore is the storage surface billing needs.
type BillingStore interface {
	ListPlans(ctx context.Context) ([]store.Plan, error)
	GetPlan(ctx context.Context, planID string) (store.Plan, error)
	GetOrg(ctx context.Context, orgID string) (store.Org, error)
	GetUsage(ctx context.Context, orgID string) (store.UsageSnapshot, error)
	CreateSubscription(ctx context.Context, sub store.Subscription) (store.Subscription, error)
	SettleSubscription(ctx context.Context, orderID, status string, periodEnd time.Time) error
}

type Service struct {
	store     BillingStore
	snap      *snap.Client
	serverKey string
}

// NewService creates the billing service. An empty serverKey disables
// checkout but keeps plans and usage available.
func NewService(billingStore BillingStore, serverKey string, production bool) *Service {
	s := &Service{store: billingStore, serverKey: serverKey}
	if serverKey != "" {
		env := midtrans.Sandbox
		if production {
			env = midtrans.Production
		}
		client := &snap.Client{}
		client.New(serverKey, env)
		s.snap = client
	}
	return s
}

func (s *Service) Plans(ctx context.Context) ([]store.Plan, error) {
	return s.store.ListPlans(ctx)
}

// Usage reports the org's consumption against its plan limits.
type Usage struct {
	store.UsageSnapshot
	Plan store.Plan `json:"plan"`
}

func (s *Service) Usage(ctx context.Context, orgID string) (Usage, error) {
	org, err := s.store.GetOrg(ctx, orgID)
	if err != nil {
		return Usage{}, fmt.Errorf("load org: %w", err)
	}
	plan, err := s.store.GetPlan(ctx, org.PlanID)
	if err != nil {
		return Usage{}, fmt.Errorf("load plan: %w", err)
	}
	snapshot, err := s.store.GetUsage(ctx, orgID)
	if err != nil {
		return Usage{}, err
	}
	return Usage{UsageSnapshot: snapshot, Plan: plan}, nil
}

// WithinPageQuota reports whether the org can process more pages this
// billing period.
func (s *Service) WithinPageQuota(ctx context.Context, orgID string, additionalPages int) (bool, error) {
	usage, err := s.Usage(ctx, orgID)
	if err != nil {
		return false, err
	}
	if usage.Plan.MonthlyPages <= 0 {
		return true, nil
	}
	return usage.PagesProcessed+additionalPages <= usage.Plan.MonthlyPages, nil
}

// CheckoutResult is what the frontend needs to open the Snap payment page.
type CheckoutResult struct {
	OrderID     string `json:"orderId"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
}

// Checkout creates a pending subscription and a Snap transaction for it.
func (s *Service) Checkout(ctx context.Context, orgID, planID, payerEmail, payerName string) (CheckoutResult, error) {
	if s.snap == nil {
		return CheckoutResult{}, ErrNotConfigured
	}

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load plan: %w", err)
	}
	if plan.PriceIDR <= 0 {
		return CheckoutResult{}, errors.New("plan is not purchasable")
	}

	orderID := util.NewID("order")
	if _, err := s.store.CreateSubscription(ctx, store.Subscription{
		ID:      util.NewID("sub"),
		OrgID:   orgID,
		PlanID:  plan.ID,
		Status:  "pending",
		OrderID: orderID,
	}); err != nil {
		return CheckoutResult{}, err
	}

	resp, snapErr := s.snap.CreateTransaction(&snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: plan.PriceIDR,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: payerName,
			Email: payerEmail,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:    plan.ID,
			Name:  plan.Name + " plan (monthly)",
			Price: plan.PriceIDR,
			Qty:   1,
		}},
	})
	if snapErr != nil {
		return CheckoutResult{}, fmt.Errorf("create snap transaction: %w", snapErr)
	}

	return CheckoutResult{
		OrderID:     orderID,
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
	}, nil
}

// Notification is the subset of the Midtrans payment callback we act on.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	SignatureKey      string `json:"signature_key"`
}

// HandleNotification verifies the callback signature and settles the order.
// Midtrans signs notifications with
// sha512(order_id + status_code + gross_amount + server_key).
func (s *Service) HandleNotification(ctx context.Context, n Notification) error {
	if s.serverKey == "" {
		return ErrNotConfigured
	}
	if !validSignature(n, s.serverKey) {
		return ErrBadSignature
	}

	var periodEnd time.Time
	switch n.TransactionStatus {
	case "settlement", "capture":
		periodEnd = time.Now().AddDate(0, 1, 0)
	case "pending":
		return nil
	case "deny", "cancel", "expire", "failure":
		// fall through with zero periodEnd, status recorded as-is
	default:
		return nil
	}
	return s.store.SettleSubscription(ctx, n.OrderID, n.TransactionStatus, periodEnd)
}

func validSignature(n Notification, serverKey string) bool {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	return hex.EncodeToString(sum[:]) == n.SignatureKey
}
