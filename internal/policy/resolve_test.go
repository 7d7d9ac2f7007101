package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
)

func TestResolvePolicyPrefersCreditOverSubscription(t *testing.T) {
	subscription := &models.SubsidyAccessPolicy{UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Kind: models.PolicyKindSubscription}
	credit := &models.SubsidyAccessPolicy{UUID: uuid.MustParse("ffffffff-0000-0000-0000-000000000001"), Kind: models.PolicyKindPerLearnerSpendCredit}

	got := ResolvePolicy([]*models.SubsidyAccessPolicy{subscription, credit})
	if got != credit {
		t.Fatalf("expected credit policy, got %+v", got)
	}
}

func TestResolvePolicyBreaksTiesOnUUID(t *testing.T) {
	a := &models.SubsidyAccessPolicy{UUID: uuid.MustParse("20000000-0000-0000-0000-000000000000"), Kind: models.PolicyKindAssignedLearnerCredit}
	b := &models.SubsidyAccessPolicy{UUID: uuid.MustParse("10000000-0000-0000-0000-000000000000"), Kind: models.PolicyKindPerLearnerEnrollmentCredit}

	for i := 0; i < 3; i++ {
		if got := ResolvePolicy([]*models.SubsidyAccessPolicy{a, b}); got != b {
			t.Fatalf("expected lowest uuid to win, got %s", got.UUID)
		}
		if got := ResolvePolicy([]*models.SubsidyAccessPolicy{b, a}); got != b {
			t.Fatalf("expected lowest uuid to win regardless of order, got %s", got.UUID)
		}
	}
}

func TestResolvePolicyEmpty(t *testing.T) {
	if got := ResolvePolicy(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestResolveRedeemableSplitsDenials(t *testing.T) {
	ledger := &fakeLedger{subsidy: activeSubsidy(), balance: 1000}
	evaluator := NewEvaluator(ledger, &fakeCatalog{contains: true}, nil, nil).
		WithClock(func() time.Time { return testNow })

	inactive := &models.SubsidyAccessPolicy{UUID: uuid.New(), Kind: models.PolicyKindPerLearnerSpendCredit}
	spend := &models.SubsidyAccessPolicy{UUID: uuid.New(), Kind: models.PolicyKindPerLearnerSpendCredit, Active: true}
	subscription := &models.SubsidyAccessPolicy{UUID: uuid.New(), Kind: models.PolicyKindSubscription, Active: true}

	res, err := evaluator.ResolveRedeemable(context.Background(), []*models.SubsidyAccessPolicy{inactive, subscription, spend}, 5, "content", 100)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Selected != spend {
		t.Fatalf("expected spend policy selected, got %+v", res.Selected)
	}
	if len(res.Redeemable) != 1 {
		t.Fatalf("expected 1 redeemable policy, got %d", len(res.Redeemable))
	}
	if len(res.Denials) != 2 {
		t.Fatalf("expected 2 denials, got %d", len(res.Denials))
	}
	for _, d := range res.Denials {
		if d.Reason != ReasonPolicyExpired {
			t.Fatalf("expected policy_expired denial, got %s", d.Reason)
		}
	}
}
