package policy

import (
	"context"
	"sort"

	"github.com/router-for-me/EnterpriseAccess/internal/models"
)

// ResolvePolicy picks the policy with the lowest type priority from a set of
// independently redeemable policies. Ties break on the policy UUID so the
// choice is deterministic. It returns nil for an empty set.
func ResolvePolicy(policies []*models.SubsidyAccessPolicy) *models.SubsidyAccessPolicy {
	var best *models.SubsidyAccessPolicy
	for _, candidate := range policies {
		if candidate == nil {
			continue
		}
		if best == nil || lessPriority(candidate, best) {
			best = candidate
		}
	}
	return best
}

// SortByPriority orders policies in resolution order, in place.
func SortByPriority(policies []*models.SubsidyAccessPolicy) {
	sort.SliceStable(policies, func(i, j int) bool {
		return lessPriority(policies[i], policies[j])
	})
}

func lessPriority(a, b *models.SubsidyAccessPolicy) bool {
	pa, pb := Priority(a.Kind), Priority(b.Kind)
	if pa != pb {
		return pa < pb
	}
	return a.UUID.String() < b.UUID.String()
}

// Denial records why a policy could not serve a redemption request.
type Denial struct {
	Policy *models.SubsidyAccessPolicy
	Reason Reason
}

// Resolution is the outcome of evaluating a set of policies for one request.
type Resolution struct {
	Redeemable []*models.SubsidyAccessPolicy
	Denials    []Denial
	Selected   *models.SubsidyAccessPolicy
}

// ResolveRedeemable evaluates every policy for the request and selects the
// winner among the redeemable ones. Upstream errors abort the evaluation.
func (e *Evaluator) ResolveRedeemable(ctx context.Context, policies []*models.SubsidyAccessPolicy, lmsUserID int64, contentKey string, priceCents int64) (Resolution, error) {
	var out Resolution
	for _, p := range policies {
		if p == nil {
			continue
		}
		decision, err := e.CanRedeem(ctx, p, lmsUserID, contentKey, priceCents)
		if err != nil {
			return Resolution{}, err
		}
		if decision.Allowed {
			out.Redeemable = append(out.Redeemable, p)
			continue
		}
		out.Denials = append(out.Denials, Denial{Policy: p, Reason: decision.Reason})
	}
	SortByPriority(out.Redeemable)
	out.Selected = ResolvePolicy(out.Redeemable)
	return out, nil
}
