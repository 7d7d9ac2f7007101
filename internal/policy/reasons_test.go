package policy

import "testing"

func TestUserMessageMapping(t *testing.T) {
	cases := []struct {
		reason    Reason
		hasAdmins bool
		want      string
	}{
		{ReasonPolicyExpired, true, MessageOrganizationNoFunds},
		{ReasonNotEnoughValueInSubsidy, true, MessageOrganizationNoFunds},
		{ReasonPolicySpendLimitReached, true, MessageOrganizationNoFunds},
		{ReasonPolicySpendLimitReached, false, MessageOrganizationNoFundsNoAdmins},
		{ReasonSubsidyExpired, true, MessageOrganizationExpiredFunds},
		{ReasonSubsidyExpired, false, MessageOrganizationExpiredFundsNoAdmins},
		{ReasonContentNotInCatalog, false, MessageContentNotInCatalog},
		{ReasonLearnerNotInEnterprise, true, MessageLearnerNotInEnterprise},
		{ReasonLearnerMaxSpendReached, true, MessageLearnerLimitsReached},
		{ReasonLearnerMaxEnrollmentsReached, false, MessageLearnerLimitsReached},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.reason, tc.hasAdmins); got != tc.want {
			t.Fatalf("UserMessage(%s, %v) = %q, want %q", tc.reason, tc.hasAdmins, got, tc.want)
		}
	}
}

func TestUserMessageUnknownReason(t *testing.T) {
	if got := UserMessage(Reason("made_up"), true); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
	if Reason("made_up").Known() {
		t.Fatalf("expected unknown reason")
	}
	if !ReasonPolicyExpired.Known() {
		t.Fatalf("expected known reason")
	}
}
