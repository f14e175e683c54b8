package model

import "testing"

func TestCampaignTransitions(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		ok       bool
	}{
		{CampaignScheduled, CampaignInProgress, true},
		{CampaignPaused, CampaignInProgress, true},
		{CampaignInProgress, CampaignPaused, true},
		{CampaignScheduled, CampaignPaused, false},
		{CampaignScheduled, CampaignCancelled, true},
		{CampaignInProgress, CampaignCancelled, false},
		{CampaignInProgress, CampaignCompleted, true},
		{CampaignCompleted, CampaignInProgress, false},
		{CampaignFailed, CampaignCompleted, false},
		{CampaignCancelled, CampaignScheduled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestCampaignTerminal(t *testing.T) {
	for _, s := range []CampaignStatus{CampaignCompleted, CampaignFailed, CampaignCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []CampaignStatus{CampaignScheduled, CampaignInProgress, CampaignPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if CampaignStatus("draft").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestCampaignSources(t *testing.T) {
	src := CampaignSources(CampaignCancelled)
	if len(src) != 1 || src[0] != "scheduled" {
		t.Errorf("unexpected sources for cancelled: %v", src)
	}
	if len(CampaignSources(CampaignScheduled)) != 0 {
		t.Error("scheduled must not be reachable from any state")
	}
}

func TestFinalStatus(t *testing.T) {
	tests := []struct {
		sent, failed int
		want         CampaignStatus
	}{
		{0, 0, CampaignCompleted},
		{3, 0, CampaignCompleted},
		{2, 1, CampaignCompleted},
		{0, 4, CampaignFailed},
	}
	for _, tt := range tests {
		c := &Campaign{SentCount: tt.sent, FailedCount: tt.failed}
		if got := c.FinalStatus(); got != tt.want {
			t.Errorf("sent=%d failed=%d: expected %s, got %s", tt.sent, tt.failed, tt.want, got)
		}
	}
}

func TestRecipientTransitions(t *testing.T) {
	if !RecipientPending.CanTransition(RecipientSent) || !RecipientPending.CanTransition(RecipientFailed) {
		t.Error("pending must settle to sent or failed")
	}
	if RecipientSent.CanTransition(RecipientFailed) || RecipientFailed.CanTransition(RecipientSent) {
		t.Error("settled recipients must not flip")
	}
	if !RecipientSent.CanTransition(RecipientDelivered) {
		t.Error("sent must be able to become delivered")
	}
	if src, ok := RecipientSource(RecipientSent); !ok || src != RecipientPending {
		t.Errorf("unexpected source for sent: %s %v", src, ok)
	}
	if _, ok := RecipientSource(RecipientPending); ok {
		t.Error("pending has no source state")
	}
}
