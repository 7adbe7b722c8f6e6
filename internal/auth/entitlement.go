// ABOUTME: Subscription entitlement evaluation for multi-tenant deployments
// ABOUTME: Trial beats plan beats no-plan; self-hosted and beta never expire

package auth

import (
	"time"

	"github.com/2389/nursery-gateway/internal/store"
)

// ExpirationType says which part of a subscription lapsed.
type ExpirationType string

const (
	ExpirationTrial  ExpirationType = "TRIAL_EXPIRED"
	ExpirationPlan   ExpirationType = "PLAN_EXPIRED"
	ExpirationNoPlan ExpirationType = "NO_PLAN"
)

// Entitlement is the computed subscription status that gates writes.
type Entitlement struct {
	BetaParticipant bool       `json:"betaParticipant"`
	TrialEnds       *time.Time `json:"trialEnds,omitempty"`
	PlanExpires     *time.Time `json:"planExpires,omitempty"`
	PlanType        string     `json:"planType,omitempty"`
	Closed          bool       `json:"closed"`

	IsExpired      bool           `json:"isExpired"`
	ExpirationType ExpirationType `json:"expirationType,omitempty"`
	ExpirationDate *time.Time     `json:"expirationDate,omitempty"`
}

// EvaluateEntitlement derives the entitlement for sub at now.
// Expiry is only computed when multiTenant is set.
func EvaluateEntitlement(sub store.Subscription, now time.Time, multiTenant bool) Entitlement {
	e := Entitlement{
		BetaParticipant: sub.BetaParticipant,
		TrialEnds:       sub.TrialEnds,
		PlanExpires:     sub.PlanExpires,
		PlanType:        sub.PlanType,
		Closed:          sub.Closed,
	}

	if !multiTenant || sub.BetaParticipant {
		return e
	}

	switch {
	case sub.TrialEnds != nil:
		if now.After(*sub.TrialEnds) {
			e.IsExpired = true
			e.ExpirationType = ExpirationTrial
			e.ExpirationDate = sub.TrialEnds
		}
	case sub.PlanExpires != nil:
		if now.After(*sub.PlanExpires) {
			e.IsExpired = true
			e.ExpirationType = ExpirationPlan
			e.ExpirationDate = sub.PlanExpires
		}
	case sub.PlanType == "":
		e.IsExpired = true
		e.ExpirationType = ExpirationNoPlan
	}

	return e
}
