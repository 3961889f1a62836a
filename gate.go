package whitelistkit

import (
	"context"
	"fmt"
	"strconv"
)

// GateState is the outcome of the confidence gate.
type GateState string

const (
	GateApproved        GateState = "approved"
	GateSecurityBlocked GateState = "security_blocked"
)

// GateDecision explains whether a role-derived grant may be used.
type GateDecision struct {
	State      GateState `json:"state"`
	Group      string    `json:"group"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
}

// Approved reports whether the grant may be used.
func (d GateDecision) Approved() bool {
	return d.State == GateApproved
}

// SecurityBlockReason is the revocation reason stored on a blocked grant.
// It states the gap between the score and the required 1.0.
func SecurityBlockReason(score float64) string {
	return fmt.Sprintf("%s insufficient link confidence (%s/1.0)",
		SecurityBlockPrefix, strconv.FormatFloat(score, 'f', -1, 64))
}

// decide applies the gate rule: only a verified link approves.
func decide(conf Confidence, group string) GateDecision {
	if conf.Score >= VerifiedConfidence {
		return GateDecision{State: GateApproved, Group: group, Confidence: conf.Score}
	}
	return GateDecision{
		State:      GateSecurityBlocked,
		Group:      group,
		Confidence: conf.Score,
		Reason:     SecurityBlockReason(conf.Score),
	}
}

// GateGrant decides whether a role grant for proposedGroup would be approved
// for the user. A security block is a state, not an error.
func (s *Service) GateGrant(ctx context.Context, discordUserID, proposedGroup string) (GateDecision, error) {
	conf, err := s.HighestConfidence(ctx, discordUserID)
	if err != nil {
		return GateDecision{}, err
	}
	return decide(conf, proposedGroup), nil
}
