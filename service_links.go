package whitelistkit

import (
	"context"
	"fmt"
	"strings"
)

// LinkRequest describes a Discord to Steam link.
type LinkRequest struct {
	DiscordUserID string
	SteamID       string
	EOSID         string
	Username      string
	Source        LinkSource

	// Confidence applies to potential links only, verified links are 1.0.
	Confidence float64
}

func (r LinkRequest) validate() error {
	if strings.TrimSpace(r.DiscordUserID) == "" || strings.TrimSpace(r.SteamID) == "" {
		return NewError(ErrInvalidLink, "discord user id and steam id are required")
	}
	if !r.Source.Valid() {
		return NewError(ErrInvalidLink, fmt.Sprintf("unknown link source %q", r.Source))
	}
	return nil
}

// LinkSet is every link known for a Discord user.
type LinkSet struct {
	Verified  *AccountLink    `json:"verified,omitempty"`
	Potential []PotentialLink `json:"potential"`
}

// HighestConfidence returns the best link of a user. A verified link always
// scores 1.0. A user without links scores 0 and is not Linked.
func (s *Service) HighestConfidence(ctx context.Context, discordUserID string) (Confidence, error) {
	if s.confidence != nil {
		return s.confidence.HighestConfidence(ctx, discordUserID)
	}
	return storeConfidence(ctx, s.store, discordUserID)
}

func storeConfidence(ctx context.Context, store LinkStore, discordUserID string) (Confidence, error) {
	link, err := store.GetAccountLink(ctx, discordUserID)
	if err != nil {
		return Confidence{}, err
	}
	if link != nil {
		return Confidence{
			Score:    VerifiedConfidence,
			Source:   link.LinkSource,
			SteamID:  link.SteamID,
			EOSID:    link.EOSID,
			Username: link.Username,
			Verified: true,
		}, nil
	}

	potentials, err := store.ListPotentialLinks(ctx, discordUserID)
	if err != nil {
		return Confidence{}, err
	}
	if len(potentials) == 0 {
		return Confidence{}, nil
	}
	best := potentials[0]
	for _, p := range potentials[1:] {
		if p.ConfidenceScore > best.ConfidenceScore {
			best = p
		}
	}
	return Confidence{
		Score:    best.ConfidenceScore,
		Source:   best.LinkSource,
		SteamID:  best.SteamID,
		EOSID:    best.EOSID,
		Username: best.Username,
	}, nil
}

// GetLinks returns the verified and potential links of a user.
func (s *Service) GetLinks(ctx context.Context, discordUserID string) (LinkSet, error) {
	var set LinkSet
	link, err := s.store.GetAccountLink(ctx, discordUserID)
	if err != nil {
		return set, err
	}
	set.Verified = link
	set.Potential, err = s.store.ListPotentialLinks(ctx, discordUserID)
	return set, err
}

// RecordPotentialLink stores an unverified link. Its confidence must be
// below 1.0; use VerifyLink for verified ones.
func (s *Service) RecordPotentialLink(ctx context.Context, req LinkRequest) (*PotentialLink, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Confidence < 0 || req.Confidence >= VerifiedConfidence {
		return nil, NewError(ErrInvalidLink,
			fmt.Sprintf("potential link confidence must be in [0, 1), got %v", req.Confidence)).
			WithUser(req.DiscordUserID)
	}

	link := &PotentialLink{
		DiscordUserID:   req.DiscordUserID,
		SteamID:         req.SteamID,
		EOSID:           req.EOSID,
		Username:        req.Username,
		ConfidenceScore: req.Confidence,
		LinkSource:      req.Source,
	}
	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.CreatePotentialLink(ctx, link); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditPotentialLinkAdded,
			TargetID:    req.DiscordUserID,
			Description: fmt.Sprintf("potential link to %s recorded (%v)", req.SteamID, req.Confidence),
			Details:     map[string]any{"steam_id": req.SteamID, "source": req.Source, "confidence": req.Confidence},
		})
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// VerifyLink records a verified link, then upgrades any security-blocked
// role grant and syncs the user.
func (s *Service) VerifyLink(ctx context.Context, req LinkRequest) (UpgradeResult, error) {
	if err := req.validate(); err != nil {
		return UpgradeResult{}, err
	}

	link := &AccountLink{
		DiscordUserID:   req.DiscordUserID,
		SteamID:         req.SteamID,
		EOSID:           req.EOSID,
		Username:        req.Username,
		ConfidenceScore: VerifiedConfidence,
		LinkSource:      req.Source,
	}
	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.UpsertAccountLink(ctx, link); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditLinkVerified,
			TargetID:    req.DiscordUserID,
			Description: fmt.Sprintf("link to %s verified via %s", req.SteamID, req.Source),
			Details:     map[string]any{"steam_id": req.SteamID, "source": req.Source},
		})
	})
	if err != nil {
		return UpgradeResult{}, err
	}

	return s.UpgradeSecurityBlocked(ctx, req.DiscordUserID)
}

// ForceVerify is the admin override of VerifyLink.
func (s *Service) ForceVerify(ctx context.Context, discordUserID, steamID string) (UpgradeResult, error) {
	req := LinkRequest{DiscordUserID: discordUserID, SteamID: steamID, Source: LinkAdmin}

	if set, err := s.GetLinks(ctx, discordUserID); err == nil {
		for _, p := range set.Potential {
			if p.SteamID == steamID {
				req.EOSID = p.EOSID
				req.Username = p.Username
				break
			}
		}
	}
	return s.VerifyLink(ctx, req)
}
