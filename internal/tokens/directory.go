// Package tokens maps principals to their registered device push tokens.
// Stored token shapes vary (legacy single-value field, canonical array,
// residency-level admin token); the directory normalizes all of them into a
// semantic set of tokens on read and writes only the canonical shape.
package tokens

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/repo"
)

// Principal references one notification target.
type Principal struct {
	Role model.Role
	ID   string
}

// SelectorKind enumerates the supported recipient selectors.
type SelectorKind int

const (
	// SelectBroadcast targets every resident of the residency.
	SelectBroadcast SelectorKind = iota
	// SelectFlat targets the residents of one flat, matched both by flat id
	// and by the legacy block-label + flat-number pair.
	SelectFlat
	// SelectPrincipal targets a single resident, guard, or the admin.
	SelectPrincipal
	// SelectAdmin targets only the residency admin device.
	SelectAdmin
	// SelectGuards targets every guard of the residency.
	SelectGuards
)

// Selector picks the set of principals to notify.
type Selector struct {
	Kind      SelectorKind
	FlatID    string
	Principal Principal
}

// Broadcast selects all residents.
func Broadcast() Selector { return Selector{Kind: SelectBroadcast} }

// ForFlat selects the residents of a flat.
func ForFlat(flatID string) Selector { return Selector{Kind: SelectFlat, FlatID: flatID} }

// ForPrincipal selects a single principal.
func ForPrincipal(role model.Role, id string) Selector {
	return Selector{Kind: SelectPrincipal, Principal: Principal{Role: role, ID: id}}
}

// ForAdmin selects the residency admin.
func ForAdmin() Selector { return Selector{Kind: SelectAdmin} }

// ForGuards selects all guards.
func ForGuards() Selector { return Selector{Kind: SelectGuards} }

// Directory resolves, registers, and invalidates device tokens per residency.
type Directory struct {
	residents   repo.ResidentRepo
	guards      repo.GuardRepo
	flats       repo.FlatRepo
	blocks      repo.BlockRepo
	residencies repo.ResidencyRepo
	log         *zap.Logger
}

// NewDirectory creates a token directory over the given repositories.
func NewDirectory(
	residents repo.ResidentRepo,
	guards repo.GuardRepo,
	flats repo.FlatRepo,
	blocks repo.BlockRepo,
	residencies repo.ResidencyRepo,
	log *zap.Logger,
) *Directory {
	return &Directory{
		residents:   residents,
		guards:      guards,
		flats:       flats,
		blocks:      blocks,
		residencies: residencies,
		log:         log,
	}
}

// Register stores a device token for the principal. Registering a token that
// is already present is a no-op; admin tokens are single-value and replaced.
func (d *Directory) Register(ctx context.Context, residencyID string, p Principal, token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	switch p.Role {
	case model.RoleResident:
		return d.residents.AddToken(ctx, residencyID, p.ID, token)
	case model.RoleGuard:
		return d.guards.AddToken(ctx, residencyID, p.ID, token)
	case model.RoleAdmin:
		return d.residencies.SetAdminToken(ctx, residencyID, token)
	}
	return fmt.Errorf("unknown principal role %q", p.Role)
}

// Resolve returns the de-duplicated token set for the selector. Finding no
// matching principal or no registered device is an expected condition and
// yields an empty set, not an error.
func (d *Directory) Resolve(ctx context.Context, residencyID string, sel Selector) ([]string, error) {
	set := newTokenSet()

	switch sel.Kind {
	case SelectBroadcast:
		residents, err := d.residents.ListByResidency(ctx, residencyID)
		if err != nil {
			return nil, err
		}
		for _, res := range residents {
			set.addAll(residentTokens(res))
		}

	case SelectFlat:
		if err := d.resolveFlat(ctx, residencyID, sel.FlatID, set); err != nil {
			return nil, err
		}

	case SelectGuards:
		guards, err := d.guards.ListByResidency(ctx, residencyID)
		if err != nil {
			return nil, err
		}
		for _, g := range guards {
			set.addAll(guardTokens(g))
		}

	case SelectPrincipal:
		switch sel.Principal.Role {
		case model.RoleResident:
			res, err := d.residents.GetByID(ctx, residencyID, sel.Principal.ID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			set.addAll(residentTokens(res))
		case model.RoleGuard:
			g, err := d.guards.GetByID(ctx, residencyID, sel.Principal.ID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			set.addAll(guardTokens(g))
		case model.RoleAdmin:
			if err := d.addAdminToken(ctx, residencyID, set); err != nil {
				return nil, err
			}
		}

	case SelectAdmin:
		if err := d.addAdminToken(ctx, residencyID, set); err != nil {
			return nil, err
		}
	}

	return set.values(), nil
}

// AdminToken returns the residency admin token, or "" when none is registered.
func (d *Directory) AdminToken(ctx context.Context, residencyID string) (string, error) {
	res, err := d.residencies.GetByID(ctx, residencyID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return res.AdminFCMToken, nil
}

// Invalidate removes tokens the gateway reported as permanently dead. Only
// token values are cleared, never principal identity; an absent token is a
// no-op.
func (d *Directory) Invalidate(ctx context.Context, residencyID string, deadTokens []string) error {
	for _, token := range deadTokens {
		if err := d.residents.RemoveToken(ctx, residencyID, token); err != nil {
			return err
		}
		if err := d.guards.RemoveToken(ctx, residencyID, token); err != nil {
			return err
		}
		if err := d.residencies.ClearAdminToken(ctx, residencyID, token); err != nil {
			return err
		}
		d.log.Info("invalidated dead device token",
			zap.String("residency_id", residencyID))
	}
	return nil
}

// resolveFlat unions the direct flat-id match with the legacy block/flat-name
// match. A resident present through both lookup paths is counted once: the
// union is keyed by resident id before tokens are collected.
func (d *Directory) resolveFlat(ctx context.Context, residencyID, flatID string, set *tokenSet) error {
	matched := make(map[string]model.Resident)

	direct, err := d.residents.ListByFlatID(ctx, residencyID, flatID)
	if err != nil {
		return err
	}
	for _, res := range direct {
		matched[res.ID] = res
	}

	flat, err := d.flats.GetByID(ctx, residencyID, flatID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		// No reference data for the legacy path; the direct match stands.
	case err != nil:
		return err
	default:
		blockName := ""
		if flat.BlockID != "" {
			block, err := d.blocks.GetByID(ctx, residencyID, flat.BlockID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
			blockName = block.Name
		}
		legacy, err := d.residents.ListByFlatNumber(ctx, residencyID, flat.Number)
		if err != nil {
			return err
		}
		for _, res := range legacy {
			if model.ResidentMatchesFlat(res, flat, blockName) {
				matched[res.ID] = res
			}
		}
	}

	for _, res := range matched {
		set.addAll(residentTokens(res))
	}
	return nil
}

func (d *Directory) addAdminToken(ctx context.Context, residencyID string, set *tokenSet) error {
	token, err := d.AdminToken(ctx, residencyID)
	if err != nil {
		return err
	}
	if token != "" {
		set.add(token)
	}
	return nil
}

// residentTokens flattens the stored token shapes into a plain slice.
func residentTokens(res model.Resident) []string {
	out := append([]string(nil), res.FCMTokens...)
	if res.FCMToken != "" {
		out = append(out, res.FCMToken)
	}
	return out
}

func guardTokens(g model.Guard) []string {
	out := append([]string(nil), g.FCMTokens...)
	if g.FCMToken != "" {
		out = append(out, g.FCMToken)
	}
	return out
}

// tokenSet is an insertion-ordered string set.
type tokenSet struct {
	seen  map[string]struct{}
	order []string
}

func newTokenSet() *tokenSet {
	return &tokenSet{seen: make(map[string]struct{})}
}

func (s *tokenSet) add(token string) {
	if token == "" {
		return
	}
	if _, ok := s.seen[token]; ok {
		return
	}
	s.seen[token] = struct{}{}
	s.order = append(s.order, token)
}

func (s *tokenSet) addAll(toks []string) {
	for _, t := range toks {
		s.add(t)
	}
}

func (s *tokenSet) values() []string {
	return s.order
}
