// Package access decides whether a principal may act on pharmacy-scoped data.
// Every read and write path of the service goes through it.
package access

import (
	"fmt"
	"slices"

	"medeasy/ledger/domain"
)

// Principal is the authenticated caller as supplied by the auth collaborator.
type Principal struct {
	UserID             int64
	Role               domain.Role
	ActivePharmacyID   *int64
	AssignedPharmacies []int64
}

// FromUser builds the principal of a stored user.
func FromUser(u *domain.User) *Principal {
	if u == nil {
		return nil
	}
	p := &Principal{
		UserID:             u.ID,
		Role:               u.Role,
		AssignedPharmacies: slices.Clone(u.AssignedPharmacies),
	}
	if u.ActivePharmacyID != nil {
		id := *u.ActivePharmacyID
		p.ActivePharmacyID = &id
	}
	return p
}

// IsAdmin reports whether p bypasses pharmacy scoping.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == domain.RoleAdmin
}

// Decision is the outcome of an authorization check. Reason is nil when
// Allowed is true.
type Decision struct {
	Allowed bool
	Reason  error
}

var allow = Decision{Allowed: true}

func deny(reason error) Decision { return Decision{Reason: reason} }

// Decide evaluates the scope rules for principal against a target pharmacy:
// no principal is unauthorized, admins are always allowed, operators are
// allowed on their active pharmacy and on assigned pharmacies, everything else
// is forbidden.
func Decide(p *Principal, pharmacyID int64) Decision {
	switch {
	case p == nil:
		return deny(domain.ErrUnauthorized)
	case p.Role == domain.RoleAdmin:
		return allow
	case p.Role != domain.RolePharmacyOperator:
		return deny(fmt.Errorf("role %q: %w", p.Role, domain.ErrForbidden))
	case p.ActivePharmacyID != nil && *p.ActivePharmacyID == pharmacyID:
		return allow
	case slices.Contains(p.AssignedPharmacies, pharmacyID):
		return allow
	}
	return deny(fmt.Errorf("pharmacy %d is outside the caller's scope: %w", pharmacyID, domain.ErrForbidden))
}

// Authorize is Decide in error form.
func Authorize(p *Principal, pharmacyID int64) error {
	return Decide(p, pharmacyID).Reason
}

// RequireAuthenticated fails with domain.ErrUnauthorized for a nil principal.
// It guards reads of unscoped data such as the medication catalog.
func RequireAuthenticated(p *Principal) error {
	if p == nil {
		return domain.ErrUnauthorized
	}
	return nil
}

// RequireAdmin guards catalog and user administration.
func RequireAdmin(p *Principal) error {
	if p == nil {
		return domain.ErrUnauthorized
	}
	if p.Role != domain.RoleAdmin {
		return fmt.Errorf("administrator role required: %w", domain.ErrForbidden)
	}
	return nil
}

// ResolveWritePharmacy picks the pharmacy a write without a fully determined
// target applies to. Admins must name one. Operators default to their active
// pharmacy; an explicit pharmacy must be within their scope.
func ResolveWritePharmacy(p *Principal, explicit *int64) (int64, error) {
	if p == nil {
		return 0, domain.ErrUnauthorized
	}
	if explicit != nil && *explicit > 0 {
		if err := Authorize(p, *explicit); err != nil {
			return 0, err
		}
		return *explicit, nil
	}
	if p.Role == domain.RoleAdmin {
		return 0, domain.ErrPharmacyRequired
	}
	if p.Role != domain.RolePharmacyOperator {
		return 0, fmt.Errorf("role %q: %w", p.Role, domain.ErrForbidden)
	}
	if p.ActivePharmacyID == nil || *p.ActivePharmacyID <= 0 {
		return 0, domain.ErrNoActivePharmacy
	}
	return *p.ActivePharmacyID, nil
}

// Scope is the set of pharmacies a principal may read.
type Scope struct {
	All         bool
	PharmacyIDs []int64
}

// Includes reports whether pharmacyID is inside the scope.
func (s Scope) Includes(pharmacyID int64) bool {
	return s.All || slices.Contains(s.PharmacyIDs, pharmacyID)
}

// ReadScope returns every pharmacy p may read: all of them for admins, the
// active and assigned pharmacies for operators.
func ReadScope(p *Principal) (Scope, error) {
	if p == nil {
		return Scope{}, domain.ErrUnauthorized
	}
	switch p.Role {
	case domain.RoleAdmin:
		return Scope{All: true}, nil
	case domain.RolePharmacyOperator:
	default:
		return Scope{}, fmt.Errorf("role %q: %w", p.Role, domain.ErrForbidden)
	}
	ids := slices.Clone(p.AssignedPharmacies)
	if p.ActivePharmacyID != nil && !slices.Contains(ids, *p.ActivePharmacyID) {
		ids = append(ids, *p.ActivePharmacyID)
	}
	slices.Sort(ids)
	if ids == nil {
		ids = []int64{}
	}
	return Scope{PharmacyIDs: ids}, nil
}

// Narrow intersects the principal's scope with an optional requested
// pharmacy. A requested pharmacy outside the scope is forbidden.
func Narrow(p *Principal, requested *int64) (Scope, error) {
	scope, err := ReadScope(p)
	if err != nil {
		return Scope{}, err
	}
	if requested == nil || *requested <= 0 {
		return scope, nil
	}
	if err := Authorize(p, *requested); err != nil {
		return Scope{}, err
	}
	return Scope{PharmacyIDs: []int64{*requested}}, nil
}
