package service

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
)

const (
	VerdictNotActive     = "permission not active"
	VerdictOwnerMismatch = "owner mismatch"
	VerdictNoDelegatee   = "no delegatee"
	VerdictInsufficient  = "insufficient allowance"
	VerdictLedgerReject  = "ledger allowance check failed"
)

// AllowanceCheck describes a spend to authorize.
// Advisory checks only log an insufficient remaining allowance and skip the
// ledger-side check, because the exact amount is not known yet.
type AllowanceCheck struct {
	PermissionID string
	Owner        string
	Amount       *big.Int
	Advisory     bool
}

type Verdict struct {
	Valid  bool
	Reason string
}

func valid() Verdict { return Verdict{Valid: true} }

func invalid(reason string) Verdict { return Verdict{Reason: reason} }

// AllowanceValidator decides whether a permission still authorizes a spend.
type AllowanceValidator struct {
	ledger      LedgerQuery
	local       PermissionStore
	ledgerCheck bool
}

// NewAllowanceValidator builds a validator. local may be nil.
func NewAllowanceValidator(ledger LedgerQuery, local PermissionStore, ledgerCheck bool) *AllowanceValidator {
	return &AllowanceValidator{ledger: ledger, local: local, ledgerCheck: ledgerCheck}
}

// Validate runs the checks in order and stops at the first failure.
// It never returns an error: any failure downgrades to an invalid verdict.
func (v *AllowanceValidator) Validate(ctx context.Context, check AllowanceCheck) Verdict {
	log := logger.With("permission_id", check.PermissionID, "owner", check.Owner)

	// 0. Locally revoked
	if v.local != nil {
		perm, err := v.local.GetPermission(ctx, check.PermissionID)
		switch {
		case err == nil && perm != nil && !perm.Active:
			log.Info("permission revoked locally")
			return invalid(VerdictNotActive)
		case err != nil && !errors.Is(err, model.ErrNotFound):
			log.Debug("local permission lookup failed", "error", err)
		}
	}

	// 1. Ledger state
	info, err := v.ledger.GetPermissionInfo(ctx, check.PermissionID)
	if err != nil {
		log.Warn("permission lookup failed", "error", err)
		return invalid(VerdictNotActive)
	}
	if info == nil || !info.Active || isZeroIdentity(info.Owner) {
		return invalid(VerdictNotActive)
	}

	// 2. Owner
	if !sameIdentity(info.Owner, check.Owner) {
		log.Warn("permission owner mismatch", "ledger_owner", info.Owner)
		return invalid(VerdictOwnerMismatch)
	}

	// 3. Delegatee
	if isZeroIdentity(info.Delegatee) {
		log.Warn("permission has no delegatee")
		return invalid(VerdictNoDelegatee)
	}

	// 4. Remaining allowance
	need := check.Amount
	if need == nil {
		need = new(big.Int)
	}
	remaining := model.Remaining(info.Allowance, info.Spent)
	if remaining.Cmp(need) < 0 {
		if !check.Advisory {
			log.Info("insufficient allowance", "remaining", remaining.String(), "needed", need.String())
			return invalid(VerdictInsufficient)
		}
		log.Info("remaining allowance below reference amount", "remaining", remaining.String(), "reference", need.String())
	}

	// 5. Ledger-side check
	if v.ledgerCheck && !check.Advisory {
		ok, err := v.ledger.CheckAllowance(ctx, check.PermissionID, need)
		if err != nil || !ok {
			log.Warn("ledger allowance check rejected", "error", err)
			return invalid(VerdictLedgerReject)
		}
	}

	return valid()
}

func sameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func isZeroIdentity(id string) bool {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
	return strings.Trim(trimmed, "0") == ""
}
