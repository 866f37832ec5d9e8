package service

import (
	"math"
	"math/big"
	"strings"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/shopspring/decimal"
)

// Holding is one asset's position in a portfolio snapshot.
type Holding struct {
	AssetID  string
	Balance  *big.Int
	Decimals int
	USDValue float64
	Weight   float64 // percent of the snapshot's total USD value
}

// Snapshot is a priced view of a portfolio at one instant.
type Snapshot struct {
	Holdings []Holding
	TotalUSD float64
	index    map[string]int
}

// NewSnapshot computes current weights. A zero total yields zero weights.
func NewSnapshot(holdings []Holding) Snapshot {
	snap := Snapshot{
		Holdings: make([]Holding, len(holdings)),
		index:    make(map[string]int, len(holdings)),
	}
	copy(snap.Holdings, holdings)
	for _, h := range snap.Holdings {
		snap.TotalUSD += h.USDValue
	}
	for i := range snap.Holdings {
		if snap.TotalUSD > 0 {
			snap.Holdings[i].Weight = snap.Holdings[i].USDValue / snap.TotalUSD * 100
		} else {
			snap.Holdings[i].Weight = 0
		}
		snap.index[strings.ToLower(snap.Holdings[i].AssetID)] = i
	}
	return snap
}

// Holding looks an asset up case-insensitively. Unknown assets are an empty holding.
func (s Snapshot) Holding(assetID string) Holding {
	if i, ok := s.index[strings.ToLower(assetID)]; ok {
		return s.Holdings[i]
	}
	return Holding{AssetID: assetID, Balance: new(big.Int)}
}

// MaxDeviation is the largest |current - target| across the targets.
func MaxDeviation(targets []model.AssetWeight, snap Snapshot) float64 {
	maxDev := 0.0
	for _, t := range targets {
		dev := math.Abs(snap.Holding(t.AssetID).Weight - t.TargetWeightPercent)
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev
}

// Recommend proposes one trade per overweight asset, sending the excess to
// the asset with the largest deficit. Ties go to the first declared asset.
// Sources with no underweight destination become NoMatch and are not retried
// against a second-best destination.
func Recommend(targets []model.AssetWeight, snap Snapshot, noiseFloor float64) []model.Proposal {
	var proposals []model.Proposal
	for i, src := range targets {
		held := snap.Holding(src.AssetID)
		deviation := held.Weight - src.TargetWeightPercent
		if deviation <= noiseFloor {
			continue
		}

		dest := -1
		bestDeficit := 0.0
		for j, dst := range targets {
			if j == i || strings.EqualFold(dst.AssetID, src.AssetID) {
				continue
			}
			deficit := dst.TargetWeightPercent - snap.Holding(dst.AssetID).Weight
			if deficit > bestDeficit {
				bestDeficit = deficit
				dest = j
			}
		}
		if dest < 0 {
			proposals = append(proposals, model.NoMatch{AssetFrom: src.AssetID, Deviation: deviation, Reason: "no underweight asset"})
			continue
		}

		excessUSD := deviation / 100 * snap.TotalUSD
		amount := toBaseUnits(excessUSD, held)
		if amount.Sign() == 0 {
			proposals = append(proposals, model.NoMatch{AssetFrom: src.AssetID, Deviation: deviation, Reason: "amount rounds to zero"})
			continue
		}

		proposals = append(proposals, model.Recommendation{
			AssetFrom:     src.AssetID,
			AssetTo:       targets[dest].AssetID,
			AmountFrom:    amount,
			TargetWeight:  src.TargetWeightPercent,
			CurrentWeight: held.Weight,
			Deviation:     deviation,
		})
	}
	return proposals
}

// toBaseUnits converts a USD amount of the held asset into base units using
// the unit price implied by the snapshot. The result never exceeds the balance.
func toBaseUnits(usd float64, held Holding) *big.Int {
	if held.Balance == nil || held.Balance.Sign() <= 0 || held.USDValue <= 0 || usd <= 0 {
		return new(big.Int)
	}
	wholeUnits := decimal.NewFromBigInt(held.Balance, int32(-held.Decimals))
	unitPrice := decimal.NewFromFloat(held.USDValue).Div(wholeUnits)
	if unitPrice.Sign() <= 0 {
		return new(big.Int)
	}
	amount := decimal.NewFromFloat(usd).Div(unitPrice).Shift(int32(held.Decimals)).Floor().BigInt()
	if amount.Cmp(held.Balance) > 0 {
		return new(big.Int).Set(held.Balance)
	}
	return amount
}
