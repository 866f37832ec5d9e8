package model

import (
	"math/big"
	"time"
)

// Outcome is the result class of processing one plan or config.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons.
const (
	ReasonExpired           = "expired"
	ReasonNotDue            = "not due"
	ReasonPermissionInvalid = "permission invalid"
	ReasonTooSoon           = "too soon"
	ReasonBelowThreshold    = "below threshold"
	ReasonInactive          = "inactive"
	ReasonNoRecommendations = "no recommendations"
)

// Result is the outcome of processing one item in a cycle.
type Result struct {
	Kind       ExecutionType `json:"kind"`
	ItemID     string        `json:"item_id"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Error      string        `json:"error,omitempty"`
	TxRef      string        `json:"tx_ref,omitempty"`
	AmountOut  *big.Int      `json:"amount_out,omitempty"`
	AmountsOut []*big.Int    `json:"amounts_out,omitempty"`
	Proposals  []Proposal    `json:"proposals,omitempty"`
	At         time.Time     `json:"at"`
}

func Skip(kind ExecutionType, itemID, reason string) Result {
	return Result{Kind: kind, ItemID: itemID, Outcome: OutcomeSkipped, Reason: reason}
}

func Failure(kind ExecutionType, itemID string, err error) Result {
	return Result{Kind: kind, ItemID: itemID, Outcome: OutcomeFailed, Error: err.Error()}
}

func Success(kind ExecutionType, itemID, txRef string) Result {
	return Result{Kind: kind, ItemID: itemID, Outcome: OutcomeSuccess, TxRef: txRef}
}

// Proposal is either a Recommendation or a NoMatch.
type Proposal interface {
	isProposal()
	Source() string
}

// Recommendation is a corrective trade moving value out of an overweight asset.
type Recommendation struct {
	AssetFrom     string   `json:"asset_from"`
	AssetTo       string   `json:"asset_to"`
	AmountFrom    *big.Int `json:"amount_from"`
	TargetWeight  float64  `json:"target_weight"`
	CurrentWeight float64  `json:"current_weight"`
	Deviation     float64  `json:"deviation"`
}

func (Recommendation) isProposal()      {}
func (r Recommendation) Source() string { return r.AssetFrom }

// NoMatch records an overweight asset for which no trade was emitted.
type NoMatch struct {
	AssetFrom string  `json:"asset_from"`
	Deviation float64 `json:"deviation"`
	Reason    string  `json:"reason"`
}

func (NoMatch) isProposal()      {}
func (n NoMatch) Source() string { return n.AssetFrom }

// Recommendations filters the actionable proposals.
func Recommendations(proposals []Proposal) []Recommendation {
	out := make([]Recommendation, 0, len(proposals))
	for _, p := range proposals {
		if r, ok := p.(Recommendation); ok {
			out = append(out, r)
		}
	}
	return out
}

// CycleReport aggregates one scheduler cycle.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Executed   int           `json:"executed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	HasErrors  bool          `json:"has_errors"`
	Results    []Result      `json:"results"`
	Duration   time.Duration `json:"duration_ns"`
}

// Add tallies results into the report.
func (r *CycleReport) Add(results []Result) {
	for _, res := range results {
		switch res.Outcome {
		case OutcomeSuccess:
			r.Executed++
		case OutcomeSkipped:
			r.Skipped++
		case OutcomeFailed:
			r.Failed++
		}
	}
	r.Results = append(r.Results, results...)
}
