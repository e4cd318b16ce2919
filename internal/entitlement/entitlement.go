// Package entitlement reconciles the ledger's per-source grants into one effective premium status.
package entitlement

import (
	"encoding/json"
	"time"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
)

type Source string

const (
	SourceProviderSubscription Source = "provider_subscription"
	SourceManualOverride       Source = "manual_override"
	SourceRedeemableCode       Source = "redeemable_code"
)

// Precedence lists sources from highest to lowest.
var Precedence = []Source{
	SourceProviderSubscription,
	SourceManualOverride,
	SourceRedeemableCode,
}

func (s Source) Valid() bool {
	switch s {
	case SourceProviderSubscription, SourceManualOverride, SourceRedeemableCode:
		return true
	}
	return false
}

// Status is the resolved view of a user's entitlement at one instant.
// Source is empty and Until nil whenever Active is false.
type Status struct {
	Active bool
	Source Source
	Until  *time.Time
}

var Inactive = Status{}

type statusJSON struct {
	Active bool       `json:"active"`
	Source *string    `json:"source"`
	Until  *time.Time `json:"until"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{Active: s.Active, Until: s.Until}
	if s.Source != "" {
		src := string(s.Source)
		out.Source = &src
	}
	return json.Marshal(out)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var in statusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Status{Active: in.Active, Until: in.Until}
	if in.Source != nil {
		s.Source = Source(*in.Source)
	}
	return nil
}

// Live reports whether a record grants access at now. A nil ValidUntil is unbounded.
func Live(rec models.EntitlementRecord, now time.Time) bool {
	return rec.ValidUntil == nil || rec.ValidUntil.After(now)
}

// Latest picks the most recent record per source. Ledger ids are the total order; CreatedAt breaks ties
// only for records that have not been assigned an id yet.
func Latest(records []models.EntitlementRecord) map[Source]models.EntitlementRecord {
	out := make(map[Source]models.EntitlementRecord, len(Precedence))
	for _, rec := range records {
		src := Source(rec.Source)
		if !src.Valid() {
			continue
		}
		cur, ok := out[src]
		if !ok || newer(rec, cur) {
			out[src] = rec
		}
	}
	return out
}

func newer(a, b models.EntitlementRecord) bool {
	if a.ID != 0 && b.ID != 0 {
		return a.ID > b.ID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Resolve computes the effective status from a user's records. It accepts either the full history or only
// the latest record per source, never mutates its input, and is deterministic for a given (records, now).
func Resolve(records []models.EntitlementRecord, now time.Time) Status {
	latest := Latest(records)
	for _, src := range Precedence {
		rec, ok := latest[src]
		if !ok || !Live(rec, now) {
			continue
		}
		st := Status{Active: true, Source: src}
		if rec.ValidUntil != nil {
			until := *rec.ValidUntil
			st.Until = &until
		}
		return st
	}
	return Inactive
}

// LiveSource returns the highest-precedence live source, or "" when nothing is live.
func LiveSource(records []models.EntitlementRecord, now time.Time) Source {
	return Resolve(records, now).Source
}
