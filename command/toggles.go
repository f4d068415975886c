package command

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

// TogglesProperty is the property holding the persisted Toggles as JSON.
const TogglesProperty = "feature_toggles"

// Trap probabilities.
const (
	BaseProbability       = 0.002
	PartyProbability      = 0.01
	FavoriteProbability   = 0.05
	AdminBoostProbability = 0.25
	SpotlightProbability  = 0.5
)

// Toggles are the switches that raise the trap probability.
type Toggles struct {
	AdminBoost bool     `json:"admin_boost"`
	Party      bool     `json:"party"`
	Favorites  []string `json:"favorites,omitempty"`
	Spotlight  string   `json:"spotlight,omitempty"`
}

// ProbabilityFor returns the trap probability for a sender: the largest of
// every probability whose toggle applies, or BaseProbability.
func ProbabilityFor(senderID, role string, t Toggles) float64 {
	p := BaseProbability
	if t.Party {
		p = max(p, PartyProbability)
	}
	if slices.Contains(t.Favorites, senderID) {
		p = max(p, FavoriteProbability)
	}
	if t.AdminBoost && role == chatwork.RoleAdmin {
		p = max(p, AdminBoostProbability)
	}
	if t.Spotlight != "" && t.Spotlight == senderID {
		p = max(p, SpotlightProbability)
	}
	return p
}

// LoadToggles reads the persisted toggles, falling back to def when none are
// stored or the store cannot be read.
func LoadToggles(ctx context.Context, st store.Store, def Toggles) Toggles {
	raw := store.Property(ctx, st, TogglesProperty)
	if raw == "" {
		return def
	}
	var t Toggles
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("toggles: stored value unreadable, using defaults", slog.Any("err", err))
		return def
	}
	return t
}

// SaveToggles persists t.
func SaveToggles(ctx context.Context, st store.Store, t Toggles) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return st.SetProperty(ctx, TogglesProperty, string(b))
}

func (r *Router) toggles(ctx context.Context) Toggles {
	if r.Store == nil {
		return r.DefaultToggles
	}
	return LoadToggles(ctx, r.Store, r.DefaultToggles)
}
