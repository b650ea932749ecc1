package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/profile"
	"github.com/guardian-os/guardian-risk/internal/syncutil"
)

// Profiles is the slice of the profile service the network needs: snapshot
// reads plus the family-trust writeback. Satisfied by *profile.Service.
type Profiles interface {
	Get(ctx context.Context, childID, contactHash string) (*profile.ContactProfile, error)
	SetFamilyTrust(ctx context.Context, childID, contactHash string, trust *float64) (*profile.ContactProfile, error)
}

// Network recalculates family contact views and propagates trust back into
// younger siblings' profiles.
//
// Recalculation never holds any child profile's per-key lock: it reads a
// snapshot, computes, and writes the view under its own per-(family,
// contact) key. A profile that changes mid-computation is detected by
// timestamp and the recalculation retried once before proceeding with the
// best-effort snapshot.
type Network struct {
	registry Registry
	views    ViewStore
	profiles Profiles
	locks    syncutil.ShardedMutex
	logger   *slog.Logger
	now      func() time.Time
}

// NewNetwork creates a family trust network.
func NewNetwork(registry Registry, views ViewStore, profiles Profiles, logger *slog.Logger) *Network {
	return &Network{
		registry: registry,
		views:    views,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (n *Network) WithClock(now func() time.Time) *Network {
	n.now = now
	return n
}

// OnChildUpdate recalculates the family view for a contact after one
// child's risk or trust changed. Unknown children (not in the registry)
// are skipped: single-child households have no propagation to do but still
// get a view row for the dashboard.
func (n *Network) OnChildUpdate(ctx context.Context, childID, contactHash string) (*ContactView, error) {
	fam, err := n.registry.FamilyOf(ctx, childID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			n.logger.Debug("child not in family registry, skipping recalc", "child", childID)
			return nil, nil
		}
		return nil, fmt.Errorf("resolve family for child %s: %w", childID, err)
	}
	return n.Recalculate(ctx, fam.ID, contactHash)
}

// Recalculate rebuilds the (family, contact) view in trust-then-risk order:
// the propagated trust term is computed and written back to younger
// siblings first, so the risk aggregation that follows sees their refreshed
// scores rather than stale ones.
func (n *Network) Recalculate(ctx context.Context, familyID, contactHash string) (*ContactView, error) {
	unlock := n.locks.Lock(familyID + "/" + contactHash)
	defer unlock()

	fam, err := n.registry.Family(ctx, familyID)
	if err != nil {
		metrics.FamilyRecalcsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load family %s: %w", familyID, err)
	}

	view, err := n.recalcOnce(ctx, fam, contactHash)
	if err == nil {
		metrics.FamilyRecalcsTotal.WithLabelValues("ok").Inc()
		return view, nil
	}
	if !errors.Is(err, errStaleView) {
		metrics.FamilyRecalcsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// One retry on a stale snapshot, then accept best-effort.
	n.logger.Warn("family view computed from stale snapshot, retrying",
		"family", familyID, "contact", contactHash)
	view, err = n.recalcOnce(ctx, fam, contactHash)
	if err != nil && !errors.Is(err, errStaleView) {
		metrics.FamilyRecalcsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.FamilyRecalcsTotal.WithLabelValues("stale_retry").Inc()
	return view, nil
}

// View returns the current aggregate for one (family, contact).
func (n *Network) View(ctx context.Context, familyID, contactHash string) (*ContactView, error) {
	return n.views.Get(ctx, familyID, contactHash)
}

// FamilyViews lists all contact views for a family's dashboard.
func (n *Network) FamilyViews(ctx context.Context, familyID string) ([]*ContactView, error) {
	return n.views.ListByFamily(ctx, familyID)
}

var errStaleView = errors.New("family: profile changed during recalculation")

type snapshotEntry struct {
	child   Child
	profile *profile.ContactProfile
}

func (n *Network) recalcOnce(ctx context.Context, fam *Family, contactHash string) (*ContactView, error) {
	snap, err := n.snapshot(ctx, fam, contactHash)
	if err != nil {
		return nil, err
	}
	if len(snap) == 0 {
		return nil, nil
	}

	// Trust pass: strongest trust among children old enough to count.
	var familyTrust *float64
	for _, e := range snap {
		if e.child.Age < TrustSourceAge {
			continue
		}
		t := e.profile.TrustScore * TrustDecay
		if familyTrust == nil || t > *familyTrust {
			v := t
			familyTrust = &v
		}
	}

	// Writeback: younger siblings pick up the propagated term and recompute
	// before the risk pass reads their scores.
	risks := make(map[string]float64, len(snap))
	for _, e := range snap {
		if e.child.Age >= TrustSourceAge {
			risks[e.child.ID] = e.profile.RiskScore
			continue
		}
		updated, err := n.profiles.SetFamilyTrust(ctx, e.child.ID, contactHash, familyTrust)
		if err != nil {
			return nil, fmt.Errorf("propagate family trust to child %s: %w", e.child.ID, err)
		}
		risks[e.child.ID] = updated.RiskScore
	}

	view := &ContactView{
		FamilyID:    fam.ID,
		ContactHash: contactHash,
		FamilyTrust: familyTrust,
		UpdatedAt:   n.now(),
	}
	for _, e := range snap {
		risk := risks[e.child.ID]
		view.Children = append(view.Children, ChildView{
			ChildID: e.child.ID,
			Age:     e.child.Age,
			Risk:    risk,
			Trust:   e.profile.TrustScore,
		})
		if risk > view.FamilyRisk {
			view.FamilyRisk = risk
		}
	}

	// Stale check: a trust-source profile that moved under the snapshot
	// invalidates the trust pass.
	for _, e := range snap {
		if e.child.Age < TrustSourceAge {
			continue
		}
		current, err := n.profiles.Get(ctx, e.child.ID, contactHash)
		if err != nil {
			continue
		}
		if !current.UpdatedAt.Equal(e.profile.UpdatedAt) {
			if putErr := n.views.Put(ctx, view); putErr != nil {
				return nil, fmt.Errorf("persist family view: %w", putErr)
			}
			return view, errStaleView
		}
	}

	if err := n.views.Put(ctx, view); err != nil {
		return nil, fmt.Errorf("persist family view: %w", err)
	}
	return view, nil
}

// snapshot gathers the profiles of every child in the family who knows the
// contact. Children without a profile for this hash simply don't appear.
func (n *Network) snapshot(ctx context.Context, fam *Family, contactHash string) ([]snapshotEntry, error) {
	var snap []snapshotEntry
	for _, child := range fam.Children {
		p, err := n.profiles.Get(ctx, child.ID, contactHash)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("snapshot child %s: %w", child.ID, err)
		}
		snap = append(snap, snapshotEntry{child: child, profile: p})
	}
	return snap, nil
}
