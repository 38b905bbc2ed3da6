package plan

import (
	"sync/atomic"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/samber/lo"
)

// TransitionDirection selects which target set of a plan to read
type TransitionDirection string

const (
	TransitionDirectionUpgrade   TransitionDirection = "upgrade"
	TransitionDirectionDowngrade TransitionDirection = "downgrade"
)

// Catalog is a process-wide read-only snapshot of plan definitions. Reads are
// lock-free; Load atomically replaces the whole snapshot and bumps the
// version stamp. The catalog is never mutated in place.
type Catalog struct {
	snapshot atomic.Pointer[catalogSnapshot]
}

type catalogSnapshot struct {
	version    int64
	plans      map[string]*Plan
	freePlanID string
}

// NewCatalog returns an empty catalog. Load must be called before use.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.snapshot.Store(&catalogSnapshot{plans: map[string]*Plan{}})
	return c
}

// Load validates the plan set and atomically replaces the current snapshot.
// Validation enforces that the upgrade/downgrade relation is a DAG consistent
// with price ordering per billing period: no plan upgrades to a cheaper plan
// and no upgrade cycles exist.
func (c *Catalog) Load(plans []*Plan, freePlanID string) error {
	byID := make(map[string]*Plan, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return ierr.NewError("plan with empty id").
				WithHint("Plan catalog is misconfigured").
				Mark(ierr.ErrConfiguration)
		}
		if _, ok := byID[p.ID]; ok {
			return ierr.NewError("duplicate plan id").
				WithHint("Plan catalog is misconfigured").
				WithReportableDetails(map[string]any{"plan_id": p.ID}).
				Mark(ierr.ErrConfiguration)
		}
		byID[p.ID] = p
	}

	if _, ok := byID[freePlanID]; !ok {
		return ierr.NewError("baseline free plan missing from catalog").
			WithHint("Plan catalog is misconfigured").
			WithReportableDetails(map[string]any{"free_plan_id": freePlanID}).
			Mark(ierr.ErrConfiguration)
	}

	if err := validateTransitionGraph(byID); err != nil {
		return err
	}

	prev := c.snapshot.Load()
	c.snapshot.Store(&catalogSnapshot{
		version:    prev.version + 1,
		plans:      byID,
		freePlanID: freePlanID,
	})
	return nil
}

// Version returns the snapshot version stamp, incremented on every Load
func (c *Catalog) Version() int64 {
	return c.snapshot.Load().version
}

// FreePlanID returns the id of the baseline free plan
func (c *Catalog) FreePlanID() string {
	return c.snapshot.Load().freePlanID
}

// Lookup returns the plan for the id. An unknown id is a configuration
// error, never a user error.
func (c *Catalog) Lookup(planID string) (*Plan, error) {
	if p, ok := c.snapshot.Load().plans[planID]; ok {
		return p, nil
	}
	return nil, ierr.NewError("unknown plan").
		WithHint("Plan is not present in the catalog").
		WithReportableDetails(map[string]any{"plan_id": planID}).
		Mark(ierr.ErrConfiguration)
}

// AllowedTargets returns the transition target set for the plan in the given
// direction
func (c *Catalog) AllowedTargets(planID string, direction TransitionDirection) ([]string, error) {
	p, err := c.Lookup(planID)
	if err != nil {
		return nil, err
	}
	switch direction {
	case TransitionDirectionUpgrade:
		return append([]string(nil), p.UpgradeTargets...), nil
	case TransitionDirectionDowngrade:
		return append([]string(nil), p.DowngradeTargets...), nil
	default:
		return nil, ierr.NewError("invalid transition direction").
			WithReportableDetails(map[string]any{"direction": direction}).
			Mark(ierr.ErrValidation)
	}
}

// List returns all plans in the current snapshot
func (c *Catalog) List() []*Plan {
	snap := c.snapshot.Load()
	return lo.Values(snap.plans)
}

func validateTransitionGraph(plans map[string]*Plan) error {
	for id, p := range plans {
		for _, target := range p.UpgradeTargets {
			t, ok := plans[target]
			if !ok {
				return unknownTargetErr(id, target, "upgrade")
			}
			if target == id {
				return selfTargetErr(id, "upgrade")
			}
			// an upgrade target must never be cheaper in any shared period
			for period, price := range p.Prices {
				if tp, ok := t.Prices[period]; ok && tp.LessThan(price) {
					return ierr.NewError("upgrade target is cheaper than source plan").
						WithHint("Plan catalog is misconfigured").
						WithReportableDetails(map[string]any{
							"plan_id":        id,
							"target_plan_id": target,
							"billing_period": period,
						}).
						Mark(ierr.ErrConfiguration)
				}
			}
		}
		for _, target := range p.DowngradeTargets {
			if _, ok := plans[target]; !ok {
				return unknownTargetErr(id, target, "downgrade")
			}
			if target == id {
				return selfTargetErr(id, "downgrade")
			}
		}
	}

	// cycle detection over the upgrade relation
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(plans))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return false
		case done:
			return true
		}
		state[id] = visiting
		for _, target := range plans[id].UpgradeTargets {
			if !visit(target) {
				return false
			}
		}
		state[id] = done
		return true
	}
	for id := range plans {
		if !visit(id) {
			return ierr.NewError("upgrade relation contains a cycle").
				WithHint("Plan catalog is misconfigured").
				WithReportableDetails(map[string]any{"plan_id": id}).
				Mark(ierr.ErrConfiguration)
		}
	}
	return nil
}

func unknownTargetErr(planID, target, direction string) error {
	return ierr.NewError("transition target not in catalog").
		WithHint("Plan catalog is misconfigured").
		WithReportableDetails(map[string]any{
			"plan_id":        planID,
			"target_plan_id": target,
			"direction":      direction,
		}).
		Mark(ierr.ErrConfiguration)
}

func selfTargetErr(planID, direction string) error {
	return ierr.NewError("plan lists itself as a transition target").
		WithHint("Plan catalog is misconfigured").
		WithReportableDetails(map[string]any{
			"plan_id":   planID,
			"direction": direction,
		}).
		Mark(ierr.ErrConfiguration)
}
