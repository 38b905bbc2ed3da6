package service

import (
	"context"
	"encoding/json"
	"os"

	"github.com/flexprice/subsync/internal/domain/plan"
	ierr "github.com/flexprice/subsync/internal/errors"
)

// PlanService exposes the catalog read surface and the reload operation
type PlanService interface {
	ListPlans(ctx context.Context) ([]*plan.Plan, error)
	GetPlan(ctx context.Context, planID string) (*plan.Plan, error)
	CatalogVersion(ctx context.Context) int64

	// ReloadCatalog re-reads the catalog definition file and atomically
	// swaps the snapshot. A definition that fails validation leaves the
	// current snapshot in place.
	ReloadCatalog(ctx context.Context) (int64, error)
}

// catalogFile is the on-disk shape of the catalog definition
type catalogFile struct {
	FreePlanID string       `json:"free_plan_id"`
	Plans      []*plan.Plan `json:"plans"`
}

type planService struct {
	ServiceParams
}

// NewPlanService creates the catalog service
func NewPlanService(params ServiceParams) PlanService {
	return &planService{ServiceParams: params}
}

func (s *planService) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	return s.Catalog.List(), nil
}

func (s *planService) GetPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	return s.Catalog.Lookup(planID)
}

func (s *planService) CatalogVersion(ctx context.Context) int64 {
	return s.Catalog.Version()
}

func (s *planService) ReloadCatalog(ctx context.Context) (int64, error) {
	if err := LoadCatalogFromFile(s.Catalog, s.Config.Catalog.Path); err != nil {
		return 0, err
	}
	version := s.Catalog.Version()
	s.Logger.Infow("reloaded plan catalog",
		"path", s.Config.Catalog.Path,
		"version", version,
		"plans", len(s.Catalog.List()))
	return version, nil
}

// LoadCatalogFromFile reads a catalog definition file and loads it into the
// catalog. Used both at startup and on explicit reload.
func LoadCatalogFromFile(catalog *plan.Catalog, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Could not read plan catalog file %s", path).
			Mark(ierr.ErrConfiguration)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ierr.WithError(err).
			WithHint("Plan catalog file is not valid JSON").
			Mark(ierr.ErrConfiguration)
	}

	return catalog.Load(file.Plans, file.FreePlanID)
}
