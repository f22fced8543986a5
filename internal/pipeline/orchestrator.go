package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
	"github.com/openairdata/enviro-etl/internal/domain"
	"github.com/openairdata/enviro-etl/internal/observability"
)

// ReferenceStore loads the reference tables the air quality measurements
// point at.
type ReferenceStore interface {
	CityKeys(ctx context.Context) (map[warehouse.City]struct{}, error)
	InsertCities(ctx context.Context, rows []warehouse.City) error
	DistinctChemicalCodes(ctx context.Context) (map[string]struct{}, error)
	InsertChemicals(ctx context.Context, rows []domain.Chemical) error
	DistinctMeasureUnitCodes(ctx context.Context) (map[string]struct{}, error)
	InsertMeasureUnits(ctx context.Context, rows []domain.MeasureUnit) error
}

// Orchestrator runs the air quality stages in order: reference loads,
// manifest discovery, bulk download and normalization. Each stage finishes
// before the next starts so the staging tree and the warehouse stay
// consistent with each other.
type Orchestrator struct {
	catalog    *Catalog
	links      *LinkFetcher
	downloader *Downloader
	normalizer *Normalizer
	vocab      *domain.Vocabulary
	units      []domain.MeasureUnit
	store      ReferenceStore
	datasets   []domain.Dataset
	logger     *slog.Logger
	metrics    *observability.Metrics

	ready atomic.Bool
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	catalog *Catalog,
	links *LinkFetcher,
	downloader *Downloader,
	normalizer *Normalizer,
	vocab *domain.Vocabulary,
	units []domain.MeasureUnit,
	store ReferenceStore,
	datasets []domain.Dataset,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		catalog:    catalog,
		links:      links,
		downloader: downloader,
		normalizer: normalizer,
		vocab:      vocab,
		units:      units,
		store:      store,
		datasets:   datasets,
		logger:     logger,
		metrics:    metrics,
	}
}

// SelectedDatasets maps the per-tier configuration switches onto the dataset
// list the discovery stage iterates.
func SelectedDatasets(unverified, verified, historical bool) []domain.Dataset {
	var out []domain.Dataset
	if unverified {
		out = append(out, domain.Dataset1)
	}
	if verified {
		out = append(out, domain.Dataset2)
	}
	if historical {
		out = append(out, domain.Dataset3)
	}
	return out
}

// CheckReadiness reports whether the pipeline has made it past the catalog
// stage, which proves both the discovery API and the warehouse are reachable.
func (o *Orchestrator) CheckReadiness(ctx context.Context) error {
	if !o.ready.Load() {
		return fmt.Errorf("pipeline has not completed the catalog stage")
	}
	return nil
}

// Run executes the full air quality sequence. It returns an error only when
// the country catalog cannot be fetched or the context is cancelled; every
// other failure is logged and the run continues with what it has.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)

	var locations []domain.Location
	err := o.stage(ctx, "catalog", func(ctx context.Context) error {
		var err error
		locations, err = o.catalog.Locations(ctx)
		return err
	})
	if err != nil {
		return err
	}
	o.ready.Store(true)

	if err := o.stage(ctx, "cities", func(ctx context.Context) error {
		return o.loadCities(ctx, locations)
	}); err != nil {
		o.logger.Error("city load failed", "error", err)
	}
	if err := o.stage(ctx, "chemicals", o.loadChemicals); err != nil {
		o.logger.Error("chemical load failed", "error", err)
	}
	if err := o.stage(ctx, "units", o.loadMeasureUnits); err != nil {
		o.logger.Error("measure unit load failed", "error", err)
	}

	if err := o.stage(ctx, "discovery", func(ctx context.Context) error {
		return o.links.Fetch(ctx, locations, o.datasets)
	}); err != nil {
		return err
	}
	if err := o.stage(ctx, "download", o.downloader.Run); err != nil {
		return err
	}
	return o.stage(ctx, "normalize", o.normalizer.Run)
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := prometheus.NewTimer(o.metrics.StageDuration.WithLabelValues(name))
	defer timer.ObserveDuration()

	o.logger.Info("stage started", "stage", name)
	if err := fn(ctx); err != nil {
		return err
	}
	o.logger.Info("stage finished", "stage", name)
	return nil
}

// loadCities registers every discovered city under its ISO-3 country code,
// skipping locations whose country has no ISO-3 mapping and cities the
// warehouse already knows about.
func (o *Orchestrator) loadCities(ctx context.Context, locations []domain.Location) error {
	existing, err := o.store.CityKeys(ctx)
	if err != nil {
		return err
	}

	var rows []warehouse.City
	seen := make(map[warehouse.City]struct{}, len(locations))
	unmapped := 0
	for _, loc := range locations {
		iso3, ok := o.vocab.CountryISO3(loc.CountryCode)
		if !ok {
			unmapped++
			continue
		}
		row := warehouse.City{Name: loc.CityName, CountryCode: iso3}
		if _, dup := seen[row]; dup {
			continue
		}
		seen[row] = struct{}{}
		if _, known := existing[row]; known {
			continue
		}
		rows = append(rows, row)
	}
	if unmapped > 0 {
		o.logger.Warn("locations without ISO-3 mapping skipped", "count", unmapped)
	}
	if err := o.store.InsertCities(ctx, rows); err != nil {
		return err
	}
	o.logger.Info("cities loaded", "inserted", len(rows), "known", len(existing))
	return nil
}

func (o *Orchestrator) loadChemicals(ctx context.Context) error {
	existing, err := o.store.DistinctChemicalCodes(ctx)
	if err != nil {
		return err
	}
	var rows []domain.Chemical
	for _, c := range o.vocab.Chemicals() {
		if _, known := existing[c.Code]; known {
			continue
		}
		rows = append(rows, c)
	}
	if err := o.store.InsertChemicals(ctx, rows); err != nil {
		return err
	}
	o.logger.Info("chemicals loaded", "inserted", len(rows))
	return nil
}

func (o *Orchestrator) loadMeasureUnits(ctx context.Context) error {
	existing, err := o.store.DistinctMeasureUnitCodes(ctx)
	if err != nil {
		return err
	}
	var rows []domain.MeasureUnit
	for _, u := range o.units {
		if _, known := existing[u.Code]; known {
			continue
		}
		rows = append(rows, u)
	}
	if err := o.store.InsertMeasureUnits(ctx, rows); err != nil {
		return err
	}
	o.logger.Info("measure units loaded", "inserted", len(rows))
	return nil
}
