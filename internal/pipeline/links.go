package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/openairdata/enviro-etl/internal/adapter/staging"
	"github.com/openairdata/enviro-etl/internal/domain"
	"github.com/openairdata/enviro-etl/internal/observability"
)

// emptyManifestThreshold is the payload size at or below which the API's
// response is treated as "no data": an empty manifest still contains the
// CSV header line.
const emptyManifestThreshold = 16

// ManifestSource requests parquet manifests from the discovery API.
type ManifestSource interface {
	ParquetFileURLs(ctx context.Context, loc domain.Location, ds domain.Dataset, agg domain.Aggregation) ([]byte, error)
}

// LinkFetcher stages download manifests for every location and selected
// dataset. It runs sequentially to stay polite to the discovery endpoint;
// the fan-out happens later at download time.
type LinkFetcher struct {
	api     ManifestSource
	tree    *staging.Tree
	logger  *slog.Logger
	metrics *observability.Metrics
	delay   time.Duration
}

// NewLinkFetcher creates the manifest discovery stage. delay is the pause
// between consecutive manifest requests; zero disables pacing.
func NewLinkFetcher(api ManifestSource, tree *staging.Tree, logger *slog.Logger, metrics *observability.Metrics, delay time.Duration) *LinkFetcher {
	return &LinkFetcher{api: api, tree: tree, logger: logger, metrics: metrics, delay: delay}
}

// Fetch requests and stages a manifest for every (location, dataset) pair.
// Individual failures are logged and skipped; only context cancellation
// stops the stage.
func (f *LinkFetcher) Fetch(ctx context.Context, locations []domain.Location, datasets []domain.Dataset) error {
	for _, loc := range locations {
		for _, ds := range datasets {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.fetchOne(ctx, loc, ds)
		}
	}
	return nil
}

func (f *LinkFetcher) fetchOne(ctx context.Context, loc domain.Location, ds domain.Dataset) {
	dsLabel := strconv.Itoa(int(ds))

	dir, err := f.tree.LocationDir(loc.CountryCode, loc.CityName)
	if err != nil {
		f.logger.Error("staging dir unavailable", "country", loc.CountryCode, "city", loc.CityName, "error", err)
		f.metrics.ManifestRequests.WithLabelValues(dsLabel, "error").Inc()
		return
	}

	// A previously staged manifest marks this unit of work as done.
	if f.tree.HasManifest(dir, ds) {
		f.metrics.ManifestRequests.WithLabelValues(dsLabel, "resumed").Inc()
		return
	}

	payload, ok := f.request(ctx, loc, ds, domain.AggregationDay)
	if !ok {
		return
	}

	// Many stations publish hourly but not daily rollups. Dataset 3 is
	// excluded from the fallback: its hourly form is the terabyte-scale
	// raw archive.
	if len(payload) <= emptyManifestThreshold && ds != domain.Dataset3 {
		f.metrics.ManifestFallbacks.Inc()
		payload, ok = f.request(ctx, loc, ds, domain.AggregationHour)
		if !ok {
			return
		}
	}

	if len(payload) <= emptyManifestThreshold {
		f.metrics.ManifestRequests.WithLabelValues(dsLabel, "empty").Inc()
		return
	}

	if err := f.tree.WriteManifest(dir, ds, payload); err != nil {
		f.logger.Error("manifest write failed", "dir", dir, "error", err)
		f.metrics.ManifestRequests.WithLabelValues(dsLabel, "error").Inc()
		return
	}
	info := staging.LocationInfo{CityName: loc.CityName, CountryCode: loc.CountryCode}
	if err := f.tree.WriteInfo(dir, info); err != nil {
		f.logger.Error("location info write failed", "dir", dir, "error", err)
	}
	f.metrics.ManifestRequests.WithLabelValues(dsLabel, "saved").Inc()
}

// request performs one paced manifest request. The bool result is false
// when the request failed and the (location, dataset) should be skipped.
func (f *LinkFetcher) request(ctx context.Context, loc domain.Location, ds domain.Dataset, agg domain.Aggregation) ([]byte, bool) {
	if f.delay > 0 {
		clock.Sleep(f.delay)
	}
	payload, err := f.api.ParquetFileURLs(ctx, loc, ds, agg)
	if err != nil {
		f.logger.Warn("manifest request failed, skipping location",
			"country", loc.CountryCode, "city", loc.CityName,
			"dataset", int(ds), "aggregation", string(agg), "error", err)
		f.metrics.ManifestRequests.WithLabelValues(strconv.Itoa(int(ds)), "error").Inc()
		return nil, false
	}
	return payload, true
}
