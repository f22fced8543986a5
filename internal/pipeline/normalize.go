package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/openairdata/enviro-etl/internal/adapter/parquetfile"
	"github.com/openairdata/enviro-etl/internal/adapter/staging"
	"github.com/openairdata/enviro-etl/internal/domain"
	"github.com/openairdata/enviro-etl/internal/observability"
)

// MeasurementStore is the warehouse surface the normalizer needs: the city
// registry lookup and the transactional measurement load.
type MeasurementStore interface {
	CityID(ctx context.Context, name, countryCode string) (int64, bool, error)
	InsertMeasurements(ctx context.Context, rows []domain.Measurement) error
}

// Normalizer turns downloaded measurement files into warehouse rows. Files
// are processed by a bounded worker pool; each file's failure is contained
// to its own task.
type Normalizer struct {
	tree    *staging.Tree
	vocab   *domain.Vocabulary
	store   MeasurementStore
	decode  func(path string) ([]domain.RawMeasurement, error)
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewNormalizer creates the normalization stage.
func NewNormalizer(tree *staging.Tree, vocab *domain.Vocabulary, store MeasurementStore, workers int, logger *slog.Logger, metrics *observability.Metrics) *Normalizer {
	return &Normalizer{
		tree:    tree,
		vocab:   vocab,
		store:   store,
		decode:  parquetfile.ReadMeasurements,
		workers: workers,
		logger:  logger,
		metrics: metrics,
	}
}

type normalizeTask struct {
	path string
	info staging.LocationInfo
}

// Run processes every downloaded measurement file under the staging tree.
func (n *Normalizer) Run(ctx context.Context) error {
	dirs, err := n.tree.MeasurementDirs()
	if err != nil {
		return err
	}

	var tasks []normalizeTask
	for _, dir := range dirs {
		info, err := staging.ReadInfo(dir.Dir)
		if err != nil {
			n.logger.Warn("location info unreadable, skipping directory", "dir", dir.Dir, "error", err)
			continue
		}
		for _, file := range dir.Files {
			// Files already committed in an earlier run are resumed past.
			if staging.IsLoaded(file) {
				n.metrics.FilesProcessed.WithLabelValues("resumed").Inc()
				continue
			}
			tasks = append(tasks, normalizeTask{path: file, info: info})
		}
	}
	n.logger.Info("normalization starting", "files", len(tasks), "workers", n.workers)

	var wg sync.WaitGroup
	sem := make(chan struct{}, n.workers)
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(task normalizeTask) {
			defer wg.Done()
			defer func() { <-sem }()
			n.processFile(ctx, task)
		}(task)
	}
	wg.Wait()
	return ctx.Err()
}

// processFile runs the full decode-normalize-resolve-load sequence for one
// file. A panic in any step is contained to this file's task.
func (n *Normalizer) processFile(ctx context.Context, task normalizeTask) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic while processing file", "file", task.path, "panic", r)
			n.metrics.FilesProcessed.WithLabelValues("error").Inc()
		}
	}()

	records, err := n.decode(task.path)
	if err != nil {
		n.logger.Warn("measurement file unreadable", "file", task.path, "error", err)
		n.metrics.FilesProcessed.WithLabelValues("error").Inc()
		return
	}

	rows, err := domain.Normalize(records, n.vocab)
	if errors.Is(err, domain.ErrMixedPollutants) {
		n.logger.Warn("mixed pollutant ids in file, skipping", "file", task.path)
		n.metrics.FilesProcessed.WithLabelValues("skipped").Inc()
		return
	}
	if err != nil {
		n.logger.Warn("normalization failed", "file", task.path, "error", err)
		n.metrics.FilesProcessed.WithLabelValues("error").Inc()
		return
	}
	if len(rows) == 0 {
		n.markLoaded(task.path)
		n.metrics.FilesProcessed.WithLabelValues("empty").Inc()
		return
	}

	// A missing iso2 mapping leaves iso3 empty, which misses the city
	// lookup below and takes the same skip path as an unknown city.
	iso3, _ := n.vocab.CountryISO3(task.info.CountryCode)
	cityID, ok, err := n.store.CityID(ctx, task.info.CityName, iso3)
	if err != nil {
		n.logger.Error("city lookup failed", "file", task.path,
			"city", task.info.CityName, "country", iso3, "error", err)
		n.metrics.FilesProcessed.WithLabelValues("error").Inc()
		return
	}
	if !ok {
		n.logger.Warn("no city id found, skipping file",
			"city", task.info.CityName, "country", iso3, "file", task.path)
		n.metrics.FilesProcessed.WithLabelValues("skipped").Inc()
		return
	}

	for i := range rows {
		rows[i].CityID = cityID
	}

	if err := n.store.InsertMeasurements(ctx, rows); err != nil {
		n.logger.Error("measurement load failed, transaction rolled back",
			"file", task.path, "rows", len(rows), "error", err)
		n.metrics.FilesProcessed.WithLabelValues("error").Inc()
		n.metrics.LoadErrors.Inc()
		return
	}

	n.markLoaded(task.path)
	n.metrics.FilesProcessed.WithLabelValues("loaded").Inc()
	n.metrics.RowsLoaded.Add(float64(len(rows)))
}

// markLoaded records that this file's rows are committed so the next run
// resumes past it instead of appending them again.
func (n *Normalizer) markLoaded(path string) {
	if err := staging.MarkLoaded(path); err != nil {
		n.logger.Warn("could not mark file as loaded", "file", path, "error", err)
	}
}
