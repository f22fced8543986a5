package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openairdata/enviro-etl/internal/adapter/staging"
	"github.com/openairdata/enviro-etl/internal/observability"
)

// downloadChunkSize is the write granularity when streaming a file to disk.
const downloadChunkSize = 1024

// Downloader drains every staged manifest and fetches the referenced files
// with a bounded worker pool. Each file is an independent failure domain: a
// failed download is logged, its partial output removed, and the next run
// picks it up again through the existence check.
type Downloader struct {
	tree       *staging.Tree
	httpClient *http.Client
	workers    int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewDownloader creates the bulk download stage. timeout bounds each
// individual file request.
func NewDownloader(tree *staging.Tree, workers int, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Downloader {
	return &Downloader{
		tree:       tree,
		httpClient: &http.Client{Timeout: timeout},
		workers:    workers,
		logger:     logger,
		metrics:    metrics,
	}
}

type downloadTask struct {
	url string
	dir string
}

// Run walks the staging tree and downloads every manifest URL that is not
// already materialized. URLs are de-duplicated per directory, where
// co-located manifests for the same location are unioned.
func (d *Downloader) Run(ctx context.Context) error {
	dirs, err := d.tree.ManifestDirs()
	if err != nil {
		return err
	}

	var tasks []downloadTask
	for _, dir := range dirs {
		urls, err := staging.ManifestURLs(dir)
		if err != nil {
			d.logger.Error("manifest unreadable, skipping directory", "dir", dir, "error", err)
			continue
		}
		for _, u := range urls {
			tasks = append(tasks, downloadTask{url: u, dir: dir})
		}
	}
	d.logger.Info("bulk download starting", "files", len(tasks), "workers", d.workers)

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.workers)
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(task downloadTask) {
			defer wg.Done()
			defer func() { <-sem }()
			d.downloadOne(ctx, task)
		}(task)
	}
	wg.Wait()
	return ctx.Err()
}

func (d *Downloader) downloadOne(ctx context.Context, task downloadTask) {
	name, err := staging.LocalFileName(task.url)
	if err != nil {
		d.logger.Warn("unusable file url", "url", task.url, "error", err)
		d.metrics.Downloads.WithLabelValues("error").Inc()
		return
	}
	dest := filepath.Join(task.dir, name)

	if _, err := os.Stat(dest); err == nil {
		d.metrics.Downloads.WithLabelValues("skipped").Inc()
		return
	}

	start := time.Now()
	n, err := d.fetch(ctx, task.url, dest)
	if err != nil {
		// Leave no partial file behind so the next run retries this URL.
		_ = os.Remove(dest)
		d.logger.Warn("download failed", "url", task.url, "error", err)
		d.metrics.Downloads.WithLabelValues("error").Inc()
		return
	}

	d.metrics.Downloads.WithLabelValues("done").Inc()
	d.metrics.DownloadBytes.Add(float64(n))
	d.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
}

func (d *Downloader) fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	n, err := io.CopyBuffer(f, resp.Body, make([]byte, downloadChunkSize))
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("stream body: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dest, err)
	}
	return n, nil
}
