package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairdata/enviro-etl/internal/adapter/staging"
	"github.com/openairdata/enviro-etl/internal/domain"
	"github.com/openairdata/enviro-etl/internal/observability"
	"github.com/openairdata/enviro-etl/internal/pipeline"
)

type countingFileServer struct {
	mu    sync.Mutex
	hits  map[string]int
	serve func(w http.ResponseWriter, path string)
}

func newCountingFileServer() *countingFileServer {
	return &countingFileServer{
		hits: make(map[string]int),
		serve: func(w http.ResponseWriter, path string) {
			_, _ = w.Write([]byte("parquet-bytes:" + path))
		},
	}
}

func (s *countingFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()
	s.serve(w, r.URL.Path)
}

func (s *countingFileServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.hits {
		n += c
	}
	return n
}

func writeManifest(t *testing.T, tree *staging.Tree, ds domain.Dataset, urls ...string) string {
	t.Helper()
	dir, err := tree.LocationDir("DE", "Berlin")
	require.NoError(t, err)
	payload := "ParquetFileUrl\n" + strings.Join(urls, "\n") + "\n"
	require.NoError(t, tree.WriteManifest(dir, ds, []byte(payload)))
	return dir
}

func TestDownloader_FetchesEveryUniqueURL(t *testing.T) {
	files := newCountingFileServer()
	srv := httptest.NewServer(files)
	defer srv.Close()

	tree := staging.NewTree(t.TempDir())
	urlA := srv.URL + "/pq/E1a/DE_a.parquet"
	urlB := srv.URL + "/pq/E1a/DE_b.parquet"
	urlC := srv.URL + "/pq/E2a/DE_c.parquet"
	dir := writeManifest(t, tree, domain.Dataset1, urlA, urlB)
	// The second manifest overlaps the first; the union must fetch each
	// unique URL once.
	writeManifest(t, tree, domain.Dataset2, urlB, urlC)

	metrics := observability.NewMetricsForTesting()
	d := pipeline.NewDownloader(tree, 4, 5*time.Second, testLogger(), metrics)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 3, files.total())
	for _, name := range []string{"pq_DE_a.parquet", "pq_DE_b.parquet", "pq_DE_c.parquet"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.True(t, strings.HasPrefix(string(data), "parquet-bytes:"), name)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Downloads.WithLabelValues("done")))
}

func TestDownloader_SecondRunDownloadsNothing(t *testing.T) {
	files := newCountingFileServer()
	srv := httptest.NewServer(files)
	defer srv.Close()

	tree := staging.NewTree(t.TempDir())
	writeManifest(t, tree, domain.Dataset1,
		srv.URL+"/pq/E1a/DE_a.parquet",
		srv.URL+"/pq/E1a/DE_b.parquet")

	metrics := observability.NewMetricsForTesting()
	d := pipeline.NewDownloader(tree, 2, 5*time.Second, testLogger(), metrics)
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, 2, files.total())

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 2, files.total())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Downloads.WithLabelValues("skipped")))
}

func TestDownloader_FailedURLDoesNotStopOthers(t *testing.T) {
	files := newCountingFileServer()
	files.serve = func(w http.ResponseWriter, path string) {
		if strings.Contains(path, "broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("parquet-bytes:" + path))
	}
	srv := httptest.NewServer(files)
	defer srv.Close()

	tree := staging.NewTree(t.TempDir())
	dir := writeManifest(t, tree, domain.Dataset1,
		srv.URL+"/pq/E1a/DE_broken.parquet",
		srv.URL+"/pq/E1a/DE_good.parquet")

	metrics := observability.NewMetricsForTesting()
	d := pipeline.NewDownloader(tree, 2, 5*time.Second, testLogger(), metrics)
	require.NoError(t, d.Run(context.Background()))

	assert.FileExists(t, filepath.Join(dir, "pq_DE_good.parquet"))
	assert.NoFileExists(t, filepath.Join(dir, "pq_DE_broken.parquet"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Downloads.WithLabelValues("error")))
}

func TestDownloader_TruncatedBodyLeavesNoPartialFile(t *testing.T) {
	files := newCountingFileServer()
	files.serve = func(w http.ResponseWriter, path string) {
		// Announce more bytes than we send so the client hits an
		// unexpected EOF mid-stream.
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte("short"))
	}
	srv := httptest.NewServer(files)
	defer srv.Close()

	tree := staging.NewTree(t.TempDir())
	dir := writeManifest(t, tree, domain.Dataset1, srv.URL+"/pq/E1a/DE_cut.parquet")

	metrics := observability.NewMetricsForTesting()
	d := pipeline.NewDownloader(tree, 1, 5*time.Second, testLogger(), metrics)
	require.NoError(t, d.Run(context.Background()))

	assert.NoFileExists(t, filepath.Join(dir, "pq_DE_cut.parquet"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Downloads.WithLabelValues("error")))
}
