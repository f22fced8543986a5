// Package staging manages the on-disk staging tree shared by manifest
// discovery, bulk download, and normalization.
//
// The tree is keyed by country code and sanitized city name:
//
//	root/{iso2}/{city}/urlFiles{dataset}.csv   manifest of parquet URLs
//	root/{iso2}/{city}/info.txt                city name + country code
//	root/{iso2}/{city}/{segment}_{base}.parquet downloaded measurement files
//
// Existence of a manifest or downloaded file marks that unit of work as
// done, which is what makes interrupted runs resumable. Distinct workers
// always target distinct paths, so no locking is needed.
package staging

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/openairdata/enviro-etl/internal/domain"
)

const (
	infoFileName   = "info.txt"
	manifestPrefix = "urlFiles"
	manifestColumn = "ParquetFileUrl"
)

// LocationInfo is the metadata record stored next to each location's files.
type LocationInfo struct {
	CityName    string
	CountryCode string // ISO 3166-1 alpha-2
}

// MeasurementDir is one staging directory ready for normalization.
type MeasurementDir struct {
	Dir   string
	Files []string // parquet file paths
}

// Tree is the staging layout rooted at a single directory.
type Tree struct {
	root string
}

// NewTree creates a Tree rooted at root. The directory is created lazily.
func NewTree(root string) *Tree {
	return &Tree{root: root}
}

// Root returns the tree's root directory.
func (t *Tree) Root() string {
	return t.root
}

// LocationDir returns the directory for one (country, city) pair, creating
// it if necessary.
func (t *Tree) LocationDir(countryCode, cityName string) (string, error) {
	dir := filepath.Join(t.root, countryCode, domain.SanitizeCityName(cityName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// ManifestName returns the manifest file name for a dataset, e.g.
// "urlFiles1.csv". The same name is used for daily and hourly manifests so
// the hourly fallback overwrites nothing but its own empty predecessor.
func ManifestName(ds domain.Dataset) string {
	return fmt.Sprintf("%s%d.csv", manifestPrefix, ds)
}

// HasManifest reports whether a manifest for the dataset already exists in
// dir, the resumability check for discovery.
func (t *Tree) HasManifest(dir string, ds domain.Dataset) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestName(ds)))
	return err == nil
}

// WriteManifest persists a raw manifest payload for one dataset.
func (t *Tree) WriteManifest(dir string, ds domain.Dataset, payload []byte) error {
	if err := os.WriteFile(filepath.Join(dir, ManifestName(ds)), payload, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// WriteInfo records the location metadata file if it is not already present.
func (t *Tree) WriteInfo(dir string, info LocationInfo) error {
	p := filepath.Join(dir, infoFileName)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	content := info.CityName + "\n" + info.CountryCode
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", infoFileName, err)
	}
	return nil
}

// ReadInfo loads the location metadata record from a staging directory.
func ReadInfo(dir string) (LocationInfo, error) {
	f, err := os.Open(filepath.Join(dir, infoFileName))
	if err != nil {
		return LocationInfo{}, fmt.Errorf("read %s: %w", infoFileName, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return LocationInfo{}, fmt.Errorf("read %s: %w", infoFileName, err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return LocationInfo{}, fmt.Errorf("malformed %s in %s", infoFileName, dir)
	}
	return LocationInfo{CityName: lines[0], CountryCode: lines[1]}, nil
}

// ManifestDirs walks the tree and returns every directory holding at least
// one manifest file.
func (t *Tree) ManifestDirs() ([]string, error) {
	return t.walkDirs(func(names []string) bool {
		for _, name := range names {
			if isManifest(name) {
				return true
			}
		}
		return false
	})
}

// MeasurementDirs walks the tree and returns every directory holding at
// least one downloaded parquet file, along with those files.
func (t *Tree) MeasurementDirs() ([]MeasurementDir, error) {
	var out []MeasurementDir
	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return err
		}
		var files []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".parquet") {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
		if len(files) > 0 {
			out = append(out, MeasurementDir{Dir: p, Files: files})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk staging tree: %w", err)
	}
	return out, nil
}

// loadedSuffix marks a measurement file whose rows are committed to the
// warehouse, so reruns can resume past it.
const loadedSuffix = ".loaded"

// MarkLoaded places the sidecar marker next to a processed measurement file.
func MarkLoaded(file string) error {
	if err := os.WriteFile(file+loadedSuffix, nil, 0o644); err != nil {
		return fmt.Errorf("write loaded marker: %w", err)
	}
	return nil
}

// IsLoaded reports whether a measurement file carries the loaded marker.
func IsLoaded(file string) bool {
	_, err := os.Stat(file + loadedSuffix)
	return err == nil
}

// ManifestURLs unions the URLs of every manifest in dir, de-duplicated in
// first-seen order. Empty cells are skipped.
func ManifestURLs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	seen := make(map[string]struct{})
	var urls []string
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}
		fileURLs, err := readManifest(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, u := range fileURLs {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// LocalFileName derives the on-disk name for a remote parquet URL. Basenames
// collide across sampling points, so the third-to-last path segment is
// prefixed; the query string is dropped.
func LocalFileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "", fmt.Errorf("file url %q has no basename", rawURL)
	}
	if len(segments) >= 3 {
		return segments[len(segments)-3] + "_" + base, nil
	}
	return base, nil
}

func (t *Tree) walkDirs(match func(names []string) bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		if match(names) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk staging tree: %w", err)
	}
	return out, nil
}

func isManifest(name string) bool {
	return strings.HasPrefix(name, manifestPrefix) && strings.HasSuffix(name, ".csv")
}

func readManifest(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", file, err)
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == manifestColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("manifest %s: missing column %q", file, manifestColumn)
	}

	var urls []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", file, err)
		}
		if u := strings.TrimSpace(row[col]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}
