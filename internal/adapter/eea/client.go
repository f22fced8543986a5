// Package eea talks to the EEA air quality downloads API.
package eea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openairdata/enviro-etl/internal/domain"
)

// Client implements the discovery endpoints of the EEA downloads API:
// country and city catalogs plus per-location parquet manifest requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an EEA API client. The timeout applies per request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Countries fetches the catalog of countries with published data.
func (c *Client) Countries(ctx context.Context) ([]domain.Country, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Country", nil)
	if err != nil {
		return nil, fmt.Errorf("create country request: %w", err)
	}

	var countries []domain.Country
	if err := c.doJSON(req, &countries); err != nil {
		return nil, fmt.Errorf("fetch countries: %w", err)
	}
	return countries, nil
}

// Cities fetches the cities published for one country code.
func (c *Client) Cities(ctx context.Context, countryCode string) ([]domain.City, error) {
	body, err := json.Marshal([]string{countryCode})
	if err != nil {
		return nil, fmt.Errorf("encode city request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/City", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create city request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var cities []domain.City
	if err := c.doJSON(req, &cities); err != nil {
		return nil, fmt.Errorf("fetch cities for %s: %w", countryCode, err)
	}
	return cities, nil
}

// manifestRequest is the wire form of a parquet manifest query. Pollutants
// is always empty: the pipeline takes every pollutant a location publishes.
type manifestRequest struct {
	Countries       []string           `json:"countries"`
	Cities          []string           `json:"cities"`
	Pollutants      []string           `json:"pollutants"`
	Dataset         domain.Dataset     `json:"dataset"`
	AggregationType domain.Aggregation `json:"aggregationType"`
}

// ParquetFileURLs requests the manifest of downloadable parquet file URLs
// for one location/dataset/granularity and returns the raw response body
// (a one-column CSV). The caller decides whether the payload is empty.
func (c *Client) ParquetFileURLs(ctx context.Context, loc domain.Location, ds domain.Dataset, agg domain.Aggregation) ([]byte, error) {
	body, err := json.Marshal(manifestRequest{
		Countries:       []string{loc.CountryCode},
		Cities:          []string{loc.CityName},
		Pollutants:      []string{},
		Dataset:         ds,
		AggregationType: agg,
	})
	if err != nil {
		return nil, fmt.Errorf("encode manifest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ParquetFile/urls", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create manifest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("EEA API error: status %d: %s", resp.StatusCode, snippet)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest response: %w", err)
	}
	return payload, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("EEA API error: status %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
