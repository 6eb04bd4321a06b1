// Package resources finds mental-health help near a US postal code. Every
// failure degrades to a fixed set of national hotlines and directories.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"lyra/internal/domain"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api"

	searchRadiusMeters = 16000
	searchKeyword      = "therapist psychologist counselor"
	searchType         = "health"
	maxResults         = 8
	detailsConcurrency = 4
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 4 << 20
)

var (
	ErrNoAPIKey    = errors.New("no maps api key configured")
	ErrInvalidZip  = errors.New("zip must be five digits")
	ErrNoLocation  = errors.New("zip could not be geocoded")
	ErrAPIStatus   = errors.New("maps api returned non-OK status")
	ErrHTTPFailure = errors.New("maps api request failed")
)

var zipPattern = regexp.MustCompile(`^\d{5}$`)

var fallbackResources = []domain.FallbackResource{
	{Name: "988 Suicide & Crisis Lifeline", Description: "Free, confidential 24/7 support", Contact: "Call or text 988"},
	{Name: "Crisis Text Line", Description: "Free crisis counseling via text", Contact: "Text HOME to 741741"},
	{Name: "SAMHSA National Helpline", Description: "Free referral and information service", Contact: "1-800-662-4357"},
	{Name: "Psychology Today Therapist Directory", Description: "Search for therapists by location", Contact: "https://www.psychologytoday.com/us/therapists"},
	{Name: "Open Path Collective", Description: "Affordable therapy sessions", Contact: "https://openpathcollective.org"},
}

// FallbackResources returns a copy of the always-available resource list.
func FallbackResources() []domain.FallbackResource {
	out := make([]domain.FallbackResource, len(fallbackResources))
	copy(out, fallbackResources)
	return out
}

type Config struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// Finder queries the Google Geocoding and Places APIs.
type Finder struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewFinder(cfg Config, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Finder{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		client:  client,
		logger:  logger.With("component", "resources"),
	}
}

func (f *Finder) Fallback() domain.ResourceResults {
	return domain.ResourceResults{
		Type:              domain.ResourceKindFallback,
		FallbackResources: FallbackResources(),
	}
}

// Lookup never fails: any error is logged and the fallback set returned.
func (f *Finder) Lookup(ctx context.Context, zip string) domain.ResourceResults {
	results, err := f.lookup(ctx, strings.TrimSpace(zip))
	if err != nil {
		f.logger.Warn("resource lookup fell back", "error", err)
		return f.Fallback()
	}
	return results
}

func (f *Finder) lookup(ctx context.Context, zip string) (domain.ResourceResults, error) {
	if f.apiKey == "" {
		return domain.ResourceResults{}, ErrNoAPIKey
	}
	if !zipPattern.MatchString(zip) {
		return domain.ResourceResults{}, ErrInvalidZip
	}

	lat, lng, err := f.geocode(ctx, zip)
	if err != nil {
		return domain.ResourceResults{}, err
	}
	therapists, err := f.nearby(ctx, lat, lng)
	if err != nil {
		return domain.ResourceResults{}, err
	}
	if len(therapists) == 0 {
		return f.Fallback(), nil
	}

	f.logger.Info("resource lookup succeeded", "results", len(therapists))
	return domain.ResourceResults{
		Type:              domain.ResourceKindResults,
		Therapists:        therapists,
		FallbackResources: FallbackResources(),
		CenterLat:         &lat,
		CenterLng:         &lng,
	}, nil
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geometry struct {
	Location *latLng `json:"location"`
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry geometry `json:"geometry"`
	} `json:"results"`
}

type nearbyResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Name     string   `json:"name"`
		Vicinity string   `json:"vicinity"`
		PlaceID  string   `json:"place_id"`
		Rating   *float64 `json:"rating"`
		Geometry geometry `json:"geometry"`
	} `json:"results"`
}

type detailsResponse struct {
	Result struct {
		Phone string `json:"formatted_phone_number"`
	} `json:"result"`
}

func (f *Finder) geocode(ctx context.Context, zip string) (float64, float64, error) {
	var resp geocodeResponse
	if err := f.get(ctx, "/geocode/json", url.Values{"address": {zip}}, &resp); err != nil {
		return 0, 0, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return 0, 0, fmt.Errorf("%w: geocode %s %s", ErrAPIStatus, resp.Status, resp.ErrorMessage)
	}
	loc := resp.Results[0].Geometry.Location
	if loc == nil {
		return 0, 0, ErrNoLocation
	}
	return loc.Lat, loc.Lng, nil
}

func (f *Finder) nearby(ctx context.Context, lat, lng float64) ([]domain.Therapist, error) {
	params := url.Values{
		"location": {fmt.Sprintf("%g,%g", lat, lng)},
		"radius":   {fmt.Sprint(searchRadiusMeters)},
		"keyword":  {searchKeyword},
		"type":     {searchType},
	}
	var resp nearbyResponse
	if err := f.get(ctx, "/place/nearbysearch/json", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		f.logger.Warn("places search returned nothing", "status", resp.Status, "error_message", resp.ErrorMessage)
		return nil, nil
	}

	places := resp.Results
	if len(places) > maxResults {
		places = places[:maxResults]
	}

	therapists := make([]domain.Therapist, len(places))
	var group errgroup.Group
	group.SetLimit(detailsConcurrency)
	for i, place := range places {
		therapists[i] = domain.Therapist{
			Name:    place.Name,
			Address: place.Vicinity,
			Rating:  place.Rating,
		}
		if loc := place.Geometry.Location; loc != nil {
			therapists[i].Lat = loc.Lat
			therapists[i].Lng = loc.Lng
		}
		if place.PlaceID == "" {
			continue
		}
		group.Go(func() error {
			phone, err := f.phone(ctx, place.PlaceID)
			if err != nil {
				f.logger.Debug("place details failed", "error", err)
				return nil
			}
			therapists[i].Phone = phone
			return nil
		})
	}
	_ = group.Wait()
	return therapists, nil
}

func (f *Finder) phone(ctx context.Context, placeID string) (string, error) {
	params := url.Values{
		"place_id": {placeID},
		"fields":   {"formatted_phone_number"},
	}
	var resp detailsResponse
	if err := f.get(ctx, "/place/details/json", params, &resp); err != nil {
		return "", err
	}
	return resp.Result.Phone, nil
}

func (f *Finder) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", f.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTTPFailure, err)
	}
	res, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTTPFailure, redactKey(err.Error(), f.apiKey))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrHTTPFailure, path, res.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func redactKey(text, key string) string {
	if key == "" {
		return text
	}
	text = strings.ReplaceAll(text, url.QueryEscape(key), "REDACTED")
	return strings.ReplaceAll(text, key, "REDACTED")
}
