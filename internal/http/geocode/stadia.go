package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/google/go-querystring/query"
	"github.com/pkg/errors"
)

const (
	defaultStadiaBaseURL = "https://api.stadiamaps.com"
	searchEndpoint       = "/geocoding/v1/search"
)

// Client talks to the Stadia Maps geocoding API.
type Client struct {
	BaseURL    *url.URL
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(apiKey string) *Client {
	baseURL, _ := url.Parse(defaultStadiaBaseURL)
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
	}
}

// SearchQuery holds the search parameters sent as query string.
type SearchQuery struct {
	Text          string   `url:"text,omitempty"`
	Size          *int     `url:"size,omitempty"`
	Layers        []string `url:"layers,omitempty,comma"`
	FocusPointLat *float64 `url:"focus.point.lat,omitempty"`
	FocusPointLon *float64 `url:"focus.point.lon,omitempty"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type     string `json:"type"`
	Geometry *struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Point returns the feature's location, or nil when it has no point geometry.
func (f Feature) Point() *model.GeoPoint {
	if f.Geometry == nil || len(f.Geometry.Coordinates) < 2 {
		return nil
	}
	return &model.GeoPoint{
		Latitude:  f.Geometry.Coordinates[1],
		Longitude: f.Geometry.Coordinates[0],
	}
}

func (c *Client) buildURL(endpoint string, queryParams interface{}) (string, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint")
	}
	u := c.BaseURL.ResolveReference(rel)

	q := u.Query()
	q.Set("api_key", c.APIKey)

	if queryParams != nil {
		v, err := query.Values(queryParams)
		if err != nil {
			return "", errors.Wrap(err, "encode query parameters")
		}
		for k, vals := range v {
			for _, val := range vals {
				q.Add(k, val)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Search performs forward geocoding of free text.
func (c *Client) Search(ctx context.Context, text string, params *SearchQuery) (*FeatureCollection, error) {
	if params == nil {
		params = &SearchQuery{}
	}
	params.Text = text

	reqURL, err := c.buildURL(searchEndpoint, params)
	if err != nil {
		return nil, errors.Wrap(err, "build search URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create search request")
	}

	var result FeatureCollection
	if err := c.do(req, &result); err != nil {
		return nil, errors.Wrap(err, "execute search request")
	}
	return &result, nil
}

// Geocode resolves an activity's location text to the best matching point.
// It returns nil without error when nothing matched.
func (c *Client) Geocode(ctx context.Context, text string) (*model.GeoPoint, error) {
	size := 1
	result, err := c.Search(ctx, text, &SearchQuery{Size: &size})
	if err != nil {
		return nil, err
	}
	for _, f := range result.Features {
		if p := f.Point(); p != nil {
			return p, nil
		}
	}
	return nil, nil
}

func (c *Client) do(req *http.Request, v interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "execute HTTP request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}
