// Package sensor pulls windowed telemetry reports from the sensor fleet API
// and parses them into source-neutral records. One request per call, no
// retries, no storage access.
package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"coldtrack/source"
)

// Client talks to the sensor report endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// Wire shapes for the sensor report API.
type reportResponse struct {
	Reports []report `json:"reports"`
}

type report struct {
	Timestamp      string   `json:"timestamp"`
	EpochTimestamp *int64   `json:"epochTimestamp,omitempty"`
	Temperature    *float64 `json:"temperature"`
	Humidity       float64  `json:"humidity"`
	Location       string   `json:"location"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// FetchWindow pulls all reports for one sensor inside the window.
func (c *Client) FetchWindow(ctx context.Context, sensorRef string, window source.Window) ([]source.SensorRecord, error) {
	if sensorRef == "" {
		return nil, fmt.Errorf("sensor: empty sensor ref")
	}
	if !window.To.After(window.From) {
		return nil, fmt.Errorf("sensor: empty window")
	}

	endpoint := fmt.Sprintf("%s/rest/2/sensors/%s/reports?%s", c.baseURL, url.PathEscape(sensorRef), url.Values{
		"from": []string{window.From.UTC().Format(time.RFC3339)},
		"to":   []string{window.To.UTC().Format(time.RFC3339)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("sensor: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sensor: %w: %v", source.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("sensor: %w: status %d", source.ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sensor: %w: status %d", source.ErrMalformedPayload, resp.StatusCode)
	}

	var parsed reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("sensor: %w: decode: %v", source.ErrMalformedPayload, err)
	}

	records := make([]source.SensorRecord, 0, len(parsed.Reports))
	for _, rep := range parsed.Reports {
		if rep.Temperature == nil {
			return nil, fmt.Errorf("sensor: %w: report without temperature", source.ErrMalformedPayload)
		}
		if rep.Timestamp == "" && rep.EpochTimestamp == nil {
			return nil, fmt.Errorf("sensor: %w: report without timestamp", source.ErrMalformedPayload)
		}

		loc := source.RawLocation{Place: rep.Location}
		if rep.Latitude != nil && rep.Longitude != nil {
			loc = source.RawLocation{HasCoord: true, Lat: *rep.Latitude, Lon: *rep.Longitude}
		}

		records = append(records, source.SensorRecord{
			SensorID:    sensorRef,
			Temperature: *rep.Temperature,
			Humidity:    rep.Humidity,
			Location:    loc,
			Timestamp:   source.RawTimestamp{Text: rep.Timestamp, Epoch: rep.EpochTimestamp},
		})
	}

	return records, nil
}
