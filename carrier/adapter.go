// Package carrier pulls tracking updates from the carrier's REST API and
// parses them into source-neutral records. It issues one request per call,
// never retries, and never touches storage.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"coldtrack/source"
)

// Client talks to the carrier tracking endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenSource
}

// NewClient builds a carrier client. The http.Client's timeout (or the
// caller's ctx deadline) bounds each request.
func NewClient(baseURL string, httpClient *http.Client, tokens *TokenSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient, tokens: tokens}
}

// Wire shapes for the carrier tracking API.
type trackRequest struct {
	IncludeDetailedScans bool        `json:"includeDetailedScans"`
	TrackingInfo         []trackInfo `json:"trackingInfo"`
}

type trackInfo struct {
	TrackingNumberInfo trackingNumberInfo `json:"trackingNumberInfo"`
}

type trackingNumberInfo struct {
	TrackingNumber string `json:"trackingNumber"`
}

type trackResponse struct {
	Output struct {
		CompleteTrackResults []trackResult `json:"completeTrackResults"`
	} `json:"output"`
}

type trackResult struct {
	TrackingNumber      string      `json:"trackingNumber"`
	OriginLocation      addressWrap `json:"originLocation"`
	DestinationLocation addressWrap `json:"destinationLocation"`
	ScanEvents          []scanEvent `json:"scanEvents"`
}

type addressWrap struct {
	Address struct {
		City string `json:"city"`
	} `json:"address"`
}

type scanEvent struct {
	Status       string       `json:"derivedStatus"`
	DateScan     string       `json:"dateScan"`
	EpochScan    *int64       `json:"epochScan,omitempty"`
	ScanLocation scanLocation `json:"scanLocation"`
}

type scanLocation struct {
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// FetchUpdate pulls the current tracking state for one tracking number.
// Transport failures map to ErrSourceUnavailable, undecodable or empty
// responses to ErrMalformedPayload.
func (c *Client) FetchUpdate(ctx context.Context, trackingNumber string) (source.CarrierRecord, error) {
	if trackingNumber == "" {
		return source.CarrierRecord{}, fmt.Errorf("carrier: empty tracking number")
	}

	body, err := json.Marshal(trackRequest{
		IncludeDetailedScans: true,
		TrackingInfo: []trackInfo{
			{TrackingNumberInfo: trackingNumberInfo{TrackingNumber: trackingNumber}},
		},
	})
	if err != nil {
		return source.CarrierRecord{}, fmt.Errorf("carrier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/track/v1/trackingnumbers", bytes.NewReader(body))
	if err != nil {
		return source.CarrierRecord{}, fmt.Errorf("carrier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return source.CarrierRecord{}, fmt.Errorf("carrier: obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return source.CarrierRecord{}, fmt.Errorf("carrier: %w: %v", source.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return source.CarrierRecord{}, fmt.Errorf("carrier: %w: status %d", source.ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return source.CarrierRecord{}, fmt.Errorf("carrier: %w: status %d", source.ErrMalformedPayload, resp.StatusCode)
	}

	var parsed trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return source.CarrierRecord{}, fmt.Errorf("carrier: %w: decode: %v", source.ErrMalformedPayload, err)
	}

	return recordFromResponse(trackingNumber, parsed)
}

func recordFromResponse(trackingNumber string, parsed trackResponse) (source.CarrierRecord, error) {
	if len(parsed.Output.CompleteTrackResults) == 0 {
		return source.CarrierRecord{}, fmt.Errorf("carrier: %w: no track results", source.ErrMalformedPayload)
	}
	result := parsed.Output.CompleteTrackResults[0]

	rec := source.CarrierRecord{
		TrackingNumber: trackingNumber,
		Origin:         result.OriginLocation.Address.City,
		Destination:    result.DestinationLocation.Address.City,
	}

	for _, ev := range result.ScanEvents {
		if ev.Status == "" {
			return source.CarrierRecord{}, fmt.Errorf("carrier: %w: scan event without status", source.ErrMalformedPayload)
		}
		rec.Events = append(rec.Events, source.CarrierEvent{
			RawStatus: ev.Status,
			Location:  rawLocation(ev.ScanLocation),
			Timestamp: source.RawTimestamp{Text: ev.DateScan, Epoch: ev.EpochScan},
		})
	}

	return rec, nil
}

func rawLocation(loc scanLocation) source.RawLocation {
	if loc.Latitude != nil && loc.Longitude != nil {
		return source.RawLocation{HasCoord: true, Lat: *loc.Latitude, Lon: *loc.Longitude}
	}
	return source.RawLocation{Place: loc.City}
}

// IsUnavailable reports whether err is a retryable source failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, source.ErrSourceUnavailable)
}
