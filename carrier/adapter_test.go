package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coldtrack/source"
)

const trackBody = `{
	"output": {
		"completeTrackResults": [{
			"trackingNumber": "794843185271",
			"originLocation": {"address": {"city": "Philadelphia"}},
			"destinationLocation": {"address": {"city": "Boston"}},
			"scanEvents": [
				{
					"derivedStatus": "Picked up",
					"dateScan": "2024-01-01T08:00:00-05:00",
					"scanLocation": {"city": "Philadelphia"}
				},
				{
					"derivedStatus": "In transit",
					"epochScan": 1704153600,
					"scanLocation": {"city": "Newark", "latitude": 40.7357, "longitude": -74.1724}
				}
			]
		}]
	}
}`

func TestFetchUpdate(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq trackRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(trackBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), StaticToken("sesame"))
	rec, err := c.FetchUpdate(context.Background(), "794843185271")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/track/v1/trackingnumbers" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sesame" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if len(gotReq.TrackingInfo) != 1 || gotReq.TrackingInfo[0].TrackingNumberInfo.TrackingNumber != "794843185271" {
		t.Errorf("request body = %+v", gotReq)
	}

	if rec.Origin != "Philadelphia" || rec.Destination != "Boston" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Events) != 2 {
		t.Fatalf("events = %d", len(rec.Events))
	}
	if rec.Events[0].RawStatus != "Picked up" || rec.Events[0].Timestamp.Text != "2024-01-01T08:00:00-05:00" {
		t.Errorf("event[0] = %+v", rec.Events[0])
	}
	if rec.Events[0].Location.HasCoord || rec.Events[0].Location.Place != "Philadelphia" {
		t.Errorf("event[0] location = %+v", rec.Events[0].Location)
	}
	if rec.Events[1].Timestamp.Epoch == nil || *rec.Events[1].Timestamp.Epoch != 1704153600 {
		t.Errorf("event[1] timestamp = %+v", rec.Events[1].Timestamp)
	}
	if !rec.Events[1].Location.HasCoord || rec.Events[1].Location.Lat != 40.7357 {
		t.Errorf("event[1] location = %+v", rec.Events[1].Location)
	}
}

func TestFetchUpdate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "server error is retryable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    source.ErrSourceUnavailable,
		},
		{
			name:    "rate limit is retryable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    source.ErrSourceUnavailable,
		},
		{
			name:    "client error is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			want:    source.ErrMalformedPayload,
		},
		{
			name:    "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>oops</html>")) },
			want:    source.ErrMalformedPayload,
		},
		{
			name:    "empty track results",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"output":{"completeTrackResults":[]}}`)) },
			want:    source.ErrMalformedPayload,
		},
		{
			name: "scan event without status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"output":{"completeTrackResults":[{"scanEvents":[{"dateScan":"2024-01-01T00:00:00Z"}]}]}}`))
			},
			want: source.ErrMalformedPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := NewClient(srv.URL, srv.Client(), nil)
			_, err := c.FetchUpdate(context.Background(), "794843185271")
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFetchUpdate_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(srv.URL, &http.Client{Timeout: time.Second}, nil)
	_, err := c.FetchUpdate(context.Background(), "794843185271")
	if !IsUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestFetchUpdate_EmptyTrackingNumber(t *testing.T) {
	c := NewClient("http://unused.invalid", nil, nil)
	if _, err := c.FetchUpdate(context.Background(), ""); err == nil {
		t.Error("expected error for empty tracking number")
	}
}
