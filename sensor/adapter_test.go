package sensor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coldtrack/source"
)

var window = source.Window{
	From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
}

func TestFetchWindow(t *testing.T) {
	var gotAuth, gotPath string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Write([]byte(`{
			"reports": [
				{"timestamp": "2024-01-01T06:00:00Z", "temperature": 5.5, "humidity": 40, "location": "Newark, NJ"},
				{"epochTimestamp": 1704110400, "temperature": 9.1, "humidity": 42, "latitude": 40.7357, "longitude": -74.1724}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sesame", srv.Client())
	records, err := c.FetchWindow(context.Background(), "sentry-1", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/rest/2/sensors/sentry-1/reports" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sesame" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if got := gotQuery["from"]; len(got) != 1 || got[0] != "2024-01-01T00:00:00Z" {
		t.Errorf("from = %v", got)
	}
	if got := gotQuery["to"]; len(got) != 1 || got[0] != "2024-01-02T00:00:00Z" {
		t.Errorf("to = %v", got)
	}

	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].SensorID != "sentry-1" || records[0].Temperature != 5.5 || records[0].Humidity != 40 {
		t.Errorf("record[0] = %+v", records[0])
	}
	if records[0].Location.HasCoord || records[0].Location.Place != "Newark, NJ" {
		t.Errorf("record[0] location = %+v", records[0].Location)
	}
	if records[1].Timestamp.Epoch == nil || *records[1].Timestamp.Epoch != 1704110400 {
		t.Errorf("record[1] timestamp = %+v", records[1].Timestamp)
	}
	if !records[1].Location.HasCoord || records[1].Location.Lat != 40.7357 {
		t.Errorf("record[1] location = %+v", records[1].Location)
	}
}

func TestFetchWindow_Errors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "server error is retryable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			want:    source.ErrSourceUnavailable,
		},
		{
			name:    "auth failure is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			want:    source.ErrMalformedPayload,
		},
		{
			name: "report without temperature",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"reports":[{"timestamp":"2024-01-01T06:00:00Z","humidity":40}]}`))
			},
			want: source.ErrMalformedPayload,
		},
		{
			name: "report without timestamp",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"reports":[{"temperature":5.5}]}`))
			},
			want: source.ErrMalformedPayload,
		},
		{
			name:    "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not json")) },
			want:    source.ErrMalformedPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := NewClient(srv.URL, "", srv.Client())
			_, err := c.FetchWindow(context.Background(), "sentry-1", window)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFetchWindow_Validation(t *testing.T) {
	c := NewClient("http://unused.invalid", "", nil)

	if _, err := c.FetchWindow(context.Background(), "", window); err == nil {
		t.Error("expected error for empty sensor ref")
	}

	inverted := source.Window{From: window.To, To: window.From}
	if _, err := c.FetchWindow(context.Background(), "sentry-1", inverted); err == nil {
		t.Error("expected error for inverted window")
	}
}
