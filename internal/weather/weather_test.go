package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDegreeDays(t *testing.T) {
	cases := []struct {
		temp, hdd, cdd float64
	}{
		{-5, 23, 0},
		{10, 8, 0},
		{18, 0, 0},
		{25.5, 0, 7.5},
	}
	for _, tc := range cases {
		hdd, cdd := DegreeDays(tc.temp)
		if hdd != tc.hdd || cdd != tc.cdd {
			t.Errorf("DegreeDays(%v) = (%v, %v), want (%v, %v)", tc.temp, hdd, cdd, tc.hdd, tc.cdd)
		}
	}
}

func TestFetchRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "49.2827" || q.Get("longitude") != "-123.1207" {
			t.Errorf("coordinates not forwarded: %v", q)
		}
		if q.Get("daily") != "temperature_2m_mean,precipitation_sum" {
			t.Errorf("daily fields = %q", q.Get("daily"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily":{
			"time":["2026-01-05","2026-01-06"],
			"temperature_2m_mean":[2.5,20.0],
			"precipitation_sum":[4.2,0.0]
		}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "49.2827", "-123.1207")
	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	days, err := c.FetchRange(context.Background(), from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("days = %d, want 2", len(days))
	}
	if days[0].TempAvgC != 2.5 || days[0].HeatingDD != 15.5 || days[0].CoolingDD != 0 {
		t.Errorf("day 0 = %+v", days[0])
	}
	if days[1].CoolingDD != 2 {
		t.Errorf("day 1 cooling = %v, want 2", days[1].CoolingDD)
	}
	if days[0].PrecipMM != 4.2 {
		t.Errorf("day 0 precip = %v", days[0].PrecipMM)
	}
}

func TestFetchRangeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "0", "0")
	if _, err := c.FetchRange(context.Background(), time.Now().AddDate(0, 0, -1), time.Now()); err == nil {
		t.Error("expected error on non-200 response")
	}
}
