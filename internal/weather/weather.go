// Package weather fetches per-day weather facts for the configured location
// and keeps them upserted in storage. The daily series joins them best
// effort; missing weather is never an error.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/bher20/meterlog/internal/storage"
)

// Degree days use an 18 C comfort baseline.
const baselineC = 18.0

type Client struct {
	baseURL   string
	latitude  string
	longitude string
	http      *http.Client
}

// NewClient builds a weather client. An empty baseURL falls back to the
// open-meteo archive API, or the METERLOG_WEATHER_URL override.
func NewClient(baseURL, latitude, longitude string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("METERLOG_WEATHER_URL")
	}
	if baseURL == "" {
		baseURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	return &Client{
		baseURL:   baseURL,
		latitude:  latitude,
		longitude: longitude,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		TemperatureMean  []float64 `json:"temperature_2m_mean"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// FetchRange downloads daily mean temperature and precipitation for
// [from, to] and derives heating/cooling degree days.
func (c *Client) FetchRange(ctx context.Context, from, to time.Time) ([]storage.WeatherDay, error) {
	q := url.Values{}
	q.Set("latitude", c.latitude)
	q.Set("longitude", c.longitude)
	q.Set("start_date", from.UTC().Format("2006-01-02"))
	q.Set("end_date", to.UTC().Format("2006-01-02"))
	q.Set("daily", "temperature_2m_mean,precipitation_sum")
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service returned %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	days := make([]storage.WeatherDay, 0, len(body.Daily.Time))
	for i, ds := range body.Daily.Time {
		day, err := time.Parse("2006-01-02", ds)
		if err != nil {
			continue
		}
		w := storage.WeatherDay{Day: day}
		if i < len(body.Daily.TemperatureMean) {
			w.TempAvgC = body.Daily.TemperatureMean[i]
			w.HeatingDD, w.CoolingDD = DegreeDays(w.TempAvgC)
		}
		if i < len(body.Daily.PrecipitationSum) {
			w.PrecipMM = body.Daily.PrecipitationSum[i]
		}
		days = append(days, w)
	}
	return days, nil
}

// Refresh fetches the trailing window of weather facts and upserts them.
func (c *Client) Refresh(ctx context.Context, st storage.Storage, trailingDays int) error {
	to := storage.DateOnly(time.Now())
	from := to.AddDate(0, 0, -trailingDays)
	days, err := c.FetchRange(ctx, from, to)
	if err != nil {
		return err
	}
	for _, w := range days {
		if err := st.UpsertWeatherDay(ctx, w); err != nil {
			return fmt.Errorf("upsert weather day %s: %w", w.Day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// DegreeDays computes heating and cooling degree days for a daily mean
// temperature.
func DegreeDays(tempAvgC float64) (hdd, cdd float64) {
	if tempAvgC < baselineC {
		hdd = baselineC - tempAvgC
	} else {
		cdd = tempAvgC - baselineC
	}
	return hdd, cdd
}
