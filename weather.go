package weathermcp

import (
	"context"
	"encoding/json"
)

// Names of the tools the remote weather service exposes.
const (
	ToolCurrentWeather  = "query_current_weather"
	ToolWeatherForecast = "query_weather_forecast"
)

// ReportKind tags which payload shape a weather tool returned.
type ReportKind string

// ReportKind values as they appear in the wire payload's "type" field.
const (
	ReportKindCurrent  ReportKind = "current"
	ReportKindForecast ReportKind = "forecast"
)

// WeatherReport is the outcome of a current-weather query. Success is the
// discriminant: when true the observation fields are populated, when false
// Err carries the failure message. A report is self-contained and transient;
// the client keeps no state between queries.
type WeatherReport struct {
	Success bool       `json:"success"`
	Kind    ReportKind `json:"type,omitempty"`
	Err     string     `json:"error,omitempty"`

	City          string `json:"city,omitempty"`
	Weather       string `json:"weather,omitempty"`
	Temperature   string `json:"temperature,omitempty"`
	WindDirection string `json:"winddirection,omitempty"`
	WindPower     string `json:"windpower,omitempty"`
	Humidity      string `json:"humidity,omitempty"`
	ReportTime    string `json:"reporttime,omitempty"`
}

// Forecast is the outcome of a multi-day forecast query, with the same
// Success/Err discrimination as WeatherReport.
type Forecast struct {
	Success bool       `json:"success"`
	Kind    ReportKind `json:"type,omitempty"`
	Err     string     `json:"error,omitempty"`

	City      string        `json:"city,omitempty"`
	Days      int           `json:"days,omitempty"`
	Forecasts []ForecastDay `json:"forecasts,omitempty"`
}

// ForecastDay is a single day's entry in a Forecast.
type ForecastDay struct {
	Date         string `json:"date"`
	Week         string `json:"week"`
	DayWeather   string `json:"dayweather"`
	NightWeather string `json:"nightweather"`
	DayTemp      string `json:"daytemp"`
	NightTemp    string `json:"nighttemp"`
	DayWind      string `json:"daywind"`
	NightWind    string `json:"nightwind"`
}

// QueryCurrentWeather fetches current conditions for the given city. It never
// returns a Go error: every failure, from transport to timeout, comes back as
// a report with Success false and the message in Err. Each invocation issues
// a fresh request; nothing is cached and nothing is retried.
func (c *Client) QueryCurrentWeather(ctx context.Context, city string) WeatherReport {
	c.logger.Info("querying current weather", "server", c.baseURL, "city", city)

	raw, err := c.CallTool(ctx, ToolCurrentWeather, map[string]any{"city": city})
	if err != nil {
		c.logger.Warn("current weather query failed", "city", city, "err", err)
		return WeatherReport{Err: err.Error()}
	}

	var report WeatherReport
	if err := json.Unmarshal(raw, &report); err != nil {
		c.logger.Warn("current weather query failed", "city", city, "err", err)
		return WeatherReport{Err: ErrMalformedResult.Error()}
	}

	if !report.Success {
		c.logger.Warn("current weather query failed", "city", city, "err", report.Err)
	}
	return report
}

// QueryForecast fetches the multi-day forecast for the given city, with the
// same failure behavior as QueryCurrentWeather.
func (c *Client) QueryForecast(ctx context.Context, city string) Forecast {
	c.logger.Info("querying weather forecast", "server", c.baseURL, "city", city)

	raw, err := c.CallTool(ctx, ToolWeatherForecast, map[string]any{"city": city})
	if err != nil {
		c.logger.Warn("forecast query failed", "city", city, "err", err)
		return Forecast{Err: err.Error()}
	}

	var forecast Forecast
	if err := json.Unmarshal(raw, &forecast); err != nil {
		c.logger.Warn("forecast query failed", "city", city, "err", err)
		return Forecast{Err: ErrMalformedResult.Error()}
	}

	if !forecast.Success {
		c.logger.Warn("forecast query failed", "city", city, "err", forecast.Err)
	}
	return forecast
}
