// Command weatherd serves the weather tools over SSE with canned data, for
// exercising clients without an upstream weather provider.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cloudpine/weathermcp"
)

type cityArgs struct {
	City string `json:"city"`
}

func currentWeather(_ context.Context, args json.RawMessage) (any, error) {
	var a cityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.City == "" {
		return nil, errors.New("city is required")
	}

	return weathermcp.WeatherReport{
		Success:       true,
		Kind:          weathermcp.ReportKindCurrent,
		City:          a.City,
		Weather:       "Sunny",
		Temperature:   "23",
		WindDirection: "NE",
		WindPower:     "3",
		Humidity:      "40",
		ReportTime:    time.Now().Format("2006-01-02 15:04:05"),
	}, nil
}

func weatherForecast(_ context.Context, args json.RawMessage) (any, error) {
	var a cityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.City == "" {
		return nil, errors.New("city is required")
	}

	days := make([]weathermcp.ForecastDay, 0, 3)
	for i := range 3 {
		day := time.Now().AddDate(0, 0, i+1)
		days = append(days, weathermcp.ForecastDay{
			Date:         day.Format("2006-01-02"),
			Week:         fmt.Sprint(int(day.Weekday())),
			DayWeather:   "Cloudy",
			NightWeather: "Clear",
			DayTemp:      "25",
			NightTemp:    "16",
			DayWind:      "NE",
			NightWind:    "NE",
		})
	}

	return weathermcp.Forecast{
		Success:   true,
		Kind:      weathermcp.ReportKindForecast,
		City:      a.City,
		Days:      len(days),
		Forecasts: days,
	}, nil
}

func main() {
	_ = godotenv.Load()

	defaultAddr := os.Getenv("WEATHERD_ADDR")
	if defaultAddr == "" {
		defaultAddr = ":8001"
	}
	addr := flag.String("addr", defaultAddr, "Address to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := weathermcp.NewServer(weathermcp.Info{
		Name:    "weatherd",
		Version: "1.0",
	}, weathermcp.WithServerLogger(logger))

	srv.RegisterTool(weathermcp.ToolCurrentWeather, currentWeather)
	srv.RegisterTool(weathermcp.ToolWeatherForecast, weatherForecast)

	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/messages/", srv.HandleMessage())

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("forced to shutdown", "err", err)
	}
}
