// Command weatherq is a small CLI that queries a weather tool server and
// prints the result as indented JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/cloudpine/weathermcp"
)

func main() {
	_ = godotenv.Load()

	defaultServer := os.Getenv("WEATHER_MCP_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8001"
	}
	server := flag.String("server", defaultServer, "Weather tool server URL")
	forecast := flag.Bool("forecast", false, "Query the multi-day forecast instead of current conditions")
	flag.Parse()

	city := flag.Arg(0)
	if city == "" {
		fmt.Fprintln(os.Stderr, "usage: weatherq [-server URL] [-forecast] CITY")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cli := weathermcp.NewClient(*server, weathermcp.WithLogger(logger))
	defer cli.Close()

	ctx := context.Background()
	cli.Connect(ctx)

	var result any
	if *forecast {
		result = cli.QueryForecast(ctx, city)
	} else {
		result = cli.QueryCurrentWeather(ctx, city)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
