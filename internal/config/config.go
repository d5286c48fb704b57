package config

import "os"

type Config struct {
	// DBDriver selects the storage backend: memory, sqlite, postgres, postgrespool.
	DBDriver string
	// DBDSN is the storage connection string (file path for sqlite).
	DBDSN string
	// ExtractorURL is the base URL of the document/photo extraction service.
	ExtractorURL string
	// Timezone is the IANA zone hint forwarded to the extraction service.
	Timezone string
	// WeatherLatitude / WeatherLongitude locate the units for weather joins.
	WeatherLatitude  string
	WeatherLongitude string
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() Config {
	cfg := Config{
		DBDriver:         os.Getenv("METERLOG_DB_DRIVER"),
		DBDSN:            os.Getenv("METERLOG_DB_DSN"),
		ExtractorURL:     os.Getenv("METERLOG_EXTRACTOR_URL"),
		Timezone:         os.Getenv("METERLOG_TIMEZONE"),
		WeatherLatitude:  os.Getenv("METERLOG_WEATHER_LAT"),
		WeatherLongitude: os.Getenv("METERLOG_WEATHER_LON"),
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite"
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = "meterlog.db"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/Vancouver"
	}
	if cfg.WeatherLatitude == "" {
		cfg.WeatherLatitude = "49.2827"
	}
	if cfg.WeatherLongitude == "" {
		cfg.WeatherLongitude = "-123.1207"
	}
	return cfg
}
