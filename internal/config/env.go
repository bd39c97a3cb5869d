// Package config provides configuration helpers for go-rover commands:
// environment lookups and the YAML file loader.
package config

import (
	"os"
)

// Environment variables read by the rover.
const (
	EnvConfig     = "ROVER_CONFIG"
	EnvArbiterURL = "ARBITER_URL"
	EnvDriverURL  = "DRIVER_URL"
	EnvSerialPort = "ARBITER_SERIAL"
)

// Defaults for the edge services.
const (
	DefaultDriverURL = "http://127.0.0.1:8000"
	DefaultWebAddr   = ":8080"
)

// Path returns the config file path from ROVER_CONFIG, or def.
func Path(def string) string {
	return env(EnvConfig, def)
}

// ArbiterURL returns the game controller websocket URL from ARBITER_URL.
// Empty means no websocket link.
func ArbiterURL(def string) string {
	return env(EnvArbiterURL, def)
}

// DriverURL returns the motor driver daemon URL from DRIVER_URL.
func DriverURL() string {
	return env(EnvDriverURL, DefaultDriverURL)
}

// SerialPort returns the radio bridge device from ARBITER_SERIAL.
// Empty means no serial link.
func SerialPort(def string) string {
	return env(EnvSerialPort, def)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
