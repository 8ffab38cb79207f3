// Package config loads ship and offshore configuration from environment
// variables. There is no framework here on purpose: a handful of
// os.Getenv reads with strconv parsing and documented defaults is the
// whole job.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/offshorelink/shipproxy/pkg/constants"
)

// Ship holds the ship binary's configuration.
type Ship struct {
	ProxyPort      int
	OffshoreHost   string
	OffshorePort   int
	MaxFrameBytes  uint32
	ReconnectDelay time.Duration
	PendingTimeout time.Duration
	MetricsAddr    string
}

// Offshore holds the offshore binary's configuration.
type Offshore struct {
	Port          int
	MaxFrameBytes uint32
	MetricsAddr   string
}

// LoadShip reads the ship's configuration from the environment.
// OFFSHORE_HOST is required; everything else has a default.
func LoadShip() (Ship, error) {
	host := os.Getenv("OFFSHORE_HOST")
	if host == "" {
		return Ship{}, fmt.Errorf("config: OFFSHORE_HOST is required")
	}

	proxyPort, err := getIntEnv("SHIP_PROXY_PORT", constants.DefaultShipProxyPort)
	if err != nil {
		return Ship{}, err
	}
	offshorePort, err := getIntEnv("OFFSHORE_PORT", constants.DefaultOffshorePort)
	if err != nil {
		return Ship{}, err
	}
	maxFrame, err := getUintEnv("MAX_FRAME_BYTES", constants.DefaultMaxFrameBytes)
	if err != nil {
		return Ship{}, err
	}
	reconnectMS, err := getIntEnv("RECONNECT_DELAY_MS", int(constants.DefaultReconnectDelay/time.Millisecond))
	if err != nil {
		return Ship{}, err
	}
	pendingMS, err := getIntEnv("PENDING_TIMEOUT_MS", int(constants.DefaultPendingTimeout/time.Millisecond))
	if err != nil {
		return Ship{}, err
	}

	return Ship{
		ProxyPort:      proxyPort,
		OffshoreHost:   host,
		OffshorePort:   offshorePort,
		MaxFrameBytes:  maxFrame,
		ReconnectDelay: time.Duration(reconnectMS) * time.Millisecond,
		PendingTimeout: time.Duration(pendingMS) * time.Millisecond,
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}, nil
}

// LoadOffshore reads the offshore's configuration from the environment.
func LoadOffshore() (Offshore, error) {
	port, err := getIntEnv("OFFSHORE_PORT", constants.DefaultOffshorePort)
	if err != nil {
		return Offshore{}, err
	}
	maxFrame, err := getUintEnv("MAX_FRAME_BYTES", constants.DefaultMaxFrameBytes)
	if err != nil {
		return Offshore{}, err
	}

	return Offshore{
		Port:          port,
		MaxFrameBytes: maxFrame,
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
	}, nil
}

// ShipAddr returns the "host:port" the ship dials to reach offshore.
func (s Ship) ShipAddr() string {
	return net.JoinHostPort(s.OffshoreHost, strconv.Itoa(s.OffshorePort))
}

// ProxyAddr returns the "host:port" the ship's client proxy listens on.
func (s Ship) ProxyAddr() string {
	return fmt.Sprintf(":%d", s.ProxyPort)
}

// ListenAddr returns the "host:port" the offshore listens on.
func (o Offshore) ListenAddr() string {
	return fmt.Sprintf(":%d", o.Port)
}

func getIntEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", name, v, err)
	}
	return n, nil
}

func getUintEnv(name string, def uint32) (uint32, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", name, v, err)
	}
	return uint32(n), nil
}
