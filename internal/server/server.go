package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"

	_ "github.com/joho/godotenv/autoload"
)

// DeviceEngine is the part of the engine served over HTTP.
type DeviceEngine interface {
	RegisterDevice(ctx context.Context, address, deviceType string) (string, error)
	UnregisterDevice(ctx context.Context, deviceId string) error
	SendIdentify(ctx context.Context, deviceId string) error
	SetSwitch(ctx context.Context, deviceId, key string, on bool) error
	Devices(ctx context.Context) ([]domain.EcoPilotDevice, error)
	Health(ctx context.Context) (domain.ActorHealthResponse, error)
}

type Server struct {
	port    uint
	httpLog bool
	metrics bool
	engine  DeviceEngine
}

func NewServer(cfg config.Config, engine DeviceEngine) *http.Server {
	NewServer := &Server{
		port:    cfg.Port,
		engine:  engine,
		httpLog: cfg.HttpLog,
		metrics: cfg.Metrics,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
