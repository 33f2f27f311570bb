package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestTimeout = 10 * time.Second

type registerDeviceBody struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

type setSwitchBody struct {
	On *bool `json:"on"`
}

type registerDeviceResult struct {
	Id string `json:"id"`
}

type versionResult struct {
	Version    string    `json:"version"`
	Revision   string    `json:"revision"`
	LastCommit time.Time `json:"last_commit"`
	Dirty      bool      `json:"dirty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/version", s.VersionHandler)

	e.GET("/devices", s.ListDevicesHandler)
	e.POST("/devices", s.RegisterDeviceHandler)
	e.DELETE("/devices/:id", s.UnregisterDeviceHandler)
	e.POST("/devices/:id/identify", s.IdentifyHandler)
	e.PUT("/devices/:id/switches/:switch", s.SetSwitchHandler)

	if s.metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	response, err := s.engine.Health(ctx)
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL "+response.State)
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResult{
		Version:    versioninfo.Version,
		Revision:   versioninfo.Revision,
		LastCommit: versioninfo.LastCommit,
		Dirty:      versioninfo.DirtyBuild,
	})
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	devices, err := s.engine.Devices(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if devices == nil {
		devices = []domain.EcoPilotDevice{}
	}
	return c.JSON(http.StatusOK, devices)
}

func (s *Server) RegisterDeviceHandler(c echo.Context) error {
	var body registerDeviceBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	id, err := s.engine.RegisterDevice(ctx, body.Address, body.Type)
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusCreated, registerDeviceResult{Id: id})
}

func (s *Server) UnregisterDeviceHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	err := s.engine.UnregisterDevice(ctx, c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, domain.ErrDeviceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) IdentifyHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	err := s.engine.SendIdentify(ctx, c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, domain.ErrDeviceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		// device reachable through the registry but the write failed
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func (s *Server) SetSwitchHandler(c echo.Context) error {
	var body setSwitchBody
	if err := c.Bind(&body); err != nil || body.On == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	err := s.engine.SetSwitch(ctx, c.Param("id"), c.Param("switch"), *body.On)
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, domain.ErrDeviceNotFound), errors.Is(err, domain.ErrUnknownSwitch):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
