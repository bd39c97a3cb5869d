package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/pkg/game"
	"github.com/teslashibe/go-rover/pkg/hub"
)

// handleStatus returns the latest telemetry
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if s.status == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no telemetry yet",
		})
	}
	return c.JSON(s.status)
}

// handleCommand forwards a controller command to the rover
func (s *Server) handleCommand(c *fiber.Ctx) error {
	name := c.Params("name")

	if s.OnCommand == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "command handler not configured",
		})
	}

	if err := s.OnCommand(name); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, game.ErrUnknownCommand) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.logger.Info("dashboard command", "command", name)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"command": name,
	})
}

// handleGetTuning returns the runtime tuning parameters
func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	if s.OnGetTuning == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "tuning not available",
		})
	}
	return c.JSON(s.OnGetTuning())
}

// handleSetTuning applies tuning parameters and echoes the result
func (s *Server) handleSetTuning(c *fiber.Ctx) error {
	if s.OnSetTuning == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "tuning not available",
		})
	}
	if err := s.OnSetTuning(c.Body()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if s.OnGetTuning != nil {
		return c.JSON(s.OnGetTuning())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleGetGrid returns the occupancy grid
func (s *Server) handleGetGrid(c *fiber.Ctx) error {
	if s.OnGetGrid == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "grid not available",
		})
	}
	return c.JSON(s.OnGetGrid())
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleStatusWS streams telemetry, starting with the latest snapshot
func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewClient(s.statusHub, c).Serve()
}

// handleLogsWS streams log lines, starting with the backlog
func (s *Server) handleLogsWS(c *websocket.Conn) {
	hub.NewClient(s.logHub, c).Serve()
}
