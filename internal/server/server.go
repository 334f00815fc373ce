package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bark-labs/pushdispatch/internal/config"
	"github.com/bark-labs/pushdispatch/internal/credential"
	"github.com/bark-labs/pushdispatch/internal/metrics"
	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/service"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// Services groups the handlers' collaborators.
type Services struct {
	Notify  *service.NotifyService
	Devices *service.DeviceService
	Logs    *service.DispatchLogService
	Auth    *service.AuthService
	Metrics *metrics.Registry
}

// Server wires HTTP handlers.
type Server struct {
	app    *fiber.App
	svc    Services
	cfg    *config.Config
	logger *slog.Logger
}

// New builds a server instance.
func New(cfg *config.Config, svc Services, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.HTTP.ReadTimeout,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		AppName:               "pushdispatch",
		DisableStartupMessage: true,
	})
	s := &Server{app: app, svc: svc, cfg: cfg, logger: logger}
	s.registerRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	s.logger.Info("http listening", slog.String("addr", s.cfg.HTTP.Addr))
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", s.handleMetrics)
	s.app.Get("/status/endpoint", s.handleStatusEndpoint)

	s.app.Post("/api/notify", s.requireAPIToken, s.handleNotify)

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	admin := s.app.Group("/admin")
	admin.Get("/devices", s.requireScope(service.ScopeDevicesRead), s.handleAdminListDevices)
	admin.Get("/devices/:token", s.requireScope(service.ScopeDevicesRead), s.handleAdminGetDevice)
	admin.Post("/devices", s.requireScope(service.ScopeDevicesWrite), s.handleAdminRegisterDevice)
	admin.Post("/users", s.requireScope(service.ScopeUsersWrite), s.handleAdminSaveUser)
	admin.Get("/logs", s.requireScope(service.ScopeLogsRead), s.handleLogList)
	admin.Get("/logs/count/date", s.requireScope(service.ScopeLogsRead), s.handleLogCountDate)
	admin.Get("/logs/count/status", s.requireScope(service.ScopeLogsRead), s.handleLogCountStatus)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, metrics.ContentType())
	return s.svc.Metrics.WriteText(c.Response().BodyWriter())
}

func (s *Server) handleNotify(c *fiber.Ctx) error {
	var req model.NotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.NotifyFailure("malformed request body"))
	}
	resp, err := s.svc.Notify.Notify(c.UserContext(), req)
	if err != nil {
		return c.Status(notifyStatus(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func notifyStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, credential.ErrCredential):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatusEndpoint(c *fiber.Ctx) error {
	if !s.apiTokenOK(c) {
		return c.Status(http.StatusUnauthorized).JSON(model.StatusRes{Status: "UNAUTHORIZED"})
	}
	status, err := s.svc.Devices.Status(c.UserContext())
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.StatusRes{Status: "ERROR"})
	}
	return c.JSON(status)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	if !s.svc.Auth.Enabled() {
		return c.JSON(model.Success("login not required", fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}))
	}
	token, expires, err := s.svc.Auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrBadCredentials) {
			return c.Status(http.StatusUnauthorized).JSON(model.Error(err.Error()))
		}
		s.logger.Error("sign session", "err", err)
		return c.Status(http.StatusInternalServerError).JSON(model.Error("login failed"))
	}
	claims, err := s.svc.Auth.Authorize(token, "")
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error("login failed"))
	}
	return c.JSON(model.Success("logged in", fiber.Map{
		"token":      token,
		"enabled":    true,
		"username":   claims.Subject,
		"role":       claims.Role,
		"scopes":     claims.Scopes,
		"expires_at": expires.UTC(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if !s.svc.Auth.Enabled() {
		return c.JSON(model.Success("ok", fiber.Map{"enabled": false, "username": "guest"}))
	}
	claims, err := s.svc.Auth.Authorize(extractBearerToken(c.Get(fiber.HeaderAuthorization)), "")
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired or missing"))
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"enabled":  true,
		"username": claims.Subject,
		"role":     claims.Role,
		"scopes":   claims.Scopes,
	}))
}

func (s *Server) handleAdminListDevices(c *fiber.Ctx) error {
	views, err := s.svc.Devices.ListViews(c.UserContext())
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("ok", views))
}

func (s *Server) handleAdminGetDevice(c *fiber.Ctx) error {
	device, err := s.svc.Devices.Get(c.UserContext(), c.Params("token"))
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("ok", model.ToView(device)))
}

func (s *Server) handleAdminRegisterDevice(c *fiber.Ctx) error {
	var req service.DeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err)
	}
	device, err := s.svc.Devices.Register(c.UserContext(), req)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("registered", model.ToView(device)))
}

func (s *Server) handleAdminSaveUser(c *fiber.Ctx) error {
	var req service.UserRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err)
	}
	user, err := s.svc.Devices.SaveUser(c.UserContext(), req)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("saved", user))
}

func (s *Server) handleLogList(c *fiber.Ctx) error {
	page, err := s.svc.Logs.Query(c.UserContext(), parseLogFilter(c))
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("ok", page))
}

func (s *Server) handleLogCountDate(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.svc.Logs.CountByDate(c.UserContext(), c.Query("dateType", "day"), begin, end)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleLogCountStatus(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.svc.Logs.CountByStatus(c.UserContext(), begin, end)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(model.Success("ok", data))
}

// fail maps validation and lookup errors onto 400/404 and falls back to status.
func (s *Server) fail(c *fiber.Ctx, status int, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("admin request failed", slog.String("path", c.Path()), slog.Any("error", err))
	}
	return c.Status(status).JSON(model.Error(err.Error()))
}

func parseLogFilter(c *fiber.Ctx) model.DispatchLogFilter {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	begin, end := parseTimeRange(c)
	return model.DispatchLogFilter{
		InvocationID: c.Query("invocationId"),
		OnlyFailures: c.QueryBool("onlyFailures"),
		BeginTime:    begin,
		EndTime:      end,
		Page:         page,
		PageSize:     pageSize,
	}
}

func parseTimeRange(c *fiber.Ctx) (*time.Time, *time.Time) {
	return parseTime(c.Query("beginTime")), parseTime(c.Query("endTime"))
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// requireAPIToken guards machine callers when http.api_token is set.
func (s *Server) requireAPIToken(c *fiber.Ctx) error {
	if strings.TrimSpace(s.cfg.HTTP.APIToken) == "" || s.apiTokenOK(c) {
		return c.Next()
	}
	return c.Status(http.StatusUnauthorized).JSON(model.NotifyFailure("missing or invalid API-TOKEN"))
}

func (s *Server) apiTokenOK(c *fiber.Ctx) bool {
	expected := strings.TrimSpace(s.cfg.HTTP.APIToken)
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.Get("API-TOKEN")), []byte(expected)) == 1
}

// requireScope admits admin console sessions that carry scope.
func (s *Server) requireScope(scope service.Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := s.svc.Auth.Authorize(extractBearerToken(c.Get(fiber.HeaderAuthorization)), scope)
		switch {
		case errors.Is(err, service.ErrForbidden):
			return c.Status(http.StatusForbidden).JSON(model.Error(err.Error()))
		case err != nil:
			return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired or missing"))
		}
		c.Locals("username", claims.Subject)
		return c.Next()
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
