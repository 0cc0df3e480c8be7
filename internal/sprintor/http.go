// Пакет sprintor предоставляет основные компоненты сервера планирования спринтов. Он включает в себя
// функциональность для управления спринтами и карточками, выдачу и проверку сессионных токенов доступа,
// учет присутствия участников и рассылку состояния доски в реальном времени.
//
// Основные возможности:
//   - Управление спринтами, карточками и лентой активностей.
//   - Выдача токенов доступа участникам (владелец, гость, вход по паролю).
//   - Вебсокет-сессии совместной работы с присутствием и курсорами.
//   - Фоновая очистка неактивных участников и заброшенных черновиков.
package sprintor

// @title Sprintor API
// @version 1.0
// @description Sprint planning collaboration server.
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
// @BasePath /
// @query.collection.format multi
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	accesstoken "github.com/ParashDev/sprintor-sub002/internal/sprintor/access-token"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/config"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/cronmanager"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/maintenance"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/sessions"
	sprintstore "github.com/ParashDev/sprintor-sub002/internal/sprintor/sprint-store"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type Services struct {
	db              *gorm.DB
	store           *sprintstore.Store
	issuer          *accesstoken.Issuer
	sessionsManager *sessions.SessionsManager
}

var cfg *config.Config
var appVersion string

// ServerHeader middleware adds a `Server` header to the response.
func ServerHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderServer, "Sprintor")
		return next(c)
	}
}

func Server(db *gorm.DB, c *config.Config, version string) {
	cfg = c
	appVersion = version

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		// Ignore 404
		if code == http.StatusNotFound {
			c.NoContent(http.StatusNotFound)
			return
		}
		slog.Error("Unhandled error in endpoint", "url", c.Request().URL, "err", err)
		EErrorMsgStatus(c, nil, code)
	}

	// Отозванный токен живет в хранилище чуть дольше своего срока
	sm := sessions.NewSessionsManager(cfg, types.SessionTokenExpiresPeriod+time.Hour)
	store := sprintstore.NewStore(db)
	issuer := accesstoken.NewIssuer([]byte(cfg.SecretKey), sm)

	jobRegistry := cronmanager.JobRegistry{
		"presence_sweep": cronmanager.Job{
			Func:     maintenance.NewPresenceSweeper(store).Sweep,
			Schedule: fmt.Sprintf("*/%d * * * *", cfg.PresenceSweepPeriod),
		},
		"activity_trim": cronmanager.Job{
			Func:     maintenance.NewSprintsCleaner(db).TrimActivityFeeds,
			Schedule: "0 1 * * *", // daily at 01:00
		},
		"drafts_clean": cronmanager.Job{
			Func:     maintenance.NewSprintsCleaner(db).DeleteAbandonedDrafts,
			Schedule: "0 2 * * *", // daily at 02:00
		},
	}

	cronManager := cronmanager.NewCronManager(jobRegistry)
	if err := cronManager.LoadJobs(); err != nil {
		slog.Error("Failed to load cron jobs", "err", err)
		os.Exit(1)
	}

	s := &Services{
		db:              db,
		store:           store,
		issuer:          issuer,
		sessionsManager: sm,
	}

	cronManager.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down gracefully, press Ctrl+C again to force")
		cronManager.Stop()
		sm.Close()
		os.Exit(0)
	}()

	// Global middlewares
	e.Use(ServerHeader)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Limit: "1M",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/api/sprints/:sprintId/collab/"
		},
	}))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level:     9,
		MinLength: 2048,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/api/sprints/:sprintId/collab/"
		},
	}))
	if cfg.MetricsEnable {
		e.Use(echoprometheus.NewMiddleware("sprintor"))
	}
	e.Pre(middleware.AddTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		Skipper: func(c echo.Context) bool {
			return strings.Contains(c.Request().URL.Path, "collab")
		},
	}))

	e.Validator = NewRequestValidator()

	AddAuthenticationServices(db, e, []byte(cfg.SecretKey))

	apiGroup := e.Group("/api/")

	authGroup := apiGroup.Group("auth/",
		AuthMiddleware(AuthConfig{
			Secret: []byte(cfg.SecretKey),
			DB:     db,
		}),
	)

	s.AddSprintServices(authGroup)

	// Доступ участников по токену спринта, без учетной записи
	s.AddSprintAccessServices(apiGroup)

	// Version endpoint
	apiGroup.GET("version/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"version": version,
			"sign_up": cfg.SignUpEnable,
			"demo":    cfg.Demo,
		})
	})

	// Health endpoint
	apiGroup.GET("_health/", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// Prometheus metrics
	if cfg.MetricsEnable {
		go func() {
			bootTimeGauge := prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "sprintor",
				Name:      "boot_time",
				Help:      "Server startup time",
			})
			bootTimeGauge.Set(float64(time.Now().UnixMilli()))

			if err := prometheus.Register(bootTimeGauge); err != nil {
				slog.Error("Register boot time gauge", "err", err)
				os.Exit(1)
			}

			metrics := echo.New()
			metrics.HideBanner = true
			metrics.GET("/metrics", echoprometheus.NewHandler())
			if err := metrics.Start(":2112"); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server fail", "err", err)
			}
		}()
	}

	if err := e.Start(":8080"); err != nil {
		slog.Error("Server fail", "err", err)
	}
}
