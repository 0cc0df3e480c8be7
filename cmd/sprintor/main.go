// Основной пакет приложения Sprintor. Отвечает за запуск приложения, инициализацию базы данных, миграцию моделей и запуск основного сервера приложения.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/config"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/gormlogger"
	"github.com/ParashDev/sprintor-sub002/pkg/limiter"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var version string = "DEV"

var models = []any{&dao.User{}, &dao.Sprint{}, &dao.SprintStory{}, &dao.SprintMember{}, &dao.SprintActivity{}}

// Пример запуска: go run main.go --noMigration --trace
func main() {
	noTranslateFlag := flag.Bool("noTranslate", false, "Turn off BD errors translate")
	paramQueries := flag.Bool("paramQueries", true, "Mask queries params in log")
	noMigration := flag.Bool("noMigration", false, "Turn off DB migration")
	trace := flag.Bool("trace", false, "Verbose logs and sql trace")
	flag.Parse()

	PrintBanner()

	cfg := config.ReadConfig()

	if *trace {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// Set prod log format
	if version != "DEV" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})))
	}

	limiter.Init(cfg)

	slog.Info("Sprintor start.")

	if cfg.DefaultUserEmail == "" {
		slog.Error("Default email not preset")
		os.Exit(1)
	}

	gormConfig := &gorm.Config{
		TranslateError: !*noTranslateFlag,
		Logger:         gormlogger.NewGormLogger(slog.Default(), time.Second*4, *paramQueries),
	}

	var db *gorm.DB
	var err error
	if cfg.DatabaseDSN == "" {
		// Локальный запуск без Postgres
		slog.Warn("DATABASE_URL not set, using embedded sqlite database")
		db, err = gorm.Open(sqlite.Open("sprintor.db"), gormConfig)
	} else {
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DatabaseDSN,
			PreferSimpleProtocol: false, // disables implicit prepared statement usage
		}), gormConfig)
	}
	if err != nil {
		slog.Error("Fail init DB connection", "err", err)
		os.Exit(1)
	}

	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Fail set settings to conn pool", "err", err)
		os.Exit(1)
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(time.Minute * 15)

	if !*noMigration {
		slog.Info("Migrate models")
		if err := db.AutoMigrate(models...); err != nil {
			slog.Error("Models migration failed", "err", err)
			os.Exit(1)
		}
	}

	var usersExist bool
	if err := db.Model(&dao.User{}).
		Select("EXISTS(?)",
			db.Model(&dao.User{}).Select("1"),
		).
		Find(&usersExist).Error; err != nil {
		slog.Error("Fail count users in DB", "err", err)
		os.Exit(1)
	}

	if !usersExist {
		slog.Info("Creating default user", "email", cfg.DefaultUserEmail)
		dao.AddDefaultUser(db, cfg.DefaultUserEmail)
	}

	sprintor.Server(db, cfg, version)
}

// PrintBanner выводит заголовок приложения с версией.
func PrintBanner() {
	banner := `
   _____            _       _
  / ____|          (_)     | |
 | (___  _ __  _ __ _ _ __ | |_ ___  _ __
  \___ \| '_ \| '__| | '_ \| __/ _ \| '__|
  ____) | |_) | |  | | | | | || (_) | |
 |_____/| .__/|_|  |_|_| |_|\__\___/|_|   %s
        |_|
Collaborative sprint planning server
----------------------------------------------------
`
	colorReset := "\033[0m"
	colorYellow := "\033[33m"

	formattedVersion := version
	if version == "DEV" {
		formattedVersion = colorYellow + version + colorReset
	}

	fmt.Printf(banner, formattedVersion)
}
