// Управление конфигурацией приложения из переменных окружения.
// Содержит структуру Config для хранения параметров и функцию ReadConfig для их загрузки.
//
// Основные возможности:
//   - Загрузка конфигурации из переменных окружения с использованием тегов struct.
//   - Валидация обязательных переменных.
//   - Преобразование типов данных из переменных окружения (string, int, bool).
//   - Маскировка секретных значений (passwords) в логах.
//   - Значения по умолчанию для необязательных параметров.
package config

import (
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"strings"
)

type Config struct {
	SecretKey string `env:"SECRET_KEY"`

	DatabaseDSN string `env:"DATABASE_URL"`

	DefaultUserEmail string `env:"DEFAULT_EMAIL"`

	WebURLRaw string `env:"WEB_URL"`
	WebURL    *url.URL

	SessionsDBPath string `env:"SESSIONS_DB_PATH"`

	ExternalLimiterRaw string `env:"EXTERNAL_LIMITER"`
	ExternalLimiter    *url.URL

	// Период (в минутах) чистки неактивных участников спринтов
	PresenceSweepPeriod int `env:"PRESENCE_SWEEP_PERIOD"`

	Demo          bool `env:"DEMO"`
	SignUpEnable  bool `env:"SIGN_UP_ENABLE"`
	MetricsEnable bool `env:"METRICS"`
}

// ReadConfig загружает конфигурацию приложения из переменных окружения и выполняет валидацию.
// Если SECRET_KEY не задан, приложение завершает работу с ошибкой: без него невозможно
// подписывать сессионные токены.
func ReadConfig() *Config {
	config := &Config{}

	envConfig("env", config)

	if config.SecretKey == "" {
		slog.Error("SECRET_KEY is required")
		os.Exit(1)
	}

	if config.WebURLRaw != "" {
		var err error
		config.WebURL, err = url.Parse(config.WebURLRaw)
		if err != nil {
			slog.Error("WEB_URL incorrect", "err", err)
			os.Exit(1)
		}
	}

	if config.ExternalLimiterRaw != "" {
		var err error
		config.ExternalLimiter, err = url.Parse(config.ExternalLimiterRaw)
		if err != nil {
			slog.Error("EXTERNAL_LIMITER incorrect", "err", err)
			os.Exit(1)
		}
	}

	if config.PresenceSweepPeriod <= 0 || config.PresenceSweepPeriod > 59 {
		config.PresenceSweepPeriod = 1
	}

	return config
}

// Присваивает полям в переданной структуре значения переменных. Название переменной
// для каждого поля лежит в теге этого поля.
func envConfig(key string, s interface{}) {
	v := reflect.ValueOf(s).Elem()
	typeParam := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fName := typeParam.Field(i).Name
		fEnvTag := typeParam.Field(i).Tag.Get(key)

		if !Exist(fEnvTag) {
			continue
		}

		logValue := GetEnv(fEnvTag)
		if logValue == "" {
			continue
		}

		// Secure passwords in log
		if strings.Contains(strings.ToLower(fName), "pass") || strings.Contains(strings.ToLower(fName), "secret") || strings.Contains(strings.ToLower(fName), "token") {
			pass := strings.Split(GetEnv(fEnvTag), "")
			logValue = pass[0]
			for i := 1; i < len(pass)-1; i++ {
				logValue += "*"
			}
			logValue += pass[len(pass)-1]
		}
		slog.Info("Set config value",
			slog.String("key", typeParam.Name()+"."+fName),
			slog.String("value", logValue),
			slog.String("source", "ENVIRONMENT"),
		)

		switch v.Field(i).Interface().(type) {
		case string:
			v.Field(i).SetString(GetEnv(fEnvTag))
		case int:
			v.Field(i).SetInt(int64(GetIntEnv(fEnvTag)))
		case bool:
			v.Field(i).SetBool(GetBoolEnv(fEnvTag))
		}
	}
}
