// Логирование запросов GORM поверх slog с порогом медленных запросов.
//
// Основные возможности:
//   - Логирование запросов GORM с использованием slog.
//   - Выделение медленных запросов, превышающих заданный порог времени.
//   - Фильтрация параметров запросов для безопасной подстановки в SQL.
package gormlogger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormLog "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

type GormLogger struct {
	SlowThreshold        time.Duration
	ParameterizedQueries bool
	logger               *slog.Logger
}

func NewGormLogger(logger *slog.Logger, slowThreshold time.Duration, paramQueries bool) *GormLogger {
	return &GormLogger{logger: logger, SlowThreshold: slowThreshold, ParameterizedQueries: paramQueries}
}

func (gl *GormLogger) LogMode(level gormLog.LogLevel) gormLog.Interface {
	return &GormLogger{logger: gl.logger, SlowThreshold: gl.SlowThreshold, ParameterizedQueries: gl.ParameterizedQueries}
}

func (gl *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	gl.logger.Info(fmt.Sprintf(msg, data...))
}

func (gl *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	gl.logger.Warn(fmt.Sprintf(msg, data...))
}

func (gl *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	gl.logger.Error(fmt.Sprintf(msg, data...))
}

func (gl *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		gl.logger.Error("",
			slog.String("file", utils.FileWithLineNum()),
			slog.String("elapsed", elapsed.String()),
			slog.Int64("rowsCount", rows),
			slog.String("err", err.Error()),
			slog.String("sql", sql),
		)
	case elapsed > gl.SlowThreshold && gl.SlowThreshold != 0:
		gl.logger.Warn(fmt.Sprintf("SLOW SQL >= %v", gl.SlowThreshold),
			slog.String("file", utils.FileWithLineNum()),
			slog.String("elapsed", elapsed.String()),
			slog.Int64("rowsCount", rows),
			slog.String("sql", sql),
		)
	default:
		gl.logger.Debug("SQL trace",
			slog.String("file", utils.FileWithLineNum()),
			slog.String("elapsed", elapsed.String()),
			slog.Int64("rowsCount", rows),
			slog.String("sql", sql),
		)
	}
}

func (gl *GormLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if gl.ParameterizedQueries {
		return sql, nil
	}
	return sql, params
}
