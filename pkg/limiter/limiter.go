package limiter

import (
	"log/slog"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/config"
)

type LimiterInt interface {
	CanCreateSprint(userId string) bool
	GetRemainingSprints(userId string) int
}

var Limiter LimiterInt = CommunityLimiter{}

func Init(cfg *config.Config) {
	if cfg.ExternalLimiter == nil {
		slog.Info("Using Community limiter")
		return
	}
	Limiter = NewExternalLimiter(cfg.ExternalLimiter)
}

type CommunityLimiter struct{}

func (c CommunityLimiter) CanCreateSprint(userId string) bool {
	return true
}

func (c CommunityLimiter) GetRemainingSprints(userId string) int {
	return 99999999
}
