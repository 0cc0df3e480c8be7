// Пакет фоновых задач обслуживания: чистка умолкших участников сессий,
// усечение лент активностей и удаление заброшенных черновиков спринтов.
package maintenance

import (
	"log/slog"

	sprintstore "github.com/ParashDev/sprintor-sub002/internal/sprintor/sprint-store"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
)

// PresenceSweeper убирает из сессий участников, чей heartbeat молчит
// дольше трех интервалов. Страховка на случай, когда клиент исчез, не
// попрощавшись (убитая вкладка, потеря сети).
type PresenceSweeper struct {
	store *sprintstore.Store
}

func NewPresenceSweeper(store *sprintstore.Store) *PresenceSweeper {
	return &PresenceSweeper{store: store}
}

func (ps *PresenceSweeper) Sweep() {
	removed := ps.store.SweepStaleParticipants(3 * types.HeartbeatInterval)
	if removed > 0 {
		slog.Info("Swept stale session participants", "count", removed)
	}
}
