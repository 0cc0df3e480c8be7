package maintenance

import (
	"log/slog"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"gorm.io/gorm"
)

// Черновики, к которым не прикасались дольше этого срока, считаются брошенными
const draftAbandonPeriod = 90 * 24 * time.Hour

type SprintsCleaner struct {
	db *gorm.DB
}

func NewSprintsCleaner(db *gorm.DB) *SprintsCleaner {
	return &SprintsCleaner{db: db}
}

// TrimActivityFeeds усекает ленты активностей всех спринтов до лимита.
// Подстраховка: основное усечение происходит при записи события.
func (sc *SprintsCleaner) TrimActivityFeeds() {
	var sprintIds []string
	if err := sc.db.Model(&dao.SprintActivity{}).
		Distinct("sprint_id").
		Pluck("sprint_id", &sprintIds).Error; err != nil {
		slog.Error("List sprints with activities", "err", err)
		return
	}

	for _, rawId := range sprintIds {
		var count int64
		if err := sc.db.Model(&dao.SprintActivity{}).
			Where("sprint_id = ?", rawId).
			Count(&count).Error; err != nil {
			continue
		}
		if count <= int64(types.ActivityFeedLimit) {
			continue
		}

		var sprint dao.Sprint
		if err := sc.db.Select("id").Where("id = ?", rawId).First(&sprint).Error; err != nil {
			continue
		}
		if err := dao.TrimSprintActivities(sc.db, sprint.Id, types.ActivityFeedLimit); err != nil {
			slog.Error("Trim activity feed", "sprintId", rawId, "err", err)
		}
	}
}

// DeleteAbandonedDrafts удаляет черновики спринтов, не менявшиеся три месяца.
func (sc *SprintsCleaner) DeleteAbandonedDrafts() {
	cutoff := time.Now().Add(-draftAbandonPeriod)

	var drafts []dao.Sprint
	if err := sc.db.
		Where("status = ?", types.SprintDraft).
		Where("updated_at < ?", cutoff).
		Find(&drafts).Error; err != nil {
		slog.Error("List abandoned drafts", "err", err)
		return
	}

	for _, sprint := range drafts {
		if err := sc.db.Delete(&sprint).Error; err != nil {
			slog.Error("Delete abandoned draft", "sprintId", sprint.Id, "err", err)
		}
	}

	if len(drafts) > 0 {
		slog.Info("Deleted abandoned draft sprints", "count", len(drafts))
	}
}
