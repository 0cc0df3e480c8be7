// Пакет для управления фоновыми cron-задачами.
//
// Основные возможности:
//   - Реестр именованных задач с расписанием.
//   - Загрузка, добавление и удаление задач на лету.
//   - Запуск и остановка диспетчера с ожиданием завершения задач.
package cronmanager

import (
	"fmt"
	"sync"

	"log/slog"

	"github.com/robfig/cron/v3"
)

type CronJobFunc func()

type Job struct {
	Func     CronJobFunc
	Schedule string
}

type JobRegistry map[string]Job

type CronManager struct {
	dispatcher  *cron.Cron
	jobs        map[string]cron.EntryID
	mu          sync.Mutex
	jobRegistry JobRegistry
}

// NewCronManager создает менеджер по реестру задач. Паника внутри задачи
// не роняет диспетчер.
func NewCronManager(jobRegistry JobRegistry) *CronManager {
	dispatcher := cron.New(
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)

	return &CronManager{
		dispatcher:  dispatcher,
		jobs:        make(map[string]cron.EntryID),
		jobRegistry: jobRegistry,
	}
}

// LoadJobs пересобирает расписание из реестра. Задача с некорректным
// расписанием пропускается с записью в лог.
func (cm *CronManager) LoadJobs() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for name, entryID := range cm.jobs {
		cm.dispatcher.Remove(entryID)
		delete(cm.jobs, name)
	}

	for name, job := range cm.jobRegistry {
		if err := cm.addJob(name, job.Schedule); err != nil {
			slog.Error("Error adding job", "name", name, "err", err)
		}
	}

	return nil
}

func (cm *CronManager) addJob(name, schedule string) error {
	job, exists := cm.jobRegistry[name]
	if !exists {
		return fmt.Errorf("No job function registered for name: %s", name)
	}

	id, err := cm.dispatcher.AddFunc(schedule, job.Func)
	if err != nil {
		return fmt.Errorf("Failed to add job '%s': %v", name, err)
	}
	cm.jobs[name] = id
	return nil
}

// RemoveJob снимает задачу с расписания по имени.
func (cm *CronManager) RemoveJob(name string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if entryID, exists := cm.jobs[name]; exists {
		cm.dispatcher.Remove(entryID)
		delete(cm.jobs, name)
	}
}

func (cm *CronManager) Start() {
	cm.dispatcher.Start()
}

// Stop останавливает диспетчер и дожидается завершения запущенных задач.
func (cm *CronManager) Stop() {
	ctx := cm.dispatcher.Stop()
	<-ctx.Done()
}
