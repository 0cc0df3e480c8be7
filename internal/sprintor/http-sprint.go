package sprintor

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/ParashDev/sprintor-sub002/pkg/limiter"
	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sethvargo/go-password/password"
	"gorm.io/gorm"
)

type SprintContext struct {
	AuthContext
	Sprint dao.Sprint
}

func (s *Services) SprintMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sprintId := c.Param("sprintId")
		user := c.(AuthContext).User

		query := s.db.
			Preload("Host").
			Preload("Stories", func(db *gorm.DB) *gorm.DB {
				return db.Order("board_column, position, created_at")
			}).
			Preload("Members")

		if val, err := uuid.FromString(sprintId); err != nil {
			// Номер спринта уникален в пределах хоста
			query = query.Where("sprints.sequence_id = ?", sprintId).
				Where("sprints.host_id = ?", user.ID)
		} else {
			query = query.Where("sprints.id = ?", val.String())
		}

		var sprint dao.Sprint
		if err := query.First(&sprint).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return EErrorDefined(c, apierrors.ErrSprintNotFound)
			}
			return EError(c, err)
		}

		return next(SprintContext{c.(AuthContext), sprint})
	}
}

// SprintHostMiddleware пропускает только владельца спринта и суперпользователя.
func (s *Services) SprintHostMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sprintContext, ok := c.(SprintContext)
		if !ok {
			return EError(c, errors.New("wrong context"))
		}
		if sprintContext.User.ID != sprintContext.Sprint.HostId && !sprintContext.User.IsSuperuser {
			return EErrorDefined(c, apierrors.ErrSprintForbidden)
		}
		return next(c)
	}
}

// DemoMiddleware блокирует разрушающие операции в демо-режиме.
func DemoMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if cfg.Demo && c.Request().Method == http.MethodDelete {
			return EErrorDefined(c, apierrors.ErrDemo)
		}
		return next(c)
	}
}

func (s *Services) AddSprintServices(g *echo.Group) {
	g.GET("sprints/", s.getSprintList)
	g.POST("sprints/", s.createSprint)

	sprintGroup := g.Group("sprints/:sprintId", s.SprintMiddleware)
	sprintGroup.Use(DemoMiddleware)

	sprintHostGroup := sprintGroup.Group("", s.SprintHostMiddleware)

	sprintGroup.GET("/", s.getSprint)
	sprintGroup.GET("/activities/", s.getSprintActivityList)

	sprintHostGroup.PATCH("/", s.updateSprint)
	sprintHostGroup.DELETE("/", s.deleteSprint)
	sprintHostGroup.POST("/status/", s.updateSprintStatus)
	sprintHostGroup.POST("/password/", s.generateSprintPassword)

	sprintHostGroup.POST("/stories/", s.createSprintStory)
	sprintHostGroup.PATCH("/stories/:storyId/", s.updateSprintStory)
	sprintHostGroup.POST("/stories/:storyId/move/", s.moveSprintStory)
	sprintHostGroup.DELETE("/stories/:storyId/", s.deleteSprintStory)
}

type requestSprint struct {
	Name             string   `json:"name" validate:"omitempty,sprintName"`
	AllowGuestAccess *bool    `json:"allow_guest_access"`
	Password         *string  `json:"password"`
	Columns          []string `json:"columns" validate:"omitempty,min=1,max=10,dive,boardColumn"`
}

type requestSprintStatus struct {
	Status types.SprintStatus `json:"status"`
}

type requestStory struct {
	Title    string `json:"title" validate:"omitempty,sprintName"`
	Body     string `json:"body"`
	Column   string `json:"column"`
	Points   *int   `json:"points"`
	Position *int   `json:"position"`
}

type requestStoryMove struct {
	Column   string `json:"column"`
	Position int    `json:"position"`
}

// getSprintList godoc
// @id getSprintList
// @Summary Спринты: получение списка спринтов пользователя
// @Description Возвращает спринты, которыми владеет текущий пользователь.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} dto.SprintLight "Список спринтов"
// @Failure 401 {object} apierrors.DefinedError "Необходима авторизация"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/ [get]
func (s *Services) getSprintList(c echo.Context) error {
	user := c.(AuthContext).User

	var sprints []dao.Sprint
	if err := s.db.
		Where("host_id = ?", user.ID).
		Order("sequence_id").
		Find(&sprints).Error; err != nil {
		return EError(c, err)
	}

	return c.JSON(
		http.StatusOK,
		dao.SliceToSlice(&sprints, func(s *dao.Sprint) dto.SprintLight { return *s.ToLightDTO() }))
}

// createSprint godoc
// @id createSprint
// @Summary Спринты: создание спринта
// @Description Создает новый спринт. Создатель становится владельцем.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body requestSprint true "Информация о спринте"
// @Success 201 {object} dto.Sprint "Созданный спринт"
// @Failure 400 {object} apierrors.DefinedError "Ошибка запроса"
// @Failure 401 {object} apierrors.DefinedError "Необходима авторизация"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/ [post]
func (s *Services) createSprint(c echo.Context) error {
	user := c.(AuthContext).User

	var req requestSprint
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}
	if req.Name == "" {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}
	if err := c.Validate(req); err != nil {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}

	if !limiter.Limiter.CanCreateSprint(user.ID) {
		return EErrorDefined(c, apierrors.ErrSprintLimitReached)
	}

	sprint := dao.Sprint{
		Id:      dao.GenUUID(),
		HostId:  user.ID,
		Host:    user,
		Name:    req.Name,
		Status:  types.SprintDraft,
		Columns: types.StringList(req.Columns),
	}
	if req.AllowGuestAccess != nil {
		sprint.AllowGuestAccess = *req.AllowGuestAccess
	}
	if req.Password != nil && *req.Password != "" {
		sprint.PasswordHash = dao.GenPasswordHash(*req.Password)
	}

	if err := s.db.Create(&sprint).Error; err != nil {
		return EError(c, err)
	}

	return c.JSON(http.StatusCreated, sprint.ToDTO())
}

// getSprint godoc
// @id getSprint
// @Summary Спринты: получение информации о спринте
// @Description Получение информации о спринте вместе с участниками сессии.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Success 200 {object} dto.Sprint "Спринт"
// @Failure 401 {object} apierrors.DefinedError "Необходима авторизация"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/ [get]
func (s *Services) getSprint(c echo.Context) error {
	sprint := c.(SprintContext).Sprint

	doc := sprint.ToDTO()
	doc.Participants = s.store.Participants(sprint.Id)
	return c.JSON(http.StatusOK, doc)
}

// updateSprint godoc
// @id updateSprint
// @Summary Спринты: обновление информации о спринте
// @Description Обновляет имя, колонки и политику доступа спринта. Только владелец.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Param request body requestSprint true "Информация о спринте"
// @Success 200 {object} dto.Sprint "Спринт"
// @Failure 400 {object} apierrors.DefinedError "Ошибка запроса"
// @Failure 403 {object} apierrors.DefinedError "Доступ запрещен"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/ [patch]
func (s *Services) updateSprint(c echo.Context) error {
	sprint := c.(SprintContext).Sprint
	user := c.(SprintContext).User

	var req requestSprint
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}
	if err := c.Validate(req); err != nil {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}

	fields := []string{}
	if req.Name != "" {
		sprint.Name = req.Name
		fields = append(fields, "name")
	}
	if req.AllowGuestAccess != nil {
		sprint.AllowGuestAccess = *req.AllowGuestAccess
		fields = append(fields, "allow_guest_access")
	}
	if req.Password != nil {
		// Пустой пароль снимает защиту
		if *req.Password == "" {
			sprint.PasswordHash = ""
		} else {
			sprint.PasswordHash = dao.GenPasswordHash(*req.Password)
		}
		fields = append(fields, "password_hash")
	}
	if len(req.Columns) > 0 {
		sprint.Columns = types.StringList(req.Columns)
		fields = append(fields, "columns")
	}

	if len(fields) > 0 {
		if err := s.db.Model(&sprint).Select(fields).Updates(&sprint).Error; err != nil {
			return EError(c, err)
		}

		act := dao.NewSprintActivity(sprint.Id, dao.ActivitySprintUpdated, user.ID, user.GetName(), map[string]interface{}{
			"fields": fields,
		})
		// Лента и рассылка не должны ронять уже выполненную запись
		if err := s.store.AppendActivity(&act); err != nil {
			slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
		}
		if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
			slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
		}
	}

	return c.JSON(http.StatusOK, sprint.ToDTO())
}

// updateSprintStatus godoc
// @id updateSprintStatus
// @Summary Спринты: смена статуса спринта
// @Description Переводит спринт по жизненному циклу. Движение только вперед.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Param request body requestSprintStatus true "Новый статус"
// @Success 200 {object} dto.Sprint "Спринт"
// @Failure 400 {object} apierrors.DefinedError "Недопустимый переход статуса"
// @Failure 403 {object} apierrors.DefinedError "Доступ запрещен"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/status/ [post]
func (s *Services) updateSprintStatus(c echo.Context) error {
	sprint := c.(SprintContext).Sprint
	user := c.(SprintContext).User

	var req requestSprintStatus
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}

	if !sprint.Status.CanTransitionTo(req.Status) {
		return EErrorDefined(c, apierrors.ErrSprintStatusTransition.WithFormattedMessage(sprint.Status, req.Status))
	}

	if sprint.Status != req.Status {
		sprint.Status = req.Status
		if err := s.db.Model(&sprint).Select("status").Updates(&sprint).Error; err != nil {
			return EError(c, err)
		}

		act := dao.NewSprintActivity(sprint.Id, dao.ActivitySprintUpdated, user.ID, user.GetName(), map[string]interface{}{
			"status": req.Status,
		})
		if err := s.store.AppendActivity(&act); err != nil {
			slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
		}
		if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
			slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
		}
	}

	return c.JSON(http.StatusOK, sprint.ToDTO())
}

// generateSprintPassword godoc
// @id generateSprintPassword
// @Summary Спринты: генерация пароля спринта
// @Description Генерирует новый пароль для входа участников и возвращает его открытым текстом один раз.
// @Tags Sprint
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Success 200 {object} map[string]string "Сгенерированный пароль"
// @Failure 403 {object} apierrors.DefinedError "Доступ запрещен"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/password/ [post]
func (s *Services) generateSprintPassword(c echo.Context) error {
	sprint := c.(SprintContext).Sprint

	pass, err := password.Generate(12, 4, 0, false, false)
	if err != nil {
		return EError(c, err)
	}

	sprint.PasswordHash = dao.GenPasswordHash(pass)
	if err := s.db.Model(&sprint).Select("password_hash").Updates(&sprint).Error; err != nil {
		return EError(c, err)
	}

	if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
		slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"password": pass})
}

// deleteSprint godoc
// @id deleteSprint
// @Summary Спринты: удаление спринта
// @Description Удаляет спринт вместе с карточками, участниками и лентой активностей.
// @Tags Sprint
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Success 204 "Спринт удален"
// @Failure 403 {object} apierrors.DefinedError "Доступ запрещен"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/ [delete]
func (s *Services) deleteSprint(c echo.Context) error {
	sprint := c.(SprintContext).Sprint

	if err := s.db.Delete(&sprint).Error; err != nil {
		return EError(c, err)
	}

	// Подписчики получают nil-снимок и закрывают сессии
	s.store.DropSprint(sprint.Id)

	return c.NoContent(http.StatusNoContent)
}

// getSprintActivityList godoc
// @id getSprintActivityList
// @Summary Спринты: лента активностей
// @Description Возвращает последние события спринта, свежие впереди.
// @Tags Sprint
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Success 200 {array} dto.SprintActivity "Лента активностей"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/activities/ [get]
func (s *Services) getSprintActivityList(c echo.Context) error {
	sprint := c.(SprintContext).Sprint

	activities, err := s.store.RecentActivities(sprint.Id, types.ActivityFeedLimit)
	if err != nil {
		return EError(c, err)
	}
	return c.JSON(http.StatusOK, activities)
}

// createSprintStory godoc
// @id createSprintStory
// @Summary Спринты: создание карточки
// @Description Добавляет карточку в колонку доски спринта.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Param request body requestStory true "Карточка"
// @Success 201 {object} dto.SprintStory "Созданная карточка"
// @Failure 400 {object} apierrors.DefinedError "Ошибка запроса"
// @Failure 404 {object} apierrors.DefinedError "Спринт не найден"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/stories/ [post]
func (s *Services) createSprintStory(c echo.Context) error {
	ctx := c.(SprintContext)
	return s.createStory(c, &ctx.Sprint, ctx.User.ID, ctx.User.GetName())
}

// Общее ядро создания карточки: вызывается и владельцем, и участником сессии.
func (s *Services) createStory(c echo.Context, sprint *dao.Sprint, actorId string, actorName string) error {
	var req requestStory
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}
	if req.Title == "" {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}
	if err := c.Validate(req); err != nil {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}

	column := req.Column
	if column == "" {
		column = sprint.Columns[0]
	} else if !sprintHasColumn(sprint, column) {
		return EErrorDefined(c, apierrors.ErrSprintUnknownColumn.WithFormattedMessage(column))
	}

	story := dao.SprintStory{
		Id:          dao.GenUUID(),
		SprintId:    sprint.Id,
		Title:       req.Title,
		Body:        req.Body,
		Column:      column,
		Points:      req.Points,
		CreatedById: actorId,
	}
	if req.Position != nil {
		story.Position = *req.Position
	} else {
		var maxPos int64
		s.db.Model(&dao.SprintStory{}).
			Where("sprint_id = ? AND board_column = ?", sprint.Id, column).
			Count(&maxPos)
		story.Position = int(maxPos)
	}

	if err := s.db.Create(&story).Error; err != nil {
		return EError(c, err)
	}

	act := dao.NewSprintActivity(sprint.Id, dao.ActivityStoryCreated, actorId, actorName, map[string]interface{}{
		"story_id": story.Id,
		"title":    story.Title,
		"column":   story.Column,
	})
	if err := s.store.AppendActivity(&act); err != nil {
		slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
	}
	if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
		slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
	}

	return c.JSON(http.StatusCreated, story.ToDTO())
}

// updateSprintStory godoc
// @id updateSprintStory
// @Summary Спринты: обновление карточки
// @Description Обновляет заголовок, описание и оценку карточки.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Param storyId path string true "Идентификатор карточки"
// @Param request body requestStory true "Карточка"
// @Success 200 {object} dto.SprintStory "Карточка"
// @Failure 400 {object} apierrors.DefinedError "Ошибка запроса"
// @Failure 404 {object} apierrors.DefinedError "Карточка не найдена"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/stories/{storyId}/ [patch]
func (s *Services) updateSprintStory(c echo.Context) error {
	ctx := c.(SprintContext)
	return s.updateStory(c, &ctx.Sprint, ctx.User.ID, ctx.User.GetName())
}

func (s *Services) updateStory(c echo.Context, sprint *dao.Sprint, actorId string, actorName string) error {
	story, err := s.findStory(c, sprint)
	if err != nil {
		return EError(c, err)
	}

	var req requestStory
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}
	if err := c.Validate(req); err != nil {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}

	fields := []string{}
	if req.Title != "" {
		story.Title = req.Title
		fields = append(fields, "title")
	}
	if req.Body != "" {
		story.Body = req.Body
		fields = append(fields, "body")
	}
	if req.Points != nil {
		story.Points = req.Points
		fields = append(fields, "points")
	}

	if len(fields) > 0 {
		if err := s.db.Model(story).Select(fields).Updates(story).Error; err != nil {
			return EError(c, err)
		}

		act := dao.NewSprintActivity(sprint.Id, dao.ActivityStoryUpdated, actorId, actorName, map[string]interface{}{
			"story_id": story.Id,
			"title":    story.Title,
		})
		if err := s.store.AppendActivity(&act); err != nil {
			slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
		}
		if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
			slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
		}
	}

	return c.JSON(http.StatusOK, story.ToDTO())
}

// moveSprintStory godoc
// @id moveSprintStory
// @Summary Спринты: перемещение карточки
// @Description Переносит карточку в другую колонку или позицию. Последняя запись побеждает.
// @Tags Sprint
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Param storyId path string true "Идентификатор карточки"
// @Param request body requestStoryMove true "Куда перенести"
// @Success 200 {object} dto.SprintStory "Карточка"
// @Failure 400 {object} apierrors.DefinedError "Неизвестная колонка"
// @Failure 404 {object} apierrors.DefinedError "Карточка не найдена"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/stories/{storyId}/move/ [post]
func (s *Services) moveSprintStory(c echo.Context) error {
	ctx := c.(SprintContext)
	return s.moveStory(c, &ctx.Sprint, ctx.User.ID, ctx.User.GetName())
}

func (s *Services) moveStory(c echo.Context, sprint *dao.Sprint, actorId string, actorName string) error {
	story, err := s.findStory(c, sprint)
	if err != nil {
		return EError(c, err)
	}

	var req requestStoryMove
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}

	if !sprintHasColumn(sprint, req.Column) {
		return EErrorDefined(c, apierrors.ErrSprintUnknownColumn.WithFormattedMessage(req.Column))
	}

	from := story.Column
	story.Column = req.Column
	story.Position = req.Position
	if err := s.db.Model(story).Select("board_column", "position").Updates(story).Error; err != nil {
		return EError(c, err)
	}

	act := dao.NewSprintActivity(sprint.Id, dao.ActivityStoryMoved, actorId, actorName, map[string]interface{}{
		"story_id": story.Id,
		"title":    story.Title,
		"from":     from,
		"to":       req.Column,
	})
	if err := s.store.AppendActivity(&act); err != nil {
		slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
	}
	if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
		slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
	}

	return c.JSON(http.StatusOK, story.ToDTO())
}

// deleteSprintStory godoc
// @id deleteSprintStory
// @Summary Спринты: удаление карточки
// @Description Удаляет карточку с доски спринта.
// @Tags Sprint
// @Security ApiKeyAuth
// @Param sprintId path string true "Идентификатор или номер спринта"
// @Param storyId path string true "Идентификатор карточки"
// @Success 204 "Карточка удалена"
// @Failure 404 {object} apierrors.DefinedError "Карточка не найдена"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/auth/sprints/{sprintId}/stories/{storyId}/ [delete]
func (s *Services) deleteSprintStory(c echo.Context) error {
	ctx := c.(SprintContext)
	return s.deleteStory(c, &ctx.Sprint, ctx.User.ID, ctx.User.GetName())
}

func (s *Services) deleteStory(c echo.Context, sprint *dao.Sprint, actorId string, actorName string) error {
	story, err := s.findStory(c, sprint)
	if err != nil {
		return EError(c, err)
	}

	if err := s.db.Delete(story).Error; err != nil {
		return EError(c, err)
	}

	act := dao.NewSprintActivity(sprint.Id, dao.ActivityStoryDeleted, actorId, actorName, map[string]interface{}{
		"story_id": story.Id,
		"title":    story.Title,
	})
	if err := s.store.AppendActivity(&act); err != nil {
		slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
	}
	if err := s.store.NotifySprintChanged(sprint.Id); err != nil {
		slog.Error("Notify sprint changed", "sprintId", sprint.Id, "err", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Services) findStory(c echo.Context, sprint *dao.Sprint) (*dao.SprintStory, error) {
	storyId, err := uuid.FromString(c.Param("storyId"))
	if err != nil {
		return nil, apierrors.ErrSprintStoryNotFound
	}

	var story dao.SprintStory
	if err := s.db.
		Where("id = ?", storyId).
		Where("sprint_id = ?", sprint.Id).
		First(&story).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.ErrSprintStoryNotFound
		}
		return nil, err
	}
	return &story, nil
}

func sprintHasColumn(sprint *dao.Sprint, column string) bool {
	for _, col := range sprint.Columns {
		if col == column {
			return true
		}
	}
	return false
}
