package sprintor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	accesstoken "github.com/ParashDev/sprintor-sub002/internal/sprintor/access-token"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/collab"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/presence"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const participantNameCookie = "participant_name"

// Сессионный токен для мутаций доски передается заголовком
const sessionTokenHeader = "X-Session-Token"

type JoinRequest struct {
	ParticipantName string `json:"participant_name" validate:"omitempty,participantName"`
	Password        string `json:"password"`
}

type SessionTokenRequest struct {
	SessionToken string `json:"session_token"`
}

// Входящее сообщение вебсокет-сессии совместной работы.
type collabMessage struct {
	Type    string        `json:"type"`
	Cursor  *types.Cursor `json:"cursor,omitempty"`
	Visible *bool         `json:"visible,omitempty"`
}

// AddSprintAccessServices регистрирует маршруты доступа участников. Участники
// входят по токену спринта, учетная запись не требуется.
func (s *Services) AddSprintAccessServices(g *echo.Group) {
	accessGroup := g.Group("sprints/:sprintId")
	accessGroup.POST("/join/", s.joinSprint)
	accessGroup.POST("/verify/", s.verifySprintAccess)
	accessGroup.POST("/refresh/", s.refreshSprintAccess)
	accessGroup.POST("/leave/", s.leaveSprint)
	accessGroup.GET("/collab/", s.collabSprint)

	// Мутации доски по сессионному токену: уровень contribute и выше
	storyGroup := accessGroup.Group("/stories", s.SprintAccessMiddleware)
	storyGroup.Use(DemoMiddleware)
	storyGroup.POST("/", s.createSessionStory)
	storyGroup.PATCH("/:storyId/", s.updateSessionStory)
	storyGroup.POST("/:storyId/move/", s.moveSessionStory)
	storyGroup.DELETE("/:storyId/", s.deleteSessionStory)
}

type SprintAccessContext struct {
	echo.Context
	Sprint dao.Sprint
	Grant  *accesstoken.Grant
}

// SprintAccessMiddleware проверяет сессионный токен и заново выводит права по
// текущей политике спринта на каждой мутации. Уровень view не проходит.
func (s *Services) SprintAccessMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sprint, err := s.findPublicSprint(c)
		if err != nil {
			return EError(c, err)
		}

		grant, err := s.issuer.VerifyAccessToken(sprint, c.Request().Header.Get(sessionTokenHeader))
		if err != nil {
			return EError(c, err)
		}
		if !grant.AccessLevel.CanMutate() {
			return EErrorDefined(c, apierrors.ErrSprintForbidden)
		}

		return next(SprintAccessContext{c, *sprint, grant})
	}
}

// Публичный поиск спринта только по UUID. Номер спринта здесь недоступен:
// он перебирается, а этот маршрут не требует авторизации.
func (s *Services) findPublicSprint(c echo.Context) (*dao.Sprint, error) {
	sprintId, err := uuid.FromString(c.Param("sprintId"))
	if err != nil {
		return nil, apierrors.ErrSprintAccessDenied
	}

	var sprint dao.Sprint
	if err := s.db.Where("id = ?", sprintId.String()).First(&sprint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.ErrSprintAccessDenied
		}
		return nil, err
	}
	return &sprint, nil
}

// joinSprint godoc
// @id joinSprint
// @Summary Доступ: вход в спринт
// @Description Выдает сессионный токен доступа. Уровень доступа определяет сервер: владелец получает admin, вход по паролю — contribute, гость — view.
// @Tags SprintAccess
// @Accept json
// @Produce json
// @Param sprintId path string true "Идентификатор спринта"
// @Param request body JoinRequest true "Имя участника и пароль (если требуется)"
// @Success 200 {object} dto.SprintAccess "Токен доступа"
// @Failure 400 {object} apierrors.DefinedError "Не указано имя участника"
// @Failure 401 {object} apierrors.DefinedError "Требуется пароль или пароль неверен"
// @Failure 403 {object} apierrors.DefinedError "Спринт не найден или доступ запрещен"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/join/ [post]
func (s *Services) joinSprint(c echo.Context) error {
	sprint, err := s.findPublicSprint(c)
	if err != nil {
		return EError(c, err)
	}

	var req JoinRequest
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}
	if req.ParticipantName == "" {
		return EErrorDefined(c, apierrors.ErrParticipantNameRequired)
	}
	if err := c.Validate(req); err != nil {
		return EErrorDefined(c, apierrors.ErrSprintRequestValidate)
	}

	// Вход владельца: токен учетной записи не обязателен, но если он есть,
	// владелец спринта получает admin без пароля
	userId := ""
	if user, _, err := resolveUser(c, s.db, []byte(cfg.SecretKey)); err == nil && user != nil {
		userId = user.ID
	}

	access, err := s.issuer.IssueAccess(sprint, req.ParticipantName, req.Password, userId)
	if err != nil {
		return EError(c, err)
	}

	act := dao.NewSprintActivity(sprint.Id, dao.ActivityParticipantJoined, access.ParticipantId, req.ParticipantName, map[string]interface{}{
		"access_level": access.AccessLevel,
	})
	// Неудача ленты не отменяет выданный токен
	if err := s.store.AppendActivity(&act); err != nil {
		slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
	}

	c.SetCookie(&http.Cookie{
		Name:     participantNameCookie,
		Value:    req.ParticipantName,
		Path:     "/",
		Expires:  time.Now().AddDate(0, 1, 0),
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, access)
}

// verifySprintAccess godoc
// @id verifySprintAccess
// @Summary Доступ: проверка токена
// @Description Проверяет действительность токена и возвращает актуальный уровень доступа. Токен гостя перестает действовать, если гостевой доступ отключен.
// @Tags SprintAccess
// @Accept json
// @Produce json
// @Param sprintId path string true "Идентификатор спринта"
// @Param request body SessionTokenRequest true "Сессионный токен"
// @Success 200 {object} dto.SprintAccess "Информация о доступе"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Спринт не найден или доступ запрещен"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/verify/ [post]
func (s *Services) verifySprintAccess(c echo.Context) error {
	sprint, err := s.findPublicSprint(c)
	if err != nil {
		return EError(c, err)
	}

	var req SessionTokenRequest
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}

	grant, err := s.issuer.VerifyAccessToken(sprint, req.SessionToken)
	if err != nil {
		return EError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SprintAccess{
		SprintId:         grant.SprintId,
		ParticipantId:    grant.ParticipantId,
		AccessLevel:      grant.AccessLevel,
		PasswordRequired: sprint.PasswordRequired(),
		ExpiresAt:        grant.ExpiresAt,
		GrantedAt:        grant.IssuedAt,
	})
}

// refreshSprintAccess godoc
// @id refreshSprintAccess
// @Summary Доступ: продление токена
// @Description Выдает новый токен по действующему, сохраняя участника. Просроченный или отозванный токен не продлевается: требуется вход заново.
// @Tags SprintAccess
// @Accept json
// @Produce json
// @Param sprintId path string true "Идентификатор спринта"
// @Param request body SessionTokenRequest true "Сессионный токен"
// @Success 200 {object} dto.SprintAccess "Новый токен доступа"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Спринт не найден или доступ запрещен"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/refresh/ [post]
func (s *Services) refreshSprintAccess(c echo.Context) error {
	sprint, err := s.findPublicSprint(c)
	if err != nil {
		return EError(c, err)
	}

	var req SessionTokenRequest
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}

	access, _, err := s.issuer.RefreshAccessToken(sprint, req.SessionToken)
	if err != nil {
		return EError(c, err)
	}

	return c.JSON(http.StatusOK, access)
}

// leaveSprint godoc
// @id leaveSprint
// @Summary Доступ: выход из спринта
// @Description Отзывает токен и убирает участника из сессии. Повторный выход безопасен.
// @Tags SprintAccess
// @Accept json
// @Param sprintId path string true "Идентификатор спринта"
// @Param request body SessionTokenRequest true "Сессионный токен"
// @Success 204 "Выход выполнен"
// @Failure 403 {object} apierrors.DefinedError "Спринт не найден или доступ запрещен"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/leave/ [post]
func (s *Services) leaveSprint(c echo.Context) error {
	sprint, err := s.findPublicSprint(c)
	if err != nil {
		return EError(c, err)
	}

	var req SessionTokenRequest
	if err := c.Bind(&req); err != nil {
		return EError(c, apierrors.ErrSprintBadRequest)
	}

	if grant, err := s.issuer.VerifyAccessToken(sprint, req.SessionToken); err == nil {
		s.store.RemoveSprintParticipant(grant.SprintId, grant.ParticipantId)

		act := dao.NewSprintActivity(sprint.Id, dao.ActivityParticipantLeft, grant.ParticipantId, grant.Name, nil)
		if err := s.store.AppendActivity(&act); err != nil {
			slog.Error("Append sprint activity", "sprintId", sprint.Id, "err", err)
		}
	}

	// Выход идемпотентен: негодный токен уже не дает доступа
	if err := s.issuer.RevokeAccessToken(req.SessionToken); err != nil {
		var definedError apierrors.DefinedError
		if !errors.As(err, &definedError) {
			return EError(c, err)
		}
	}

	return c.NoContent(http.StatusNoContent)
}

// Каждый heartbeat продлевает токен; свежий уходит клиенту в потоке состояний.
// Спринт перечитывается на каждом продлении: смена политики доступа (пароль,
// гостевой вход) убивает живые сессии, а не только новые входы.
func (s *Services) sessionTokenRenewer(c echo.Context) collab.RenewFunc {
	return func(current string) (string, error) {
		sprint, err := s.findPublicSprint(c)
		if err != nil {
			return "", err
		}
		access, _, err := s.issuer.RefreshAccessToken(sprint, current)
		if err != nil {
			return "", err
		}
		return access.SessionToken, nil
	}
}

// collabSprint godoc
// @id collabSprint
// @Summary Доступ: вебсокет совместной работы
// @Description Открывает сессию реального времени: снимки доски, присутствие участников, курсоры и лента активностей. Токен передается в параметре token.
// @Tags SprintAccess
// @Param sprintId path string true "Идентификатор спринта"
// @Param token query string true "Сессионный токен"
// @Success 101 "Протокол переключен"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Спринт не найден или доступ запрещен"
// @Router /api/sprints/{sprintId}/collab/ [get]
func (s *Services) collabSprint(c echo.Context) error {
	sprint, err := s.findPublicSprint(c)
	if err != nil {
		return EError(c, err)
	}

	token := c.QueryParam("token")
	if token == "" {
		token = c.Request().Header.Get("Sec-WebSocket-Protocol")
	}
	grant, err := s.issuer.VerifyAccessToken(sprint, token)
	if err != nil {
		return EError(c, err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// TODO remove pattern "*"
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Open websocket connection", "err", err)
		return nil
	}
	defer conn.CloseNow()

	facade, err := collab.Connect(s.store, presence.NewRealClock(), grant, s.sessionTokenRenewer(c))
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "connect refused")
		return nil
	}
	defer facade.Close()

	ctx := c.Request().Context()

	// Пишущий цикл: каждое изменение состояния уходит клиенту
	go func() {
		for state := range facade.Updates() {
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, state)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Защита от потока кадров курсора быстрее окна отрисовки
	cursorGate := presence.NewThrottle(presence.NewRealClock(), types.PointerThrottleWindow)

	for {
		var msg collabMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			var closeError websocket.CloseError
			if !errors.As(err, &closeError) && !errors.Is(err, context.Canceled) {
				slog.Error("Read collab message", "sprintId", sprint.Id, "err", err)
			}
			break
		}

		switch msg.Type {
		case "cursor":
			if msg.Cursor != nil && cursorGate.Allow() {
				facade.UpdateCursor(*msg.Cursor)
			}
		case "visibility":
			if msg.Visible != nil {
				facade.SetVisible(*msg.Visible)
			}
		case "leave":
			// Явный выход; обрыв сокета без него завершает сессию так же
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}

	return nil
}

// createSessionStory godoc
// @id createSessionStory
// @Summary Доступ: создание карточки участником сессии
// @Description Добавляет карточку в колонку доски. Требует сессионный токен с уровнем contribute или admin.
// @Tags SprintAccess
// @Accept json
// @Produce json
// @Param sprintId path string true "Идентификатор спринта"
// @Param X-Session-Token header string true "Сессионный токен"
// @Param request body requestStory true "Карточка"
// @Success 201 {object} dto.SprintStory "Созданная карточка"
// @Failure 400 {object} apierrors.DefinedError "Ошибка запроса"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Недостаточный уровень доступа"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/stories/ [post]
func (s *Services) createSessionStory(c echo.Context) error {
	ctx := c.(SprintAccessContext)
	return s.createStory(c, &ctx.Sprint, ctx.Grant.ParticipantId, ctx.Grant.Name)
}

// updateSessionStory godoc
// @id updateSessionStory
// @Summary Доступ: обновление карточки участником сессии
// @Description Обновляет заголовок, описание и оценку карточки. Требует сессионный токен с уровнем contribute или admin.
// @Tags SprintAccess
// @Accept json
// @Produce json
// @Param sprintId path string true "Идентификатор спринта"
// @Param storyId path string true "Идентификатор карточки"
// @Param X-Session-Token header string true "Сессионный токен"
// @Param request body requestStory true "Карточка"
// @Success 200 {object} dto.SprintStory "Карточка"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Недостаточный уровень доступа"
// @Failure 404 {object} apierrors.DefinedError "Карточка не найдена"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/stories/{storyId}/ [patch]
func (s *Services) updateSessionStory(c echo.Context) error {
	ctx := c.(SprintAccessContext)
	return s.updateStory(c, &ctx.Sprint, ctx.Grant.ParticipantId, ctx.Grant.Name)
}

// moveSessionStory godoc
// @id moveSessionStory
// @Summary Доступ: перемещение карточки участником сессии
// @Description Переносит карточку в другую колонку или позицию. Требует сессионный токен с уровнем contribute или admin.
// @Tags SprintAccess
// @Accept json
// @Produce json
// @Param sprintId path string true "Идентификатор спринта"
// @Param storyId path string true "Идентификатор карточки"
// @Param X-Session-Token header string true "Сессионный токен"
// @Param request body requestStoryMove true "Куда перенести"
// @Success 200 {object} dto.SprintStory "Карточка"
// @Failure 400 {object} apierrors.DefinedError "Неизвестная колонка"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Недостаточный уровень доступа"
// @Failure 404 {object} apierrors.DefinedError "Карточка не найдена"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/stories/{storyId}/move/ [post]
func (s *Services) moveSessionStory(c echo.Context) error {
	ctx := c.(SprintAccessContext)
	return s.moveStory(c, &ctx.Sprint, ctx.Grant.ParticipantId, ctx.Grant.Name)
}

// deleteSessionStory godoc
// @id deleteSessionStory
// @Summary Доступ: удаление карточки участником сессии
// @Description Удаляет карточку с доски. Требует сессионный токен с уровнем contribute или admin.
// @Tags SprintAccess
// @Param sprintId path string true "Идентификатор спринта"
// @Param storyId path string true "Идентификатор карточки"
// @Param X-Session-Token header string true "Сессионный токен"
// @Success 204 "Карточка удалена"
// @Failure 401 {object} apierrors.DefinedError "Токен недействителен, просрочен или отозван"
// @Failure 403 {object} apierrors.DefinedError "Недостаточный уровень доступа"
// @Failure 404 {object} apierrors.DefinedError "Карточка не найдена"
// @Failure 500 {object} apierrors.DefinedError "Ошибка сервера"
// @Router /api/sprints/{sprintId}/stories/{storyId}/ [delete]
func (s *Services) deleteSessionStory(c echo.Context) error {
	ctx := c.(SprintAccessContext)
	return s.deleteStory(c, &ctx.Sprint, ctx.Grant.ParticipantId, ctx.Grant.Name)
}
