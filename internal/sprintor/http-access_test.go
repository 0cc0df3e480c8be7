package sprintor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	accesstoken "github.com/ParashDev/sprintor-sub002/internal/sprintor/access-token"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/config"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/sessions"
	sprintstore "github.com/ParashDev/sprintor-sub002/internal/sprintor/sprint-store"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type accessTestEnv struct {
	services *Services
	echo     *echo.Echo
	sprint   *dao.Sprint
}

func newAccessTestEnv(t *testing.T) *accessTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dao.User{}, &dao.Sprint{}, &dao.SprintStory{}, &dao.SprintMember{}, &dao.SprintActivity{}))

	user := dao.User{ID: dao.GenID(), Email: "host@example.com", FirstName: "Host"}
	require.NoError(t, db.Create(&user).Error)
	sprint := dao.Sprint{
		Id:               dao.GenUUID(),
		HostId:           user.ID,
		Name:             "Planning",
		Status:           types.SprintActive,
		AllowGuestAccess: true,
		PasswordHash:     dao.GenPasswordHash("secret"),
	}
	require.NoError(t, db.Create(&sprint).Error)

	cfg = &config.Config{
		SecretKey:      "test-secret",
		SessionsDBPath: filepath.Join(t.TempDir(), "sessions.db"),
	}
	sm := sessions.NewSessionsManager(cfg, types.SessionTokenExpiresPeriod)
	t.Cleanup(sm.Close)

	e := echo.New()
	e.Validator = NewRequestValidator()

	return &accessTestEnv{
		services: &Services{
			db:              db,
			store:           sprintstore.NewStore(db),
			issuer:          accesstoken.NewIssuer([]byte(cfg.SecretKey), sm),
			sessionsManager: sm,
		},
		echo:   e,
		sprint: &sprint,
	}
}

func (e *accessTestEnv) issue(t *testing.T, name string, password string) *dto.SprintAccess {
	t.Helper()
	access, err := e.services.issuer.IssueAccess(e.sprint, name, password, "")
	require.NoError(t, err)
	return access
}

func (e *accessTestEnv) request(method string, body string, header map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	c.SetParamNames("sprintId")
	c.SetParamValues(e.sprint.Id.String())
	return c, rec
}

func TestSessionStoryCreateByContributor(t *testing.T) {
	env := newAccessTestEnv(t)
	access := env.issue(t, "Sam", "secret")
	require.Equal(t, types.ContributeAccess, access.AccessLevel)

	c, rec := env.request(http.MethodPost, `{"title":"Карточка"}`, map[string]string{
		sessionTokenHeader: access.SessionToken,
	})

	handler := env.services.SprintAccessMiddleware(env.services.createSessionStory)
	require.NoError(t, handler(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var story dao.SprintStory
	require.NoError(t, env.services.db.Where("sprint_id = ?", env.sprint.Id).First(&story).Error)
	assert.Equal(t, "Карточка", story.Title)
	assert.Equal(t, access.ParticipantId, story.CreatedById)
}

func TestSessionStoryViewLevelForbidden(t *testing.T) {
	env := newAccessTestEnv(t)

	// Гостевой вход без пароля дает только view
	access := env.issue(t, "Guest", "")
	require.Equal(t, types.ViewAccess, access.AccessLevel)

	c, rec := env.request(http.MethodPost, `{"title":"Карточка"}`, map[string]string{
		sessionTokenHeader: access.SessionToken,
	})

	handler := env.services.SprintAccessMiddleware(env.services.createSessionStory)
	require.NoError(t, handler(c))
	assert.Equal(t, apierrors.ErrSprintForbidden.StatusCode, rec.Code)

	var count int64
	env.services.db.Model(&dao.SprintStory{}).Count(&count)
	assert.Zero(t, count)
}

func TestSessionStoryRejectsMissingToken(t *testing.T) {
	env := newAccessTestEnv(t)

	c, rec := env.request(http.MethodPost, `{"title":"Карточка"}`, nil)

	handler := env.services.SprintAccessMiddleware(env.services.createSessionStory)
	require.NoError(t, handler(c))
	assert.Equal(t, apierrors.ErrTokenInvalid.StatusCode, rec.Code)
}

func TestJoinRespondsOnceWhenActivityInsertFails(t *testing.T) {
	env := newAccessTestEnv(t)

	// Ломаем ленту активностей: вход все равно должен выдать токен
	require.NoError(t, env.services.db.Migrator().DropTable(&dao.SprintActivity{}))

	c, rec := env.request(http.MethodPost, `{"participant_name":"Sam","password":"secret"}`, nil)
	require.NoError(t, env.services.joinSprint(c))

	require.Equal(t, http.StatusOK, rec.Code)

	// Тело ответа — ровно один JSON-документ с токеном
	var access dto.SprintAccess
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &access))
	assert.NotEmpty(t, access.SessionToken)
	assert.Equal(t, types.ContributeAccess, access.AccessLevel)
}

func TestRenewerSeesCurrentPolicy(t *testing.T) {
	env := newAccessTestEnv(t)

	require.NoError(t, env.services.db.Model(env.sprint).Update("password_hash", "").Error)
	env.sprint.PasswordHash = ""
	access := env.issue(t, "Guest", "")
	require.Equal(t, types.ViewAccess, access.AccessLevel)

	c, _ := env.request(http.MethodGet, "", nil)
	renew := env.services.sessionTokenRenewer(c)

	fresh, err := renew(access.SessionToken)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)

	// Хост выключил гостевой доступ: следующее продление видит новую политику
	require.NoError(t, env.services.db.Model(env.sprint).Update("allow_guest_access", false).Error)

	_, err = renew(fresh)
	assert.ErrorIs(t, err, apierrors.ErrSprintAccessDenied)
}
