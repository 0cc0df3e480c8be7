// Пакет для аутентификации владельцев спринтов. Обеспечивает вход по email
// и паролю, выдачу пользовательских JWT и их проверку в middleware.
//
// Основные возможности:
//   - Вход пользователя по email и паролю.
//   - Регистрация новых пользователей (если включена).
//   - Генерация и проверка токенов доступа (JWT).
//   - Поддержка схем Bearer и Cookies.
package sprintor

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type Authentication struct {
	db     *gorm.DB
	secret []byte
}

type AuthContext struct {
	echo.Context
	User        *dao.User
	AccessToken *Token
}

type Token struct {
	JWT          *jwt.Token
	SignedString string
	Type         string
}

type AuthConfig struct {
	Secret  []byte
	DB      *gorm.DB
	Skipper middleware.Skipper
}

// Генерация пользовательского JWT
func GenJwtToken(secret []byte, userid string) (*Token, error) {
	u, _ := uuid.NewV4()
	claims := jwt.MapClaims{
		"exp":     jwt.NewNumericDate(time.Now().Add(types.UserTokenExpiresPeriod)),
		"iat":     jwt.NewNumericDate(time.Now()),
		"jti":     fmt.Sprintf("%x", u),
		"user_id": userid,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedString, err := token.SignedString(secret)
	if err != nil {
		return nil, err
	}

	// Waiting for PR https://github.com/golang-jwt/jwt/pull/417
	sigStr := signedString[strings.LastIndex(signedString, ".")+1:]
	sig, err := base64.RawURLEncoding.DecodeString(sigStr)
	if err != nil {
		return nil, err
	}
	token.Signature = sig

	return &Token{
		JWT:          token,
		SignedString: signedString,
		Type:         "access",
	}, nil
}

func setAuthCookie(c echo.Context, accessToken *Token) {
	cookie := new(http.Cookie)
	cookie.Name = "access_token"
	cookie.Value = accessToken.SignedString
	cookie.Path = "/"
	cookie.SameSite = http.SameSiteNoneMode
	cookie.Secure = true
	cookie.Expires = time.Now().Add(types.UserTokenExpiresPeriod)
	c.SetCookie(cookie)
}

func deleteAuthCookie(c echo.Context) {
	cookie := new(http.Cookie)
	cookie.Name = "access_token"
	cookie.Path = "/"
	cookie.SameSite = http.SameSiteNoneMode
	cookie.MaxAge = -1
	c.SetCookie(cookie)
}

// resolveUser возвращает пользователя по JWT из заголовка Authorization или
// куки access_token. Отсутствие токена не считается ошибкой: возвращается nil.
func resolveUser(c echo.Context, db *gorm.DB, secret []byte) (*dao.User, *Token, error) {
	var tokenString string

	schema, value, ok := strings.Cut(c.Request().Header.Get("Authorization"), " ")
	if ok && schema == "Bearer" {
		tokenString = strings.TrimSpace(value)
	} else if cookie, err := c.Cookie("access_token"); err == nil && cookie != nil {
		tokenString = cookie.Value
	}

	if tokenString == "" {
		return nil, nil, nil
	}

	token := &Token{SignedString: tokenString, Type: "access"}
	var err error
	token.JWT, err = jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, nil, apierrors.ErrTokenInvalid
	}

	claims, ok := token.JWT.Claims.(jwt.MapClaims)
	if !ok || !token.JWT.Valid {
		return nil, nil, apierrors.ErrTokenInvalid
	}
	userId, _ := claims["user_id"].(string)
	if userId == "" {
		return nil, nil, apierrors.ErrTokenInvalid
	}

	var user dao.User
	if err := db.Where("id = ?", userId).First(&user).Error; err != nil {
		return nil, nil, apierrors.ErrTokenInvalid
	}

	if !user.IsActive {
		return nil, nil, apierrors.ErrFailedLogin
	}

	return &user, token, nil
}

func AuthMiddleware(config AuthConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == "OPTIONS" {
				return c.NoContent(http.StatusOK)
			}

			if config.Skipper != nil && config.Skipper(c) {
				return next(c)
			}

			user, token, err := resolveUser(c, config.DB, config.Secret)
			if err != nil {
				return EError(c, err)
			}
			if user == nil {
				return EErrorDefined(c, apierrors.ErrAccessTokenRequired)
			}

			if err := dao.UpdateUserLastActivityTime(config.DB, user); err != nil {
				EError(c, err)
			}

			return next(AuthContext{c, user, token})
		}
	}
}

func AddAuthenticationServices(db *gorm.DB, g *echo.Echo, secret []byte) *Authentication {
	ret := &Authentication{db, secret}

	g.POST("api/sign-in/", ret.emailLogin)
	if cfg.SignUpEnable {
		g.POST("api/sign-up/", ret.signUp)
	}
	g.POST("api/sign-out/", ret.signOut)
	return ret
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// emailLogin godoc
// @id emailLogin
// @Summary Пользователи (управление доступом): вход пользователя
// @Description Аутентифицирует пользователя с использованием email и пароля
// @Tags Users
// @Accept json
// @Produce json
// @Param data body LoginRequest true "Данные для входа пользователя"
// @Success 200 {object} map[string]interface{} "Токен доступа и информация о пользователе"
// @Failure 400 {object} apierrors.DefinedError "Некорректные данные запроса"
// @Failure 401 {object} apierrors.DefinedError "Неудачный вход в систему"
// @Failure 500 {object} apierrors.DefinedError "Внутренняя ошибка сервера"
// @Router /api/sign-in [post]
func (a *Authentication) emailLogin(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return EError(c, err)
	}

	req.Email = strings.ToLower(req.Email)

	if req.Email == "" || req.Password == "" {
		return EErrorDefined(c, apierrors.ErrLoginCredentialsRequired)
	}

	if !ValidateEmail(req.Email) {
		return EErrorDefined(c, apierrors.ErrInvalidEmail)
	}

	var user dao.User
	if err := a.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return EErrorDefined(c, apierrors.ErrFailedLogin)
		}
		return EError(c, err)
	}

	if !user.IsActive {
		return EErrorDefined(c, apierrors.ErrFailedLogin)
	}

	if !dao.CheckPasswordHash(req.Password, user.Password) {
		return EErrorDefined(c, apierrors.ErrFailedLogin)
	}

	tm := time.Now()
	user.LastActive = &tm
	user.LastLoginTime = &tm
	user.LastLoginIp = c.RealIP()
	user.LastLoginUagent = c.Request().UserAgent()
	if err := a.db.Model(&user).Select("LastActive", "LastLoginTime", "LastLoginIp", "LastLoginUagent").Updates(&user).Error; err != nil {
		return EError(c, err)
	}

	accessToken, err := GenJwtToken(a.secret, user.ID)
	if err != nil {
		return EError(c, err)
	}

	setAuthCookie(c, accessToken)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"access_token": accessToken.SignedString,
		"user":         user.ToLightDTO(),
	})
}

// signUp godoc
// @id signUp
// @Summary Пользователи (управление доступом): регистрация
// @Description Создает нового пользователя по email и паролю
// @Tags Users
// @Accept json
// @Produce json
// @Param data body SignUpRequest true "Данные для регистрации"
// @Success 200 {object} map[string]interface{} "Токен доступа и информация о пользователе"
// @Failure 400 {object} apierrors.DefinedError "Некорректные данные запроса"
// @Failure 409 {object} apierrors.DefinedError "Пользователь уже существует"
// @Failure 500 {object} apierrors.DefinedError "Внутренняя ошибка сервера"
// @Router /api/sign-up [post]
func (a *Authentication) signUp(c echo.Context) error {
	var req SignUpRequest
	if err := c.Bind(&req); err != nil {
		return EError(c, err)
	}

	req.Email = strings.ToLower(req.Email)

	if req.Email == "" || req.Password == "" {
		return EErrorDefined(c, apierrors.ErrLoginCredentialsRequired)
	}

	if !ValidateEmail(req.Email) {
		return EErrorDefined(c, apierrors.ErrInvalidEmail)
	}

	var exists int64
	if err := a.db.Model(&dao.User{}).Where("email = ?", req.Email).Count(&exists).Error; err != nil {
		return EError(c, err)
	}
	if exists > 0 {
		return EErrorDefined(c, apierrors.ErrUserAlreadyExist)
	}

	user := dao.User{
		ID:        dao.GenID(),
		Email:     req.Email,
		Password:  dao.GenPasswordHash(req.Password),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsActive:  true,
	}
	if err := a.db.Create(&user).Error; err != nil {
		return EError(c, err)
	}

	slog.Info("New user registered", "user", user.String())

	accessToken, err := GenJwtToken(a.secret, user.ID)
	if err != nil {
		return EError(c, err)
	}

	setAuthCookie(c, accessToken)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"access_token": accessToken.SignedString,
		"user":         user.ToLightDTO(),
	})
}

// signOut godoc
// @id signOut
// @Summary Пользователи (управление доступом): выход
// @Description Сбрасывает куку с токеном доступа
// @Tags Users
// @Success 200 "Выход выполнен"
// @Router /api/sign-out [post]
func (a *Authentication) signOut(c echo.Context) error {
	deleteAuthCookie(c)
	return c.NoContent(http.StatusOK)
}

func ValidateEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
