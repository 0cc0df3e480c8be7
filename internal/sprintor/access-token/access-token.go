// Package accesstoken выдает и проверяет токены доступа к спринтам.
//
// Основные возможности:
//   - Выдача токена в зависимости от роли: владелец, гость, участник по паролю.
//   - Проверка токена с перерасчетом уровня доступа по текущему состоянию спринта.
//   - Продление токена до истечения его срока действия.
//   - Отзыв токена при выходе участника из спринта.
package accesstoken

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/sessions"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer выдает токены доступа и проверяет их подпись и актуальность.
type Issuer struct {
	secret   []byte
	sessions *sessions.SessionsManager
}

// Grant — расшифрованный и проверенный токен доступа к спринту.
type Grant struct {
	SprintId      uuid.UUID
	ParticipantId string
	Name          string
	AccessLevel   types.AccessLevel
	ExpiresAt     time.Time
	IssuedAt      time.Time
	Signature     []byte
	SignedString  string
}

func NewIssuer(secret []byte, sessions *sessions.SessionsManager) *Issuer {
	return &Issuer{secret: secret, sessions: sessions}
}

// IssueAccess выдает токен доступа к спринту. Уровень определяется сервером:
// владелец всегда получает admin, гость — view, участник с верным паролем — contribute.
// Переданный клиентом уровень никогда не учитывается.
func (i *Issuer) IssueAccess(sprint *dao.Sprint, participantName string, password string, userId string) (*dto.SprintAccess, error) {
	level, err := deriveAccessLevel(sprint, password, userId)
	if err != nil {
		return nil, err
	}

	// Каждый вход — новый участник, даже под тем же именем
	participantId := dao.GenID()

	grant, err := i.signGrant(sprint.Id, participantId, participantName, level, time.Now())
	if err != nil {
		return nil, err
	}

	grantedBy := "host"
	switch level {
	case types.ViewAccess:
		grantedBy = "guest-access"
	case types.ContributeAccess:
		grantedBy = "password"
	}

	return &dto.SprintAccess{
		SprintId:         sprint.Id,
		ParticipantId:    participantId,
		AccessLevel:      level,
		PasswordRequired: sprint.PasswordRequired(),
		SessionToken:     grant.SignedString,
		ExpiresAt:        grant.ExpiresAt,
		GrantedAt:        grant.IssuedAt,
		GrantedBy:        grantedBy,
	}, nil
}

// VerifyAccessToken проверяет подпись, срок действия и отзыв токена и
// заново вычисляет уровень доступа по текущему состоянию спринта.
func (i *Issuer) VerifyAccessToken(sprint *dao.Sprint, signedString string) (*Grant, error) {
	grant, err := i.parse(signedString)
	if err != nil {
		return nil, err
	}

	if grant.SprintId != sprint.Id {
		return nil, apierrors.ErrTokenInvalid
	}

	revoked, err := i.sessions.IsTokenRevoked(grant.Signature)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apierrors.ErrTokenRevoked
	}

	// Уровень в claims — снимок на момент выдачи; действующий уровень
	// пересчитывается по актуальным настройкам спринта
	if grant.AccessLevel == types.ViewAccess && !sprint.AllowGuestAccess {
		return nil, apierrors.ErrSprintAccessDenied
	}

	return grant, nil
}

// RefreshAccessToken выдает новый токен по действующему. Просроченный или
// отозванный токен продлению не подлежит: участник проходит вход заново.
func (i *Issuer) RefreshAccessToken(sprint *dao.Sprint, signedString string) (*dto.SprintAccess, *Grant, error) {
	grant, err := i.VerifyAccessToken(sprint, signedString)
	if err != nil {
		return nil, nil, err
	}

	fresh, err := i.signGrant(grant.SprintId, grant.ParticipantId, grant.Name, grant.AccessLevel, time.Now())
	if err != nil {
		return nil, nil, err
	}

	return &dto.SprintAccess{
		SprintId:         sprint.Id,
		ParticipantId:    fresh.ParticipantId,
		AccessLevel:      fresh.AccessLevel,
		PasswordRequired: sprint.PasswordRequired(),
		SessionToken:     fresh.SignedString,
		ExpiresAt:        fresh.ExpiresAt,
		GrantedAt:        fresh.IssuedAt,
	}, fresh, nil
}

// RevokeAccessToken отзывает токен; парсинг без проверки срока, чтобы
// выход работал и с уже просроченным токеном.
func (i *Issuer) RevokeAccessToken(signedString string) error {
	grant, err := i.parse(signedString)
	if err != nil && !errors.Is(err, apierrors.ErrTokenExpired) {
		return err
	}
	if grant == nil {
		return apierrors.ErrTokenInvalid
	}
	return i.sessions.RevokeToken(grant.Signature)
}

func deriveAccessLevel(sprint *dao.Sprint, password string, userId string) (types.AccessLevel, error) {
	if userId != "" && userId == sprint.HostId {
		return types.AdminAccess, nil
	}

	if password != "" {
		if sprint.PasswordHash == "" {
			return types.ViewAccess, apierrors.ErrSprintInvalidCredentials
		}
		if !dao.CheckPasswordHash(password, sprint.PasswordHash) {
			return types.ViewAccess, apierrors.ErrSprintInvalidCredentials
		}
		return types.ContributeAccess, nil
	}

	if sprint.AllowGuestAccess {
		return types.ViewAccess, nil
	}

	if sprint.PasswordRequired() {
		return types.ViewAccess, apierrors.ErrSprintPasswordRequired
	}

	return types.ViewAccess, apierrors.ErrSprintAccessDenied
}

func (i *Issuer) signGrant(sprintId uuid.UUID, participantId string, name string, level types.AccessLevel, now time.Time) (*Grant, error) {
	u, _ := uuid.NewV4()
	expiresAt := now.Add(types.SessionTokenExpiresPeriod)
	claims := jwt.MapClaims{
		"exp":            jwt.NewNumericDate(expiresAt),
		"iat":            jwt.NewNumericDate(now),
		"jti":            fmt.Sprintf("%x", u),
		"sprint_id":      sprintId.String(),
		"participant_id": participantId,
		"name":           name,
		"access_level":   string(level),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedString, err := token.SignedString(i.secret)
	if err != nil {
		return nil, err
	}

	sig, err := signatureOf(signedString)
	if err != nil {
		return nil, err
	}

	return &Grant{
		SprintId:      sprintId,
		ParticipantId: participantId,
		Name:          name,
		AccessLevel:   level,
		ExpiresAt:     expiresAt,
		IssuedAt:      now,
		Signature:     sig,
		SignedString:  signedString,
	}, nil
}

func (i *Issuer) parse(signedString string) (*Grant, error) {
	token, err := jwt.Parse(signedString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			grant, claimsErr := grantFromClaims(token)
			if claimsErr != nil {
				return nil, apierrors.ErrTokenExpired
			}
			return grant, apierrors.ErrTokenExpired
		}
		return nil, apierrors.ErrTokenInvalid
	}

	grant, err := grantFromClaims(token)
	if err != nil {
		return nil, err
	}
	grant.SignedString = signedString
	return grant, nil
}

func grantFromClaims(token *jwt.Token) (*Grant, error) {
	if token == nil {
		return nil, apierrors.ErrTokenInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierrors.ErrTokenInvalid
	}

	sprintIdRaw, _ := claims["sprint_id"].(string)
	participantId, _ := claims["participant_id"].(string)
	name, _ := claims["name"].(string)
	levelRaw, _ := claims["access_level"].(string)

	sprintId, err := uuid.FromString(sprintIdRaw)
	level := types.AccessLevel(levelRaw)
	if err != nil || participantId == "" || !level.Valid() {
		return nil, apierrors.ErrTokenInvalid
	}

	grant := &Grant{
		SprintId:      sprintId,
		ParticipantId: participantId,
		Name:          name,
		AccessLevel:   level,
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		grant.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		grant.IssuedAt = iat.Time
	}

	sig, err := signatureOf(token.Raw)
	if err != nil {
		return nil, apierrors.ErrTokenInvalid
	}
	grant.Signature = sig

	return grant, nil
}

// Waiting for PR https://github.com/golang-jwt/jwt/pull/417
func signatureOf(signedString string) ([]byte, error) {
	sigStr := signedString[strings.LastIndex(signedString, ".")+1:]
	return base64.RawURLEncoding.DecodeString(sigStr)
}
