// Пакет содержит определения ошибок, используемых в приложении sprintor для
// обработки ситуаций, возникающих при работе с базой данных, протоколом доступа
// к спринтам и сессиями совместной работы. Каждая ошибка имеет код, статус HTTP
// и описание, что позволяет удобно обрабатывать исключения и предоставлять
// информативные сообщения пользователю.
//
// Основные возможности:
//   - Определение ошибок авторизации, сессий, спринтов и участников.
//   - Предоставление кодов ошибок, соответствующих кодам HTTP статусов.
//   - Функция для форматирования сообщений об ошибках с использованием аргументов.
package apierrors

import (
	"fmt"
	"net/http"
	"strings"
)

type DefinedError struct {
	Code       int    `json:"code"`
	StatusCode int    `json:"-"`
	Err        string `json:"error"`
	RuErr      string `json:"ru_error,omitempty"`
}

func (e DefinedError) Error() string {
	return e.Err
}

var (
	// 1*** - auth errors
	ErrFailedLogin              = DefinedError{Code: 1001, StatusCode: http.StatusUnauthorized, Err: "invalid credentials", RuErr: "Неправильный email или пароль"}
	ErrLoginCredentialsRequired = DefinedError{Code: 1002, StatusCode: http.StatusUnauthorized, Err: "both email and password are required", RuErr: "Поля email и пароль не могут быть пустыми"}
	ErrAccessTokenRequired      = DefinedError{Code: 1003, StatusCode: http.StatusUnauthorized, Err: "access token is required", RuErr: "Требуется токен доступа"}
	ErrUserNotFound             = DefinedError{Code: 1004, StatusCode: http.StatusNotFound, Err: "user not found", RuErr: "Пользователь не найден"}
	ErrUserAlreadyExist         = DefinedError{Code: 1005, StatusCode: http.StatusConflict, Err: "user already exist", RuErr: "Пользователь с указанным email уже зарегистрирован в системе"}

	// 11** - session token errors
	ErrTokenExpired = DefinedError{Code: 1101, StatusCode: http.StatusUnauthorized, Err: "token expired", RuErr: "Срок действия токена истек"}
	ErrTokenInvalid = DefinedError{Code: 1102, StatusCode: http.StatusUnauthorized, Err: "invalid token", RuErr: "Неверный токен"}
	ErrTokenRevoked = DefinedError{Code: 1103, StatusCode: http.StatusUnauthorized, Err: "token revoked", RuErr: "Токен отозван: сессия завершена"}

	// 36** - sprint errors
	ErrSprintNotFound           = DefinedError{Code: 3601, StatusCode: http.StatusNotFound, Err: "sprint not found", RuErr: "Спринт не найден"}
	ErrSprintForbidden          = DefinedError{Code: 3602, StatusCode: http.StatusForbidden, Err: "not have permissions to perform this action", RuErr: "Недостаточно прав для совершения действия"}
	ErrSprintBadRequest         = DefinedError{Code: 3603, StatusCode: http.StatusBadRequest, Err: "bad request", RuErr: "Некорректный запрос"}
	ErrSprintRequestValidate    = DefinedError{Code: 3604, StatusCode: http.StatusBadRequest, Err: "validation error", RuErr: "Введены некорректные данные"}
	ErrSprintPasswordRequired   = DefinedError{Code: 3605, StatusCode: http.StatusUnauthorized, Err: "sprint password required", RuErr: "Для входа в спринт требуется пароль"}
	ErrSprintInvalidCredentials = DefinedError{Code: 3606, StatusCode: http.StatusUnauthorized, Err: "invalid sprint password", RuErr: "Неверный пароль спринта"}
	ErrSprintAccessDenied       = DefinedError{Code: 3607, StatusCode: http.StatusForbidden, Err: "sprint not found or access denied", RuErr: "Спринт не найден или доступ запрещен"}
	ErrSprintStatusTransition   = DefinedError{Code: 3608, StatusCode: http.StatusBadRequest, Err: "invalid sprint status transition %s -> %s", RuErr: "Недопустимый переход статуса спринта %s -> %s"}
	ErrSprintStoryNotFound      = DefinedError{Code: 3609, StatusCode: http.StatusNotFound, Err: "sprint story not found", RuErr: "Карточка спринта не найдена"}
	ErrSprintUnknownColumn      = DefinedError{Code: 3610, StatusCode: http.StatusBadRequest, Err: "unknown board column %s", RuErr: "Колонка доски %s не существует"}
	ErrSprintLimitReached       = DefinedError{Code: 3611, StatusCode: http.StatusPaymentRequired, Err: "sprint limit reached", RuErr: "Достигнут лимит спринтов тарифа"}

	// 37** - collaboration session errors
	ErrParticipantNameRequired = DefinedError{Code: 3701, StatusCode: http.StatusBadRequest, Err: "participant name is required", RuErr: "Необходимо указать имя участника"}
	ErrMissingJoinParameters   = DefinedError{Code: 3702, StatusCode: http.StatusBadRequest, Err: "missing join parameters", RuErr: "Не переданы параметры подключения к спринту"}
	ErrConnectionLost          = DefinedError{Code: 3703, StatusCode: http.StatusGone, Err: "connection lost", RuErr: "Соединение потеряно: требуется переподключение"}
	ErrParticipantNotFound     = DefinedError{Code: 3704, StatusCode: http.StatusNotFound, Err: "participant not found", RuErr: "Участник не найден"}

	// 5*** - validation and other errors
	ErrGeneric       = DefinedError{Code: 5000, StatusCode: http.StatusBadRequest, Err: "Something went wrong. Please try again later or contact the support team.", RuErr: "Что-то пошло не так. Повторите попытку позже или обратитесь в службу поддержки"}
	ErrInvalidEmail  = DefinedError{Code: 5001, StatusCode: http.StatusBadRequest, Err: "invalid email %s", RuErr: "Указан некорректный email"}
	ErrLimitTooHigh  = DefinedError{Code: 5002, StatusCode: http.StatusBadRequest, Err: "limit must be less than 100", RuErr: "Запрашиваемый список должен состоять не более чем из 100 элементов"}
	ErrDemo          = DefinedError{Code: 5003, StatusCode: http.StatusPaymentRequired, Err: "forbidden action in demo mode", RuErr: "Данное действие недоступно в демо-режиме"}
	ErrEntityToLarge = DefinedError{Code: 5004, StatusCode: http.StatusRequestEntityTooLarge, Err: "size exceeds the allowed limit", RuErr: "Размер запроса превышает допустимый"}
)

func (e DefinedError) WithFormattedMessage(args ...interface{}) DefinedError {
	if len(args) > 0 {
		e.Err = fmt.Sprintf(e.Err, args...)
		e.RuErr = fmt.Sprintf(e.RuErr, args...)
	} else {
		e.Err = strings.Replace(e.Err, "%s", "", -1)
		e.RuErr = strings.Replace(e.RuErr, "%s", "", -1)
	}
	return e
}
