// Валидация входных данных API: имена спринтов, имена участников, колонки
// доски. Использует библиотеку go-playground/validator.
//
// Основные возможности:
//   - Валидация полей запросов через структурные теги.
//   - Проверка имен участников и спринтов на длину и допустимые символы.
package sprintor

import (
	"regexp"
	"unicode/utf8"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/go-playground/validator"
)

type RequestValidator struct {
	validator *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	if err := v.RegisterValidation("sprintName", sprintNameValidator); err != nil {
		return nil
	}

	if err := v.RegisterValidation("participantName", participantNameValidator); err != nil {
		return nil
	}

	if err := v.RegisterValidation("boardColumn", boardColumnValidator); err != nil {
		return nil
	}
	return &RequestValidator{v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	if err := rv.validator.Struct(i); err != nil {
		_, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil
		}
		return err
	}
	return nil
}

var controlCharsRe = regexp.MustCompile(`[\x00-\x1f\x7f]`)

func sprintNameValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	lenStr := utf8.RuneCountInString(value)
	if controlCharsRe.MatchString(value) {
		return false
	}
	return lenStr >= 1 && lenStr <= 100
}

func participantNameValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	lenStr := utf8.RuneCountInString(value)
	if controlCharsRe.MatchString(value) {
		return false
	}
	return lenStr >= 1 && lenStr <= types.ParticipantNameMaxLen
}

func boardColumnValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	lenStr := utf8.RuneCountInString(value)
	if controlCharsRe.MatchString(value) {
		return false
	}
	return lenStr >= 1 && lenStr <= 50
}
