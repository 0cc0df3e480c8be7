// DAO (Data Access Object) - предоставляет методы для взаимодействия с базой данных.
// Содержит функции для работы с пользователями, спринтами и лентой активностей.
//
// Основные возможности:
//   - Работа с пользователями: создание, проверка пароля.
//   - Работа со спринтами: аггрегат спринта, карточки доски, участники команды.
//   - Генерация UUID и паролей.
//   - Пагинация списочных запросов.
package dao

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/pbkdf2"
	"gorm.io/gorm"
)

// GenID генерирует уникальный идентификатор в формате UUID.
// Не принимает параметров и возвращает строку, представляющую собой UUID.
func GenID() string {
	u2, _ := uuid.NewV4()
	return u2.String()
}

// GenUUID генерирует уникальный идентификатор в формате UUID. Не принимает параметров и возвращает UUID.
func GenUUID() uuid.UUID {
	u2, _ := uuid.NewV4()
	return u2
}

// -migration
type PaginationResponse struct {
	Count  int64 `json:"count"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
	Result any   `json:"result"`
}

func PaginationRequest(offset int, limit int, query *gorm.DB, target any) (res PaginationResponse, err error) {
	// Count query
	if err := query.Session(&gorm.Session{}).Model(target).Count(&res.Count).Error; err != nil {
		return res, err
	}

	// Data query
	if err := query.Offset(offset).Limit(limit).Find(target).Error; err != nil {
		return res, err
	}

	res.Offset = offset
	res.Limit = limit
	res.Result = target
	return res, nil
}

func AddDefaultUser(db *gorm.DB, email string) {
	pass := "pbkdf2_sha256$260000$QM9bPwqeyc3Ed2LYppRoNN$BRt1aWr5wV3uqY/14k24Fnhaj1+TWExblkXUjFJKHDw=" // password123
	tm := time.Now()
	user := User{
		ID:          GenID(),
		Email:       email,
		Password:    pass,
		LastActive:  &tm,
		IsActive:    true,
		IsSuperuser: true,
	}

	if err := db.Create(&user).Error; err != nil {
		log.Println(err)
	} else {
		log.Println("User created")
	}
}

func GenPassword() string {
	return password.MustGenerate(12, 6, 0, false, false)
}

// Генерация хэша пароля для базы
func GenPasswordHash(password string) string {
	letters := []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	salt := make([]rune, 32)
	for i := range salt {
		nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		salt[i] = letters[nBig.Int64()]
	}

	return fmt.Sprintf("pbkdf2_sha256$260000$%s$%s",
		string(salt),
		base64.StdEncoding.EncodeToString(pbkdf2.Key([]byte(password), []byte(string(salt)), 260000, 32, sha256.New)),
	)
}

// Проверка хешированого пароля
func CheckPasswordHash(password string, hash string) bool {
	ss := strings.Split(hash, "$")
	if len(ss) == 4 {
		return base64.StdEncoding.EncodeToString(pbkdf2.Key([]byte(password), []byte(ss[2]), 260000, 32, sha256.New)) == ss[3]
	}
	return false
}

// SliceToSlice - конвертация слайса одной структуры в слайс другой
func SliceToSlice[T any, U any](in *[]T, f func(*T) U) []U {
	if in == nil {
		return []U{}
	}
	res := make([]U, len(*in))
	for i := range *in {
		res[i] = f(&(*in)[i])
	}
	return res
}
