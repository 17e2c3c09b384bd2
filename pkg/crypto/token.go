package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// token.go - webhook токены стратегий
//
// Каждая стратегия получает непрозрачный токен, по которому внешний
// источник сигналов адресует webhook. Сам токен пользователю
// показывается один раз; в БД хранится только SHA-256 дайджест,
// по которому выполняется индексированный поиск стратегии.
// bcrypt здесь не подходит: его соль делает значение непригодным
// для поиска по равенству.

// Ошибки токенов
var (
	ErrEmptyToken = errors.New("token cannot be empty")
)

// TokenBytes - длина токена в байтах до hex-кодирования (256 бит)
const TokenBytes = 32

// GenerateToken генерирует криптографически стойкий webhook токен.
// Возвращает hex-строку длиной 64 символа
func GenerateToken() (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// TokenDigest возвращает SHA-256 дайджест токена в hex.
// Дайджест детерминирован, поэтому пригоден как уникальный
// индексируемый ключ поиска стратегии
func TokenDigest(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}
