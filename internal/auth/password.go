package auth

import (
	"errors"

	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength 密码最短长度
	MinPasswordLength = 8
	// MaxPasswordLength 密码最长长度（bcrypt 只使用前 72 字节）
	MaxPasswordLength = 72
	// MinPasswordScore zxcvbn 评分下限（0-4）
	MinPasswordScore = 2
)

var (
	// ErrPasswordTooShort 密码过短
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong 密码过长
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
	// ErrWeakPassword 密码强度不足
	ErrWeakPassword = errors.New("password is not strong enough")
)

// ValidatePassword 验证密码长度和强度，userInputs 为不应出现在密码中的用户信息
func ValidatePassword(password string, userInputs ...string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	if zxcvbn.PasswordStrength(password, userInputs).Score < MinPasswordScore {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
