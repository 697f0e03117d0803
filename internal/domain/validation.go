package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrNameTooLong      = errors.New("name too long (max 100 chars)")
	ErrSubjectRequired  = errors.New("subject is required")
	ErrSubjectInvalid   = errors.New("subject too long or contains control characters")
	ErrContentRequired  = errors.New("content is required")
	ErrContentTooLong   = errors.New("content too long")
	ErrScheduleInPast   = errors.New("scheduled date must be in the future")
	ErrScheduleRequired = errors.New("scheduled date is required")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)

	MaxNameLength    = 100
	MaxSubjectLength = 500
	MaxContentLength = 100000
)

// ValidateEmail 校验邮箱地址格式
func ValidateEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	localPart, domain := parts[0], parts[1]
	if localPart == "" || domain == "" || len(localPart) > MaxLocalPartLength {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}

	// 本地部分只允许常见字符
	for _, r := range localPart {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' || r == '+') {
			return false
		}
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// CheckEmail 与 ValidateEmail 相同，但区分超长和格式错误
func CheckEmail(email string) error {
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !ValidateEmail(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateName 校验显示名称（可为空）
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateSubject 校验信件主题
func ValidateSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return ErrSubjectRequired
	}
	if utf8.RuneCountInString(subject) > MaxSubjectLength {
		return ErrSubjectInvalid
	}
	// 不允许控制字符（包括tab和换行）
	for _, r := range subject {
		if r < 32 {
			return ErrSubjectInvalid
		}
	}
	return nil
}

// ValidateContent 校验信件正文
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrContentRequired
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// ValidateSchedule 校验预定投递时间必须严格晚于 now
func ValidateSchedule(scheduled, now time.Time) error {
	if scheduled.IsZero() {
		return ErrScheduleRequired
	}
	if !scheduled.After(now) {
		return ErrScheduleInPast
	}
	return nil
}

// Validate 校验新建信件的字段，now 为创建时刻
func (m *Message) Validate(now time.Time) error {
	if err := CheckEmail(m.RecipientEmail); err != nil {
		return err
	}
	if err := ValidateName(m.RecipientName); err != nil {
		return err
	}
	if err := ValidateName(m.SenderName); err != nil {
		return err
	}
	if err := ValidateSubject(m.Subject); err != nil {
		return err
	}
	if err := ValidateContent(m.Content); err != nil {
		return err
	}
	return ValidateSchedule(m.ScheduledDate, now)
}
