package domain

import "time"

// Message 表示一封定时投递的信件。
//
// IsSent 只会从 false 变为 true；ClaimedUntil 非空且晚于当前时间时，
// 表示某次投递扫描正在处理该信件。
type Message struct {
	ID             string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID         string        `json:"userId" gorm:"type:varchar(36);index;not null"`
	RecipientEmail string        `json:"recipientEmail" gorm:"type:varchar(255);not null"`
	RecipientName  string        `json:"recipientName,omitempty" gorm:"type:varchar(100)"`
	SenderName     string        `json:"senderName,omitempty" gorm:"type:varchar(100)"`
	Subject        string        `json:"subject" gorm:"type:varchar(500)"`
	Content        string        `json:"content" gorm:"type:text"`
	ScheduledDate  time.Time     `json:"scheduledDate" gorm:"index:idx_messages_due,priority:2;not null"`
	IsSent         bool          `json:"isSent" gorm:"default:false;index:idx_messages_due,priority:1"`
	SentAt         *time.Time    `json:"sentAt,omitempty"`
	ClaimedUntil   *time.Time    `json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
	Attachments    []*Attachment `json:"attachments,omitempty" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// IsDue 判断信件在 now 时刻是否到期待发
func (m *Message) IsDue(now time.Time) bool {
	return !m.IsSent && !m.ScheduledDate.After(now)
}

// IsClaimed 判断信件在 now 时刻是否已被某次扫描占用
func (m *Message) IsClaimed(now time.Time) bool {
	return m.ClaimedUntil != nil && m.ClaimedUntil.After(now)
}
