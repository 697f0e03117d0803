package domain

import "time"

// Attachment 表示信件附件，文件内容保存在附件存储中。
type Attachment struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`            // 附件唯一标识
	MessageID string    `json:"messageId" gorm:"type:varchar(36);index;not null"` // 所属信件ID
	Filename  string    `json:"filename" gorm:"type:varchar(255)"`                // 上传时的原始文件名
	FilePath  string    `json:"filePath" gorm:"type:varchar(500);not null"`       // 附件存储中的键（相对路径）
	FileType  string    `json:"fileType" gorm:"type:varchar(100)"`                // MIME类型
	Size      int64     `json:"size"`                                             // 大小（字节）
	CreatedAt time.Time `json:"createdAt"`
}
