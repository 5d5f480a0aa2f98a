package model

import "time"

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// Post 内容主体（仅调度所需字段）
type Post struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	OwnerID   string    `gorm:"type:varchar(36);index:idx_post_owner;not null"`
	Title     string    `gorm:"type:varchar(255)"`
	Status    string    `gorm:"type:varchar(16);not null;default:'draft'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Post) TableName() string { return "posts" }

// PostVariant 针对单个平台渲染的内容
type PostVariant struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	PostID    string    `gorm:"type:varchar(36);index;not null"`
	Platform  string    `gorm:"type:varchar(32);not null"`
	Body      string    `gorm:"type:text"`
	MediaURLs string    `gorm:"type:text"` // 换行分隔
	Status    string    `gorm:"type:varchar(16);not null;default:'draft'"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Post *Post `gorm:"foreignKey:PostID"`
}

func (PostVariant) TableName() string { return "post_variants" }

// ChannelConnection 用户与外部平台账号的授权连接
type ChannelConnection struct {
	ID                string `gorm:"primaryKey;type:varchar(36)"`
	OwnerID           string `gorm:"type:varchar(36);index;not null"`
	Platform          string `gorm:"type:varchar(32);not null"`
	ExternalAccountID string `gorm:"type:varchar(255)"`
	// AccessTokenEnc secretbox 密文（nonce 前置），base64
	AccessTokenEnc string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ChannelConnection) TableName() string { return "channel_connections" }

// Principal 已认证的调用方
type Principal struct {
	ID       string
	Timezone string
}
