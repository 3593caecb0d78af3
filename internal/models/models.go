package models

import "time"

type User struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"`
	Phone        string     `gorm:"type:varchar(20);uniqueIndex" json:"phone"`
	Email        string     `gorm:"type:varchar(100)" json:"email"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
}

func (User) TableName() string { return "users" }

type CodeType string

const (
	CodeLogin    CodeType = "login"
	CodeRegister CodeType = "register"
	CodeReset    CodeType = "reset"
)

// VerificationCode rows are never deleted; expiry is a time comparison at
// read time and consumption flips Used.
type VerificationCode struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone     string    `gorm:"type:varchar(20);index;not null" json:"phone"`
	Code      string    `gorm:"type:varchar(10);not null" json:"-"`
	Type      CodeType  `gorm:"type:varchar(16);default:login" json:"type"`
	Used      bool      `gorm:"default:false" json:"used"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (VerificationCode) TableName() string { return "verification_codes" }

// ChatHistory holds one conversation. SessionData is an opaque JSON
// document owned by internal/chat; the schema never inspects it.
type ChatHistory struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64    `gorm:"index;not null" json:"user_id"`
	User        User      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	SessionData string    `gorm:"type:longtext" json:"-"`
	IsActive    bool      `gorm:"default:true;index" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ChatHistory) TableName() string { return "chat_histories" }
