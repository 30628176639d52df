package storedb

import (
	"strings"

	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// SYNC-RECORD-USER
type User struct {
	BaseModel
	Username  string      `json:"username"`
	Password  string      `json:"-"` // pwdhash "<derivedKeyHex>.<saltHex>", never serialized
	Email     string      `json:"email"`
	ApiKey    string      `json:"apiKey"`
	Role      string      `json:"role" gorm:"default:user"`
	CreatedAt dbh.IntTime `json:"createdAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session keys are pwdhash.HashSessionToken(plaintext); the plaintext token
// lives only in the client's cookie.
type Session struct {
	Key       []byte `gorm:"primaryKey"`
	UserID    int64
	CreatedAt dbh.IntTime
	ExpiresAt dbh.IntTime `gorm:"default:null"`
}

// SYNC-RECORD-BLOG-POST
type BlogPost struct {
	BaseModel
	Title       string      `json:"title"`
	Excerpt     string      `json:"excerpt"`
	Content     string      `json:"content"`
	AuthorID    int64       `json:"authorId"`
	Category    string      `json:"category"`
	PublishedAt dbh.IntTime `json:"publishedAt"`
	IsPublished bool        `json:"isPublished"`
}

// SYNC-RECORD-API-USAGE
type ApiUsage struct {
	BaseModel
	UserID       int64       `json:"userId"`
	Endpoint     string      `json:"endpoint"`
	RequestCount int         `json:"requestCount" gorm:"default:1"`
	Date         dbh.IntTime `json:"date"`
}

func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
