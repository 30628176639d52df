package storedb

import (
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
)

// Returns the user, or nil if no such user exists
func (s *StoreDB) GetUser(id int64) (*User, error) {
	user := User{}
	if err := s.DB.Find(&user, id).Error; err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (s *StoreDB) GetUserByUsername(username string) (*User, error) {
	return s.getUserWhere("username = ?", username)
}

func (s *StoreDB) GetUserByEmail(email string) (*User, error) {
	return s.getUserWhere("email = ?", email)
}

func (s *StoreDB) GetUserByApiKey(apiKey string) (*User, error) {
	return s.getUserWhere("api_key = ?", apiKey)
}

func (s *StoreDB) getUserWhere(query string, arg any) (*User, error) {
	user := User{}
	if err := s.DB.Where(query, arg).Find(&user).Error; err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (s *StoreDB) CreateUser(user *User) error {
	if user.Role == "" {
		user.Role = RoleUser
	}
	if !IsValidRole(user.Role) {
		return fmt.Errorf("Invalid role '%v'", user.Role)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = dbh.MakeIntTime(time.Now().UTC())
	}
	return s.DB.Create(user).Error
}

// UpdateUser applies the given column updates, and returns the updated record.
// Returns nil if the user no longer exists.
func (s *StoreDB) UpdateUser(id int64, fields map[string]any) (*User, error) {
	if len(fields) != 0 {
		tx := s.DB.Model(&User{}).Where("id = ?", id).Updates(fields)
		if tx.Error != nil {
			return nil, tx.Error
		}
		if tx.RowsAffected == 0 {
			return nil, nil
		}
	}
	return s.GetUser(id)
}

/////////////////////////////////////////////////////////////////////////////
// Sessions

func (s *StoreDB) CreateSession(session *Session) error {
	return s.DB.Create(session).Error
}

// Returns the session, or nil if the key is unknown or the session has expired
func (s *StoreDB) GetSession(hashedKey []byte) (*Session, error) {
	session := Session{}
	if err := s.DB.Where("key = ?", hashedKey).Find(&session).Error; err != nil {
		return nil, err
	}
	if session.UserID == 0 {
		return nil, nil
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.Get().After(time.Now()) {
		return nil, nil
	}
	return &session, nil
}

func (s *StoreDB) DeleteSession(hashedKey []byte) error {
	return s.DB.Where("key = ?", hashedKey).Delete(&Session{}).Error
}

func (s *StoreDB) PurgeExpiredSessions() {
	db, err := s.DB.DB()
	if err != nil {
		s.Log.Warnf("PurgeExpiredSessions failed (1): %v", err)
		return
	}
	_, err = db.Exec("DELETE FROM session WHERE expires_at < ?", time.Now().UnixMilli())
	if err != nil {
		s.Log.Warnf("PurgeExpiredSessions failed (2): %v", err)
	}
}

/////////////////////////////////////////////////////////////////////////////
// Blog posts

// Returns published posts, newest first
func (s *StoreDB) GetBlogPosts() ([]BlogPost, error) {
	var posts []BlogPost
	err := s.DB.Where("is_published = ?", true).Order("published_at DESC").Find(&posts).Error
	return posts, err
}

// Returns the post, or nil if no such post exists
func (s *StoreDB) GetBlogPost(id int64) (*BlogPost, error) {
	post := BlogPost{}
	if err := s.DB.Find(&post, id).Error; err != nil {
		return nil, err
	}
	if post.ID == 0 {
		return nil, nil
	}
	return &post, nil
}

func (s *StoreDB) CreateBlogPost(post *BlogPost) error {
	if post.PublishedAt.IsZero() {
		post.PublishedAt = dbh.MakeIntTime(time.Now().UTC())
	}
	return s.DB.Create(post).Error
}

/////////////////////////////////////////////////////////////////////////////
// API usage

func (s *StoreDB) RecordApiUsage(usage *ApiUsage) error {
	if usage.RequestCount == 0 {
		usage.RequestCount = 1
	}
	if usage.Date.IsZero() {
		usage.Date = dbh.MakeIntTime(time.Now().UTC())
	}
	return s.DB.Create(usage).Error
}

// Returns the user's usage records, newest first
func (s *StoreDB) GetUserApiUsage(userID int64) ([]ApiUsage, error) {
	var usage []ApiUsage
	err := s.DB.Where("user_id = ?", userID).Order("date DESC").Find(&usage).Error
	return usage, err
}
