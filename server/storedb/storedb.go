// Package storedb is the persistent store behind the BlockchainKit API:
// users, login sessions, blog posts, and API usage records.
package storedb

import (
	"fmt"
	"time"

	"github.com/blockchainkit/blockchainkit/pkg/pwdhash"
	"github.com/blockchainkit/blockchainkit/pkg/rando"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

const ApiKeyPrefix = "bk_"

type StoreDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewStoreDB(logger logs.Log, config dbh.DBConfig) (*StoreDB, error) {
	db, err := dbh.OpenDB(logger, config, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", config.Database, err)
	}
	s := &StoreDB{
		Log: logger,
		DB:  db,
	}
	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewApiKey returns a fresh opaque API key: "bk_" followed by 24 random bytes, hex encoded.
func NewApiKey() string {
	return ApiKeyPrefix + rando.StrongRandomHex(24)
}

// bootstrap creates the initial admin user and seed content on a fresh database.
func (s *StoreDB) bootstrap() error {
	nAdmins := int64(0)
	if err := s.DB.Model(&User{}).Where("role = ?", RoleAdmin).Count(&nAdmins).Error; err != nil {
		return err
	}
	if nAdmins == 0 {
		pwd := rando.StrongRandomAlphaNumChars(20)
		s.Log.Infof("No admin user found, creating one.")
		s.Log.Infof("Username: admin")
		s.Log.Infof("Password: %v", pwd)
		admin := User{
			Username:  "admin",
			Password:  pwdhash.HashPassword(pwd),
			Email:     "admin@localhost",
			ApiKey:    NewApiKey(),
			Role:      RoleAdmin,
			CreatedAt: dbh.MakeIntTime(time.Now().UTC()),
		}
		if err := s.DB.Create(&admin).Error; err != nil {
			return err
		}
		if err := s.seedBlogPosts(admin.ID); err != nil {
			return err
		}
	}
	return nil
}

// seedBlogPosts gives the marketing site something to show on a fresh install.
func (s *StoreDB) seedBlogPosts(authorID int64) error {
	nPosts := int64(0)
	if err := s.DB.Model(&BlogPost{}).Count(&nPosts).Error; err != nil {
		return err
	}
	if nPosts != 0 {
		return nil
	}
	now := time.Now().UTC()
	posts := []BlogPost{
		{
			Title:    "Building a High-Performance NFT Marketplace on Ethereum",
			Excerpt:  "Learn how to build a high-performance NFT marketplace on Ethereum using BlockchainKit's APIs and infrastructure.",
			Content:  "This is a detailed guide about building NFT marketplaces...",
			Category: "Tutorial",
		},
		{
			Title:    "Implementing WebSocket Connections for Real-time Blockchain Updates",
			Excerpt:  "Learn how to use WebSockets with BlockchainKit to receive real-time updates from blockchain networks.",
			Content:  "WebSockets provide a powerful way to receive real-time updates from blockchain networks...",
			Category: "Tutorial",
		},
		{
			Title:    "Securing Your API Keys in Web3 Applications",
			Excerpt:  "Security is paramount in Web3 development. Learn how to securely manage and store your API keys in your blockchain applications.",
			Content:  "Properly securing your API keys is critical to protecting your applications and user data...",
			Category: "Security",
		},
	}
	for i := range posts {
		posts[i].AuthorID = authorID
		posts[i].IsPublished = true
		posts[i].PublishedAt = dbh.MakeIntTime(now.Add(-time.Duration(i) * 24 * time.Hour))
		if err := s.DB.Create(&posts[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
