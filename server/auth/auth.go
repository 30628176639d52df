// Package auth resolves inbound requests to users, via login sessions or API keys.
package auth

import (
	"net/http"
	"time"

	"github.com/blockchainkit/blockchainkit/pkg/pwdhash"
	"github.com/blockchainkit/blockchainkit/pkg/rando"
	"github.com/blockchainkit/blockchainkit/server/storedb"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
)

// SYNC-SESSION-COOKIE
const SessionCookie = "session"

const ApiKeyHeader = "X-Api-Key"
const ApiKeyQuery = "api_key"

const SessionDuration = 30 * 24 * time.Hour

type AuthServer struct {
	log logs.Log
	db  *storedb.StoreDB
}

func NewAuthServer(db *storedb.StoreDB, log logs.Log) *AuthServer {
	return &AuthServer{
		log: log,
		db:  db,
	}
}

// AuthenticateRequest resolves the calling user.
// If an API key is present it must be valid; a bad key is rejected with a 401
// without falling back to session auth, because a caller sending a key intends
// key auth, and a typo must not silently degrade to anonymous.
// If authentication fails, sends a 401 to 'w' and returns nil.
func (a *AuthServer) AuthenticateRequest(w http.ResponseWriter, r *http.Request) *storedb.User {
	if key, ok := requestApiKey(r); ok {
		user := a.UserFromApiKey(key)
		if user == nil {
			www.SendError(w, "Invalid API key", http.StatusUnauthorized)
			return nil
		}
		a.recordUsage(user.ID, r.URL.Path)
		return user
	}
	if user := a.UserFromSession(r); user != nil {
		return user
	}
	www.SendError(w, "Not authenticated", http.StatusUnauthorized)
	return nil
}

// AuthenticateSession is like AuthenticateRequest, but only accepts a session
// cookie. Used for the routes that mutate the account (profile update, API key
// rotation), which an API key must not be able to reach.
func (a *AuthServer) AuthenticateSession(w http.ResponseWriter, r *http.Request) *storedb.User {
	if key, ok := requestApiKey(r); ok {
		if a.UserFromApiKey(key) == nil {
			www.SendError(w, "Invalid API key", http.StatusUnauthorized)
			return nil
		}
		// Key is real, but this route needs an interactive session
		www.SendError(w, "Not authenticated", http.StatusUnauthorized)
		return nil
	}
	if user := a.UserFromSession(r); user != nil {
		return user
	}
	www.SendError(w, "Not authenticated", http.StatusUnauthorized)
	return nil
}

// AllowAnonymous authenticates routes that need no user. A request with no
// credentials passes. A request that carries an API key still has the key
// validated: the caller intends key auth, so an unknown key is rejected with
// a 401 rather than degrading to anonymous, and a valid key is metered.
// Returns false after sending the 401.
func (a *AuthServer) AllowAnonymous(w http.ResponseWriter, r *http.Request) bool {
	if key, ok := requestApiKey(r); ok {
		user := a.UserFromApiKey(key)
		if user == nil {
			www.SendError(w, "Invalid API key", http.StatusUnauthorized)
			return false
		}
		a.recordUsage(user.ID, r.URL.Path)
	}
	return true
}

// UserFromApiKey returns the owner of the key, or nil
func (a *AuthServer) UserFromApiKey(key string) *storedb.User {
	user, err := a.db.GetUserByApiKey(key)
	if err != nil {
		a.log.Errorf("API key lookup failed: %v", err)
		return nil
	}
	return user
}

// UserIDForApiKey implements the event hub's ApiKeyResolver
func (a *AuthServer) UserIDForApiKey(key string) int64 {
	user := a.UserFromApiKey(key)
	if user == nil {
		return 0
	}
	return user.ID
}

// UserFromSession returns the user for the request's session cookie, or nil
func (a *AuthServer) UserFromSession(r *http.Request) *storedb.User {
	cookie, _ := r.Cookie(SessionCookie)
	if cookie == nil {
		return nil
	}
	session, err := a.db.GetSession(pwdhash.HashSessionToken(cookie.Value))
	if err != nil {
		a.log.Errorf("Session lookup failed: %v", err)
		return nil
	}
	if session == nil {
		return nil
	}
	user, err := a.db.GetUser(session.UserID)
	if err != nil {
		a.log.Errorf("Session user lookup failed: %v", err)
		return nil
	}
	return user
}

// Login creates a session for the user and sets the session cookie.
func (a *AuthServer) Login(w http.ResponseWriter, userID int64) error {
	now := time.Now().UTC()
	expiresAt := now.Add(SessionDuration)
	token := rando.StrongRandomAlphaNumChars(30)
	session := storedb.Session{
		Key:       pwdhash.HashSessionToken(token),
		UserID:    userID,
		CreatedAt: dbh.MakeIntTime(now),
		ExpiresAt: dbh.MakeIntTime(expiresAt),
	}
	if err := a.db.CreateSession(&session); err != nil {
		return err
	}
	a.db.PurgeExpiredSessions()
	a.log.Infof("Logging %v in", userID)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
	})
	return nil
}

// Logout destroys the request's session, if any. Idempotent.
func (a *AuthServer) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, _ := r.Cookie(SessionCookie)
	if cookie != nil {
		if err := a.db.DeleteSession(pwdhash.HashSessionToken(cookie.Value)); err != nil {
			a.log.Warnf("Failed to delete session: %v", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:    SessionCookie,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
	})
}

func (a *AuthServer) recordUsage(userID int64, endpoint string) {
	err := a.db.RecordApiUsage(&storedb.ApiUsage{
		UserID:   userID,
		Endpoint: endpoint,
	})
	if err != nil {
		a.log.Warnf("Failed to record API usage: %v", err)
	}
}

func requestApiKey(r *http.Request) (string, bool) {
	if key := r.Header.Get(ApiKeyHeader); key != "" {
		return key, true
	}
	if key := r.URL.Query().Get(ApiKeyQuery); key != "" {
		return key, true
	}
	return "", false
}
