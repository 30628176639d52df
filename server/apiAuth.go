package server

import (
	"net/http"
	"strings"

	"github.com/blockchainkit/blockchainkit/pkg/pwdhash"
	"github.com/blockchainkit/blockchainkit/server/auth"
	"github.com/blockchainkit/blockchainkit/server/storedb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const maxRequestBody = 1024 * 1024

// SYNC-REGISTER-REQUEST
type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (s *Server) httpAuthRegister(w http.ResponseWriter, r *http.Request) {
	req := registerRequest{}
	www.ReadJSON(w, r, &req, maxRequestBody)
	// Usernames are case-insensitive, and stored lowercase
	req.Username = storedb.NormalizeUsername(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	errs := []string{}
	if req.Username == "" {
		errs = append(errs, "username is required")
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		errs = append(errs, "a valid email is required")
	}
	if err := auth.IsPasswordOK(req.Password); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) != 0 {
		sendValidationError(w, errs)
		return
	}

	existing, err := s.DB.GetUserByUsername(req.Username)
	www.Check(err)
	if existing != nil {
		www.PanicBadRequestf("Username already exists")
	}
	existing, err = s.DB.GetUserByEmail(req.Email)
	www.Check(err)
	if existing != nil {
		www.PanicBadRequestf("Email already exists")
	}

	user := storedb.User{
		Username: req.Username,
		Password: pwdhash.HashPassword(req.Password),
		Email:    req.Email,
		ApiKey:   storedb.NewApiKey(),
		Role:     storedb.RoleUser,
	}
	www.Check(s.DB.CreateUser(&user))
	s.Log.Infof("Created new user %v (%v)", user.Username, user.Email)

	// Registration doubles as the first login
	www.Check(s.auth.Login(w, user.ID))
	sendJSONStatus(w, &user, http.StatusCreated)
}

// SYNC-LOGIN-REQUEST
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) httpAuthLogin(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	www.ReadJSON(w, r, &req, maxRequestBody)

	// The same response for an unknown username and a wrong password,
	// so that login attempts can't probe which usernames exist
	user, err := s.DB.GetUserByUsername(storedb.NormalizeUsername(req.Username))
	www.Check(err)
	if user == nil || !pwdhash.VerifyPassword(req.Password, user.Password) {
		www.SendError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	www.Check(s.auth.Login(w, user.ID))
	www.SendJSON(w, user)
}

func (s *Server) httpAuthLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.auth.Logout(w, r)
	www.SendOK(w)
}

func (s *Server) httpAuthCurrentUser(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User) {
	www.SendJSON(w, user)
}

// SYNC-UPDATE-PROFILE-REQUEST
// password, role and apiKey are deliberately absent: those fields have their
// own flows, and a profile update silently ignores any attempt to set them.
type updateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

func (s *Server) httpAuthUpdateProfile(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User) {
	req := updateProfileRequest{}
	www.ReadJSON(w, r, &req, maxRequestBody)

	fields := map[string]any{}
	if req.Username != nil {
		username := storedb.NormalizeUsername(*req.Username)
		if username == "" {
			sendValidationError(w, []string{"username may not be empty"})
			return
		}
		if username != user.Username {
			other, err := s.DB.GetUserByUsername(username)
			www.Check(err)
			if other != nil {
				www.PanicBadRequestf("Username already exists")
			}
			fields["username"] = username
		}
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email == "" || !strings.Contains(email, "@") {
			sendValidationError(w, []string{"a valid email is required"})
			return
		}
		if email != user.Email {
			other, err := s.DB.GetUserByEmail(email)
			www.Check(err)
			if other != nil {
				www.PanicBadRequestf("Email already exists")
			}
			fields["email"] = email
		}
	}

	updated, err := s.DB.UpdateUser(user.ID, fields)
	www.Check(err)
	if updated == nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, updated)
}

func (s *Server) httpAuthRotateApiKey(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User) {
	// The moment the new key lands in the DB, the old key is dead. There is
	// no grace period.
	newKey := storedb.NewApiKey()
	updated, err := s.DB.UpdateUser(user.ID, map[string]any{"api_key": newKey})
	www.Check(err)
	if updated == nil {
		www.PanicNotFound()
	}
	s.Log.Infof("Rotated API key for user %v", user.ID)

	type response struct {
		ApiKey string `json:"apiKey"`
	}
	www.SendJSON(w, response{ApiKey: newKey})
}
