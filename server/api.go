package server

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/blockchainkit/blockchainkit/server/storedb"
	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User)

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	// protected creates an HTTP handler that is accessible with a session or an API key
	protected := func(method, route string, handle authenticatedHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			user := s.auth.AuthenticateRequest(w, r)
			if user == nil {
				return
			}
			handle(w, r, params, user)
		})
	}

	// sessionOnly creates an HTTP handler that requires an interactive session.
	// These are the account-mutating routes, which API keys must not reach.
	sessionOnly := func(method, route string, handle authenticatedHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			user := s.auth.AuthenticateSession(w, r)
			if user == nil {
				return
			}
			handle(w, r, params, user)
		})
	}

	// unprotected creates an HTTP handler that is accessible without authentication.
	// A request that carries an API key still has the key validated, so that a
	// bad key never silently degrades to anonymous.
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if !s.auth.AllowAnonymous(w, r) {
				return
			}
			handle(w, r, params)
		})
	}

	// ratelimited protects the credential-guessing surface
	ratelimited := func(method, route string, handle http.HandlerFunc, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if !s.auth.AllowAnonymous(w, r) {
				return
			}
			limited(handle).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/api/ping", s.httpPing)

	ratelimited("POST", "/api/register", s.httpAuthRegister, 5, time.Minute)
	ratelimited("POST", "/api/login", s.httpAuthLogin, 10, time.Minute)
	unprotected("POST", "/api/logout", s.httpAuthLogout)
	protected("GET", "/api/user", s.httpAuthCurrentUser)
	sessionOnly("PUT", "/api/user", s.httpAuthUpdateProfile)
	sessionOnly("POST", "/api/user/apikey", s.httpAuthRotateApiKey)

	unprotected("GET", "/api/blog", s.httpBlogList)
	unprotected("GET", "/api/blog/:id", s.httpBlogGet)
	sessionOnly("POST", "/api/blog", s.httpBlogCreate)

	protected("POST", "/api/usage", s.httpUsageRecord)
	protected("GET", "/api/usage", s.httpUsageList)

	unprotected("GET", "/api/ws", s.httpWebSocket)

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "www"
	fsys = staticWWW
	if s.HotReloadWWW {
		relRoot := "server/www"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v. Run 'npm run build' in 'www' to build static files.", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		Status         string `json:"status"`
		WebSocketConns int    `json:"webSocketConns"`
	}
	www.SendJSON(w, response{Status: "ok", WebSocketConns: s.hub.NumConnections()})
}

func (s *Server) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.hub.HandleWebSocket(w, r)
}

// SYNC-VALIDATION-ERROR-JSON
type validationErrorJSON struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// sendValidationError reports malformed input as a structured 400,
// so that forms can show field-level problems
func sendValidationError(w http.ResponseWriter, errs []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(validationErrorJSON{Message: "Validation error", Errors: errs})
}

// sendJSONStatus is www.SendJSON with an explicit status code (eg 201)
func sendJSONStatus(w http.ResponseWriter, obj any, status int) {
	buf, err := json.Marshal(obj)
	www.Check(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf)
}
