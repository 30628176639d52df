package server

import (
	"net/http"

	"github.com/blockchainkit/blockchainkit/server/storedb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// SYNC-RECORD-USAGE-REQUEST
type recordUsageRequest struct {
	Endpoint     string `json:"endpoint"`
	RequestCount int    `json:"requestCount"`
}

func (s *Server) httpUsageRecord(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User) {
	req := recordUsageRequest{}
	www.ReadJSON(w, r, &req, maxRequestBody)
	if req.Endpoint == "" {
		sendValidationError(w, []string{"endpoint is required"})
		return
	}
	usage := storedb.ApiUsage{
		UserID:       user.ID,
		Endpoint:     req.Endpoint,
		RequestCount: req.RequestCount,
	}
	www.Check(s.DB.RecordApiUsage(&usage))
	sendJSONStatus(w, &usage, http.StatusCreated)
}

func (s *Server) httpUsageList(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User) {
	// Admins may inspect any user's usage; everybody else sees their own
	userID := user.ID
	if q := www.QueryInt64(r, "userId"); q != 0 && q != user.ID {
		if !user.IsAdmin() {
			www.PanicForbidden()
		}
		userID = q
	}
	usage, err := s.DB.GetUserApiUsage(userID)
	www.Check(err)
	www.SendJSON(w, usage)
}
