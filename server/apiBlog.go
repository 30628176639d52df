package server

import (
	"net/http"

	"github.com/blockchainkit/blockchainkit/server/storedb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpBlogList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	posts, err := s.DB.GetBlogPosts()
	www.Check(err)
	www.SendJSON(w, posts)
}

func (s *Server) httpBlogGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	if id == 0 {
		www.PanicBadRequestf("Invalid blog post ID")
	}
	post, err := s.DB.GetBlogPost(id)
	www.Check(err)
	if post == nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, post)
}

// SYNC-CREATE-BLOG-POST-REQUEST
type createBlogPostRequest struct {
	Title       string `json:"title"`
	Excerpt     string `json:"excerpt"`
	Content     string `json:"content"`
	Category    string `json:"category"`
	IsPublished *bool  `json:"isPublished"`
}

func (s *Server) httpBlogCreate(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *storedb.User) {
	if !user.IsAdmin() {
		www.PanicForbidden()
	}
	req := createBlogPostRequest{}
	www.ReadJSON(w, r, &req, maxRequestBody)

	errs := []string{}
	if req.Title == "" {
		errs = append(errs, "title is required")
	}
	if req.Excerpt == "" {
		errs = append(errs, "excerpt is required")
	}
	if req.Content == "" {
		errs = append(errs, "content is required")
	}
	if req.Category == "" {
		errs = append(errs, "category is required")
	}
	if len(errs) != 0 {
		sendValidationError(w, errs)
		return
	}

	post := storedb.BlogPost{
		Title:       req.Title,
		Excerpt:     req.Excerpt,
		Content:     req.Content,
		AuthorID:    user.ID,
		Category:    req.Category,
		IsPublished: true,
	}
	if req.IsPublished != nil {
		post.IsPublished = *req.IsPublished
	}
	www.Check(s.DB.CreateBlogPost(&post))
	sendJSONStatus(w, &post, http.StatusCreated)
}
