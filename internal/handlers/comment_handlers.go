package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

// CreateCommentRequest represents a request to comment on a post
type CreateCommentRequest struct {
	AuthorID    string `json:"authorId"`
	AuthorName  string `json:"authorName"`
	AuthorBadge string `json:"authorBadge"`
	Content     string `json:"content"`
}

// HandleComment appends a comment to the post named in the path.
func (s *Server) HandleComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateCommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, utils.NewInvalidInputError("invalid request body"))
			return
		}
		if req.Content == "" {
			s.writeError(w, r, utils.NewInvalidInputError("content is required"))
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		result, err := s.Engine.CommentPost(ctx, mux.Vars(r)["id"], &models.Comment{
			AuthorID:    req.AuthorID,
			AuthorName:  req.AuthorName,
			AuthorBadge: req.AuthorBadge,
			Content:     req.Content,
			Votes:       1,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}
