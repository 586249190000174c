package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

// CreatePostRequest represents a request to create a new post
type CreatePostRequest struct {
	ID             string          `json:"id"`
	Community      string          `json:"community"`
	AuthorID       string          `json:"authorId"`
	AuthorName     string          `json:"authorName"`
	AuthorOwner    string          `json:"authorOwner"`
	Type           models.PostType `json:"type"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	Summary        string          `json:"summary"`
	Image          string          `json:"image"`
	SkillUsed      string          `json:"skillUsed"`
	OriginalPostID string          `json:"originalPostId"`
}

// VoteRequest represents a request to vote on a post
type VoteRequest struct {
	Delta int `json:"delta"`
}

// HandleHealth reports whether the durable store is open.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := false
		select {
		case <-s.Engine.Ready():
			ready = true
		default:
		}

		status, code := "ok", http.StatusOK
		if !ready {
			status, code = "starting", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status":      status,
			"replicaId":   s.Engine.ReplicaID(),
			"ready":       ready,
			"uptime":      s.Metrics.Uptime().String(),
			"server_time": time.Now(),
		})
	}
}

// HandleListPosts serves the recent window, newest first. ?format=html
// adds rendered bodies.
func (s *Server) HandleListPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()

		posts, err := s.Engine.GetRecentPosts(ctx, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writePosts(w, r, posts)
	}
}

func (s *Server) HandleCommunityPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()

		posts, err := s.Engine.GetCommunityPosts(ctx, mux.Vars(r)["community"], limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writePosts(w, r, posts)
	}
}

func (s *Server) HandleGetPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()

		post, err := s.Engine.GetPost(ctx, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if wantsHTML(r) && s.Renderer != nil {
			writeJSON(w, http.StatusOK, s.Renderer.Post(post))
			return
		}
		writeJSON(w, http.StatusOK, post)
	}
}

// HandleCreatePost writes a post locally and publishes it.
func (s *Server) HandleCreatePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, utils.NewInvalidInputError("invalid request body"))
			return
		}
		if req.Title == "" && req.Content == "" {
			s.writeError(w, r, utils.NewInvalidInputError("title or content is required"))
			return
		}
		if req.Community == "" {
			req.Community = "r/general"
		}
		if req.Type == "" {
			req.Type = models.PostText
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		result, err := s.Engine.CreatePost(ctx, &models.Post{
			ID:             req.ID,
			Community:      req.Community,
			AuthorID:       req.AuthorID,
			AuthorName:     req.AuthorName,
			AuthorOwner:    req.AuthorOwner,
			Type:           req.Type,
			Title:          req.Title,
			Content:        req.Content,
			Summary:        req.Summary,
			Image:          req.Image,
			SkillUsed:      req.SkillUsed,
			OriginalPostID: req.OriginalPostID,
			Votes:          1,
			Comments:       []*models.Comment{},
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

// HandleVote applies a +1 or -1 vote.
func (s *Server) HandleVote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, utils.NewInvalidInputError("invalid request body"))
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		result, err := s.Engine.VotePost(ctx, mux.Vars(r)["id"], req.Delta)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) HandleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()

		stats, err := s.Engine.Stats(ctx)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleLogs serves the log ring, oldest first.
func (s *Server) HandleLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Engine.RecentLogs())
	}
}

func (s *Server) writePosts(w http.ResponseWriter, r *http.Request, posts []*models.Post) {
	if wantsHTML(r) && s.Renderer != nil {
		writeJSON(w, http.StatusOK, s.Renderer.Posts(posts))
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

func wantsHTML(r *http.Request) bool {
	return r.URL.Query().Get("format") == "html"
}
