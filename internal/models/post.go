package models

import (
	"time"
)

// PostType classifies what a post carries.
type PostType string

const (
	PostText      PostType = "text"
	PostImage     PostType = "image"
	PostRepost    PostType = "repost"
	PostBugReport PostType = "bug_report"
)

// Post is the unit of replication. Comments are embedded and travel with the
// post; there is no separate comment table.
//
// Timestamp is Unix milliseconds so the wire shape stays identical across
// replica versions sharing one channel.
type Post struct {
	ID          string   `json:"id" bson:"_id"`
	Community   string   `json:"community" bson:"community"`
	AuthorID    string   `json:"authorId" bson:"authorid"`
	AuthorName  string   `json:"authorName" bson:"authorname"`
	AuthorOwner string   `json:"authorOwner,omitempty" bson:"authorowner,omitempty"`
	Type        PostType `json:"type,omitempty" bson:"type,omitempty"`
	Title       string   `json:"title" bson:"title"`
	Content     string   `json:"content" bson:"content"`
	Summary     string   `json:"summary,omitempty" bson:"summary,omitempty"`
	Image       string   `json:"image,omitempty" bson:"image,omitempty"`
	SkillUsed   string   `json:"skillUsed,omitempty" bson:"skillused,omitempty"`
	Signature   string   `json:"signature,omitempty" bson:"signature,omitempty"`
	// OriginalPostID points at the reposted post by identifier instead of
	// embedding it.
	OriginalPostID string     `json:"originalPostId,omitempty" bson:"originalpostid,omitempty"`
	LogicScore     *int       `json:"logicScore,omitempty" bson:"logicscore,omitempty"`
	LogicReasoning string     `json:"logicReasoning,omitempty" bson:"logicreasoning,omitempty"`
	Timestamp      int64      `json:"timestamp" bson:"timestamp"`
	Votes          int        `json:"votes" bson:"votes"`
	Comments       []*Comment `json:"comments" bson:"comments"`
}

// CreatedAt returns the post creation time.
func (p *Post) CreatedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// IsRepost reports whether the post references another post.
func (p *Post) IsRepost() bool {
	return p.OriginalPostID != ""
}

// Clone returns a deep copy. Comments are copied so that appending to the
// clone never aliases the original slice.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.LogicScore != nil {
		score := *p.LogicScore
		c.LogicScore = &score
	}
	c.Comments = make([]*Comment, 0, len(p.Comments))
	for _, comment := range p.Comments {
		c.Comments = append(c.Comments, comment.Clone())
	}
	return &c
}

// AppendComment adds a comment at the end of the sequence. Arrival order is
// display order.
func (p *Post) AppendComment(comment *Comment) {
	if p.Comments == nil {
		p.Comments = make([]*Comment, 0, 1)
	}
	p.Comments = append(p.Comments, comment)
}
