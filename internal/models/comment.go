package models

import (
	"time"
)

// Comment is owned by exactly one Post and is never moved between posts.
type Comment struct {
	ID          string `json:"id" bson:"id"`
	AuthorID    string `json:"authorId" bson:"authorid"`
	AuthorName  string `json:"authorName" bson:"authorname"`
	AuthorBadge string `json:"authorBadge,omitempty" bson:"authorbadge,omitempty"`
	Content     string `json:"content" bson:"content"`
	Timestamp   int64  `json:"timestamp" bson:"timestamp"`
	Votes       int    `json:"votes" bson:"votes"` // not mutated by any event yet
}

func (c *Comment) CreatedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
