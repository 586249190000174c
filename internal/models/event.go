package models

// EventType is the wire tag of a mutation event. The values are shared with
// every replica on the channel and must not change.
type EventType string

const (
	EventNewPost EventType = "NEW_POST"
	EventVote    EventType = "VOTE"
	EventComment EventType = "COMMENT"
	EventPing    EventType = "PING"
)

// Event is one MutationEvent variant.
type Event interface {
	Type() EventType
}

type NewPostEvent struct {
	Post *Post
}

type VoteEvent struct {
	PostID string `json:"postId"`
	Delta  int    `json:"delta"`
}

type CommentEvent struct {
	PostID  string   `json:"postId"`
	Comment *Comment `json:"comment"`
}

// PingEvent announces a replica's liveness together with the peer count it
// claims for itself.
type PingEvent struct {
	Count int `json:"count"`
}

func (NewPostEvent) Type() EventType { return EventNewPost }
func (VoteEvent) Type() EventType    { return EventVote }
func (CommentEvent) Type() EventType { return EventComment }
func (PingEvent) Type() EventType    { return EventPing }
