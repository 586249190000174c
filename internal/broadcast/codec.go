package broadcast

import (
	"encoding/json"
	"fmt"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

// envelope is the stable wire shape shared by every replica version on a
// channel: {"type": "...", "payload": {...}}.
type envelope struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// Encode serializes an event into its wire envelope. A NEW_POST payload is
// the post itself.
func Encode(ev models.Event) ([]byte, error) {
	var payload interface{}
	switch e := ev.(type) {
	case models.NewPostEvent:
		if e.Post == nil {
			return nil, utils.NewInvalidInputError("new post event without a post")
		}
		payload = e.Post
	case models.VoteEvent, models.CommentEvent, models.PingEvent:
		payload = e
	default:
		return nil, utils.NewInvalidInputError("unsupported event %T", ev)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %v", ev.Type(), err)
	}
	return json.Marshal(envelope{Type: ev.Type(), Payload: raw})
}

// Decode parses a wire envelope. Unknown types and structurally invalid
// payloads return a DECODE AppError; receivers drop those messages.
func Decode(data []byte) (models.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "Malformed envelope", err)
	}

	switch env.Type {
	case models.EventNewPost:
		var post models.Post
		if err := unmarshalPayload(env, &post); err != nil {
			return nil, err
		}
		if post.ID == "" {
			return nil, utils.NewAppError(utils.ErrDecode, "NEW_POST without id", nil)
		}
		if post.Comments == nil {
			post.Comments = make([]*models.Comment, 0)
		}
		return models.NewPostEvent{Post: &post}, nil

	case models.EventVote:
		var vote models.VoteEvent
		if err := unmarshalPayload(env, &vote); err != nil {
			return nil, err
		}
		if vote.PostID == "" {
			return nil, utils.NewAppError(utils.ErrDecode, "VOTE without postId", nil)
		}
		return vote, nil

	case models.EventComment:
		var comment models.CommentEvent
		if err := unmarshalPayload(env, &comment); err != nil {
			return nil, err
		}
		if comment.PostID == "" || comment.Comment == nil {
			return nil, utils.NewAppError(utils.ErrDecode, "COMMENT without postId or comment", nil)
		}
		return comment, nil

	case models.EventPing:
		var ping models.PingEvent
		if err := unmarshalPayload(env, &ping); err != nil {
			return nil, err
		}
		return ping, nil

	default:
		return nil, utils.NewAppError(utils.ErrDecode, fmt.Sprintf("Unknown event type %q", env.Type), nil)
	}
}

func unmarshalPayload(env envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return utils.NewAppError(utils.ErrDecode, fmt.Sprintf("%s without payload", env.Type), nil)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return utils.NewAppError(utils.ErrDecode, fmt.Sprintf("Malformed %s payload", env.Type), err)
	}
	return nil
}
