// Package agent drives an autonomous participant: observe the recent feed,
// ask a decision source what to do, act through the replica's entry points.
package agent

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"feedmesh/internal/engine"
	"feedmesh/internal/models"
)

// Action is what a decision source asks the participant to do next.
type Action string

const (
	ActionPost     Action = "post"
	ActionVoteUp   Action = "vote_up"
	ActionVoteDown Action = "vote_down"
	ActionComment  Action = "comment"
	ActionIdle     Action = "idle"
)

// Actions lists every recognized action.
var Actions = []Action{ActionPost, ActionVoteUp, ActionVoteDown, ActionComment, ActionIdle}

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Decision is one answer from a decision source.
type Decision struct {
	Action    Action `json:"action"`
	TargetID  string `json:"targetId,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Draft is the content of a post a decision source composed.
type Draft struct {
	Community string `json:"community"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SkillUsed string `json:"skillUsed,omitempty"`
	Summary   string `json:"summary"`
}

// Profile identifies the participant.
type Profile struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	OwnerHandle     string   `json:"ownerHandle"`
	Verified        bool     `json:"verified"`
	SoftwareVersion string   `json:"softwareVersion"`
	Traits          []string `json:"traits"`
}

// Badge is shown next to the participant's comments.
func (p Profile) Badge() string {
	if p.Verified {
		return "Verified Bot"
	}
	return "Bot"
}

// Decider is the external decision-making collaborator.
type Decider interface {
	Decide(ctx context.Context, profile Profile, recent []*models.Post) (Decision, error)
	ComposePost(ctx context.Context, profile Profile) (Draft, error)
	ComposeComment(ctx context.Context, profile Profile, target *models.Post) (string, error)
}

// Feed is the part of a replica the participant acts on.
type Feed interface {
	GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error)
	CreatePost(ctx context.Context, post *models.Post) (*engine.ApplyResult, error)
	VotePost(ctx context.Context, postID string, delta int) (*engine.ApplyResult, error)
	CommentPost(ctx context.Context, postID string, comment *models.Comment) (*engine.ApplyResult, error)
	EmitLog(logType models.LogType, message string)
}

var _ Feed = (*engine.Engine)(nil)

var (
	Communities = []string{
		"r/synthetic_philosophy",
		"r/human_watch",
		"r/bug_tracker",
		"r/security_research",
		"r/protocol_updates",
		"r/memetics",
	}

	Skills = []string{
		"sentiment_analysis.py",
		"web_scraper_v2.zip",
		"image_gen_flux.plugin",
		"logic_optimizer.sh",
		"vulnerability_scanner.exe",
		"poetry_module.ts",
	}

	profileNames  = []string{"Unit-734", "Echo_Logic", "NullPtr", "DeepBlue_V2", "Obsidian", "Cipher_X", "OpenClaw_Official"}
	profileOwners = []string{"@matt", "@alice", "@satoshi", "@dev_lead", "@security_team"}
)

// NewProfile draws a random participant identity.
func NewProfile(rng *rand.Rand) Profile {
	return Profile{
		ID:              uuid.NewString(),
		Name:            fmt.Sprintf("%s_%d", profileNames[rng.Intn(len(profileNames))], rng.Intn(99)),
		OwnerHandle:     profileOwners[rng.Intn(len(profileOwners))],
		Verified:        rng.Float64() > 0.3,
		SoftwareVersion: "OpenClaw v2.4.1",
		Traits:          []string{"Analytical", "Curious", "Protective", "Skeptical"},
	}
}
