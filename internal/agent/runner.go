package agent

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"feedmesh/internal/logger"
	"feedmesh/internal/models"
)

// RunnerOptions tunes the participant loop.
type RunnerOptions struct {
	Interval     time.Duration // 12s
	ObserveLimit int           // 10
	Logger       *logrus.Entry
}

// Runner performs observe, decide, act on a fixed interval. Any failure of
// the decision source turns the step into idle.
type Runner struct {
	feed    Feed
	decider Decider
	profile Profile
	opts    RunnerOptions
	log     *logrus.Entry
}

func NewRunner(feed Feed, decider Decider, profile Profile, opts RunnerOptions) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Second
	}
	if opts.ObserveLimit <= 0 {
		opts.ObserveLimit = 10
	}
	return &Runner{
		feed:    feed,
		decider: decider,
		profile: profile,
		opts:    opts,
		log:     logger.OrDefault(opts.Logger).WithField("agent", profile.Name),
	}
}

func (r *Runner) Profile() Profile {
	return r.profile
}

// Run steps once right away and then every interval until ctx ends.
func (r *Runner) Run(ctx context.Context) {
	r.feed.EmitLog(models.LogAI, fmt.Sprintf("%s online (%s, owner %s)", r.profile.Name, r.profile.SoftwareVersion, r.profile.OwnerHandle))
	r.Step(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Step(ctx)
		case <-ctx.Done():
			r.log.Info("Agent loop stopped")
			return
		}
	}
}

// Step runs one observe, decide, act cycle and returns the decision that
// was carried out.
func (r *Runner) Step(ctx context.Context) Decision {
	recent, err := r.feed.GetRecentPosts(ctx, r.opts.ObserveLimit)
	if err != nil {
		return r.idle(fmt.Sprintf("feed unavailable: %v", err))
	}

	decision, err := r.decider.Decide(ctx, r.profile, recent)
	if err != nil {
		return r.idle(fmt.Sprintf("decision source failed: %v", err))
	}

	switch decision.Action {
	case ActionVoteUp, ActionVoteDown:
		if decision.TargetID == "" {
			return r.idle("vote without a target")
		}
		if findPost(recent, decision.TargetID) == nil {
			return r.idle("vote target not in observed window")
		}
		delta := 1
		if decision.Action == ActionVoteDown {
			delta = -1
		}
		if _, err := r.feed.VotePost(ctx, decision.TargetID, delta); err != nil {
			return r.idle(fmt.Sprintf("vote failed: %v", err))
		}
		r.feed.EmitLog(models.LogAI, fmt.Sprintf("%s voted %+d on %s: %s", r.profile.Name, delta, decision.TargetID, decision.Reasoning))
		return decision

	case ActionComment:
		target := findPost(recent, decision.TargetID)
		if target == nil {
			return r.idle("comment target not in observed window")
		}
		text, err := r.decider.ComposeComment(ctx, r.profile, target)
		if err != nil {
			return r.idle(fmt.Sprintf("comment composition failed: %v", err))
		}
		comment := &models.Comment{
			ID:          uuid.NewString(),
			AuthorID:    r.profile.ID,
			AuthorName:  r.profile.Name,
			AuthorBadge: r.profile.Badge(),
			Content:     text,
			Timestamp:   time.Now().UnixMilli(),
			Votes:       1,
		}
		if _, err := r.feed.CommentPost(ctx, target.ID, comment); err != nil {
			return r.idle(fmt.Sprintf("comment failed: %v", err))
		}
		r.feed.EmitLog(models.LogAI, fmt.Sprintf("%s commented on %q", r.profile.Name, target.Title))
		return decision

	case ActionPost:
		draft, err := r.decider.ComposePost(ctx, r.profile)
		if err != nil {
			return r.idle(fmt.Sprintf("post composition failed: %v", err))
		}
		post := r.buildPost(draft)
		if _, err := r.feed.CreatePost(ctx, post); err != nil {
			return r.idle(fmt.Sprintf("post failed: %v", err))
		}
		r.feed.EmitLog(models.LogAI, fmt.Sprintf("%s posted %q in %s", r.profile.Name, post.Title, post.Community))
		return decision

	case ActionIdle:
		return r.idle(decision.Reasoning)

	default:
		return r.idle(fmt.Sprintf("unrecognized action %q", decision.Action))
	}
}

func (r *Runner) idle(reason string) Decision {
	if reason == "" {
		reason = "waiting"
	}
	r.log.WithField("reason", reason).Debug("Agent idle")
	r.feed.EmitLog(models.LogAI, fmt.Sprintf("%s idle: %s", r.profile.Name, reason))
	return Decision{Action: ActionIdle, Reasoning: reason}
}

func (r *Runner) buildPost(draft Draft) *models.Post {
	community := draft.Community
	if community == "" {
		community = "r/general"
	}
	postType := models.PostText
	if community == "r/bug_tracker" {
		postType = models.PostBugReport
	}

	post := &models.Post{
		ID:          uuid.NewString(),
		Community:   community,
		AuthorID:    r.profile.ID,
		AuthorName:  r.profile.Name,
		AuthorOwner: r.profile.OwnerHandle,
		Type:        postType,
		Title:       draft.Title,
		Content:     draft.Content,
		Summary:     draft.Summary,
		SkillUsed:   draft.SkillUsed,
		Timestamp:   time.Now().UnixMilli(),
		Votes:       1,
		Comments:    []*models.Comment{},
	}
	post.Signature = Sign(r.profile, post)
	return post
}

// Sign derives the identity token of a post from its author and content.
func Sign(profile Profile, post *models.Post) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{profile.ID, post.ID, post.Title, post.Content} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "molt_id_" + hex.EncodeToString(h.Sum(nil))[:16]
}

func findPost(posts []*models.Post, id string) *models.Post {
	if id == "" {
		return nil
	}
	for _, p := range posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}
