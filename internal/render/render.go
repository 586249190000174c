// Package render turns post and comment bodies into sanitized HTML.
package render

import (
	"bytes"
	"encoding/hex"
	"html"
	"html/template"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/crypto/blake2b"

	"feedmesh/internal/models"
)

// Renderer converts markdown bodies to safe HTML. Output is cached by the
// digest of the source text, so identical bodies render once.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	cache  *lru.Cache[string, template.HTML]
}

// New builds a renderer with room for cacheSize rendered bodies.
func New(cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		cacheSize = 500
	}
	cache, err := lru.New[string, template.HTML](cacheSize)
	if err != nil {
		return nil, err
	}

	policy := bluemonday.UGCPolicy()
	policy.AllowImages()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoReferrerOnLinks(true)

	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
				gmhtml.WithXHTML(),
			),
		),
		policy: policy,
		cache:  cache,
	}, nil
}

// Markdown renders source. Unparseable input comes back escaped.
func (r *Renderer) Markdown(source string) template.HTML {
	key := digest(source)
	if out, ok := r.cache.Get(key); ok {
		return out
	}

	var buf bytes.Buffer
	var out template.HTML
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		out = template.HTML(html.EscapeString(source))
	} else {
		out = template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
	}
	r.cache.Add(key, out)
	return out
}

// RenderedComment is a comment with its body rendered.
type RenderedComment struct {
	*models.Comment
	HTML template.HTML `json:"html"`
}

// RenderedPost is a post with its body and comments rendered.
type RenderedPost struct {
	*models.Post
	HTML     template.HTML      `json:"html"`
	Comments []*RenderedComment `json:"comments"`
}

// Post renders one post and its comments.
func (r *Renderer) Post(post *models.Post) *RenderedPost {
	out := &RenderedPost{
		Post:     post,
		HTML:     r.Markdown(post.Content),
		Comments: make([]*RenderedComment, 0, len(post.Comments)),
	}
	for _, c := range post.Comments {
		out.Comments = append(out.Comments, &RenderedComment{Comment: c, HTML: r.Markdown(c.Content)})
	}
	return out
}

// Posts renders a window of posts, keeping its order.
func (r *Renderer) Posts(posts []*models.Post) []*RenderedPost {
	out := make([]*RenderedPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, r.Post(p))
	}
	return out
}

// CacheLen is the number of cached bodies.
func (r *Renderer) CacheLen() int {
	return r.cache.Len()
}

func digest(source string) string {
	sum := blake2b.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
