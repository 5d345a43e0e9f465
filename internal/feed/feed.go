package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/feeds"

	"github.com/pressone/atom/internal/store"
)

// Generator renders the feed of a topic from the store's read path: only
// fetched, verified, live posts of currently allowed authors appear.
type Generator struct {
	store  store.AtomStore
	logger *slog.Logger
	now    func() time.Time
}

func WithNow(nowFunc func() time.Time) func(*Generator) {
	return func(g *Generator) {
		g.now = nowFunc
	}
}

func NewGenerator(s store.AtomStore, logger *slog.Logger, opts ...func(*Generator)) *Generator {
	g := &Generator{
		store:  s,
		logger: logger.With(slog.String("module", "feed")),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Atom renders the newest posts of the topic as an Atom document.
func (g *Generator) Atom(ctx context.Context, topic string, limit int) (string, error) {
	posts, err := g.store.GetAllowedPosts(ctx, topic, 0, limit)
	if err != nil {
		return "", err
	}

	atomFeed := &feeds.Feed{
		Title:   topic,
		Id:      "atom:topic:" + topic,
		Link:    &feeds.Link{Href: "atom:topic:" + topic},
		Updated: g.now().UTC(),
	}

	for _, post := range posts {
		item, err := g.item(ctx, post)
		if err != nil {
			g.logger.Warn("post left out of feed",
				slog.String("publish_tx_id", post.PublishTxID),
				slog.String("err", err.Error()))
			continue
		}
		atomFeed.Items = append(atomFeed.Items, item)
	}

	return atomFeed.ToAtom()
}

func (g *Generator) item(ctx context.Context, post *store.Post) (*feeds.Item, error) {
	content, err := g.store.GetContent(ctx, post.FileHash)
	if err != nil {
		return nil, err
	}
	if content.Deleted {
		return nil, errors.New("content retired")
	}

	meta, body := ParseFrontMatter(content.Content)

	title := meta.Title
	if title == "" {
		title = fmt.Sprintf("post %s", post.PublishTxID)
	}

	updated := meta.PublishedAt()
	if updated.IsZero() {
		updated = post.UpdatedAt
	}

	return &feeds.Item{
		Id:      post.PublishTxID,
		Title:   title,
		Author:  &feeds.Author{Name: meta.Author},
		Link:    &feeds.Link{Href: post.URL},
		Content: body,
		Updated: updated,
	}, nil
}
