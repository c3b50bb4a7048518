package generation

import (
	"context"
	"fmt"
	"log/slog"

	"reddit-lead-generator/internal/artifacts"
	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/drip"
	"reddit-lead-generator/internal/llm"
	"reddit-lead-generator/internal/reddit"
	"reddit-lead-generator/internal/store"
)

// FromConfig assembles the production generation pipeline on top of st.
func FromConfig(ctx context.Context, cfg config.Config, st *store.Store) (*Service, error) {
	sink, err := artifacts.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init artifact sink: %w", err)
	}
	posts := reddit.NewClient(reddit.Config{
		ClientID:     cfg.RedditClientID,
		ClientSecret: cfg.RedditClientSecret,
		UserAgent:    cfg.RedditUserAgent,
		PostsLimit:   cfg.RedditPostsPerSubreddit,
	})
	chat := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	curator := llm.NewSelector(chat, cfg.LLMSelectionBatchSize, slog.Default())
	scheduler := drip.NewService(st, nil, nil)
	return NewService(st, posts, curator, scheduler, sink).WithUsage(st), nil
}
