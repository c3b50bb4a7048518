package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/reddit"
)

const defaultBatchSize = 10

// Selector runs the two model steps of a generation: picking posts that look
// like buying intent, then drafting a reply for each pick.
type Selector struct {
	chat      Chatter
	batchSize int
	log       *slog.Logger
}

func NewSelector(chat Chatter, batchSize int, log *slog.Logger) *Selector {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Selector{chat: chat, batchSize: batchSize, log: log}
}

const selectSystemPrompt = `You review Reddit posts for a product team looking for potential customers.
Pick only posts whose author has a problem the product solves or is asking for a tool like it.
Ignore self-promotion, news, memes and posts where a reply about the product would be spam.
Answer with a JSON object {"post_ids": [<post number>, ...]}; use an empty list when nothing fits.`

const draftSystemPrompt = `You write helpful Reddit replies on behalf of a product team.
Each reply answers the author's question first, in a casual tone, and mentions the product only where it genuinely helps.
No marketing language, no links unless asked, at most 120 words.
Answer with a JSON object {"comments": [{"<post number>": "<reply>"}, ...]} with one entry per post.`

// Select asks the model to pick relevant posts, batchSize posts per request.
// A batch whose reply is not valid JSON is logged and skipped; numbers outside
// the batch are ignored. The returned posts keep their input order.
func (s *Selector) Select(ctx context.Context, product models.Product, posts []reddit.Post) ([]reddit.Post, error) {
	picked := make(map[int]struct{})
	for start := 0; start < len(posts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(posts) {
			end = len(posts)
		}
		content, err := s.chat.ChatJSON(ctx, []Message{
			{Role: "system", Content: selectSystemPrompt},
			{Role: "user", Content: productBlock(product) + "\n\n" + postsBlock(posts[start:end], start)},
		})
		if err != nil {
			return nil, fmt.Errorf("select batch at %d: %w", start, err)
		}
		var reply struct {
			PostIDs []int `json:"post_ids"`
		}
		if err := json.Unmarshal([]byte(content), &reply); err != nil {
			s.log.Warn("skipping selection batch with unparseable reply", "batch_start", start, "error", err)
			continue
		}
		for _, id := range reply.PostIDs {
			if id >= start && id < end {
				picked[id] = struct{}{}
			}
		}
	}

	idx := make([]int, 0, len(picked))
	for i := range picked {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]reddit.Post, len(idx))
	for i, id := range idx {
		out[i] = posts[id]
	}
	return out, nil
}

// Draft returns one reply per post, aligned with posts. Posts the model did
// not answer get "".
func (s *Selector) Draft(ctx context.Context, product models.Product, posts []reddit.Post) ([]string, error) {
	out := make([]string, len(posts))
	if len(posts) == 0 {
		return out, nil
	}
	content, err := s.chat.ChatJSON(ctx, []Message{
		{Role: "system", Content: draftSystemPrompt},
		{Role: "user", Content: productBlock(product) + "\n\n" + postsBlock(posts, 0)},
	})
	if err != nil {
		return nil, fmt.Errorf("draft comments: %w", err)
	}
	comments, err := parseComments(content)
	if err != nil {
		return nil, err
	}
	for key, text := range comments {
		i, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || i < 0 || i >= len(posts) || out[i] != "" {
			continue
		}
		out[i] = strings.TrimSpace(text)
	}
	return out, nil
}

// parseComments accepts {"comments":[{"0":"..."}]} and the flat
// {"comments":{"0":"..."}} some models return.
func parseComments(content string) (map[string]string, error) {
	var reply struct {
		Comments json.RawMessage `json:"comments"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := make(map[string]string)
	var list []map[string]string
	if err := json.Unmarshal(reply.Comments, &list); err == nil {
		for _, entry := range list {
			for k, v := range entry {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
		}
		return out, nil
	}
	if err := json.Unmarshal(reply.Comments, &out); err != nil {
		return nil, fmt.Errorf("%w: comments: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

func productBlock(p models.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", p.Name)
	if p.URL != "" {
		fmt.Fprintf(&b, "Website: %s\n", p.URL)
	}
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	if p.TargetAudience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", p.TargetAudience)
	}
	if p.ProblemSolved != "" {
		fmt.Fprintf(&b, "Problem solved: %s\n", p.ProblemSolved)
	}
	return b.String()
}

func postsBlock(posts []reddit.Post, offset int) string {
	var b strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&b, "Post %d (r/%s, score %d, %d comments)\nTitle: %s\n", offset+i, p.Subreddit, p.Score, p.NumComments, p.Title)
		if p.Selftext != "" {
			fmt.Fprintf(&b, "Body: %s\n", p.Selftext)
		}
		b.WriteString("\n")
	}
	return b.String()
}
