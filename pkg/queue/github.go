package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/types"
)

// GitHubScanner enumerates ready issues across the watched repositories.
type GitHubScanner struct {
	client *github.Client
	repos  []string
	labels Labels
}

// NewGitHubScanner builds a scanner over the given repos. An empty token
// falls back to unauthenticated access (useful against test servers).
func NewGitHubScanner(token string, repos []string, labels Labels) *GitHubScanner {
	var client *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		client = github.NewClient(nil)
	}
	return &GitHubScanner{client: client, repos: repos, labels: labels}
}

// WithBaseURL points the scanner at a GitHub Enterprise or test endpoint.
func (g *GitHubScanner) WithBaseURL(baseURL string) (*GitHubScanner, error) {
	c, err := g.client.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}
	g.client = c
	return g, nil
}

// Scan enumerates open issues carrying the ready label and lacking the
// in-progress and in-review labels. Transient source errors degrade to an
// empty result with a warning; they never surface to the caller.
func (g *GitHubScanner) Scan(ctx context.Context) ([]types.QueueItem, error) {
	logger := log.WithComponent("queue")
	var items []types.QueueItem

	for _, repo := range g.repos {
		owner, name, err := SplitRepo(repo)
		if err != nil {
			logger.Warn().Str("repo", repo).Err(err).Msg("skipping malformed repo")
			continue
		}

		opts := &github.IssueListByRepoOptions{
			State:       "open",
			Labels:      []string{g.labels.Ready},
			ListOptions: github.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, opts)
			if err != nil {
				logger.Warn().Str("repo", repo).Err(err).Msg("queue scan failed, treating as empty")
				break
			}
			for _, issue := range issues {
				if issue.IsPullRequest() {
					continue
				}
				labels := labelNames(issue.Labels)
				if contains(labels, g.labels.InProgress) || contains(labels, g.labels.InReview) {
					continue
				}
				items = append(items, types.QueueItem{
					Repo:      repo,
					Number:    issue.GetNumber(),
					Title:     issue.GetTitle(),
					Priority:  PriorityFromLabels(labels),
					Labels:    labels,
					URL:       issue.GetHTMLURL(),
					CreatedAt: issue.GetCreatedAt().Time,
				})
			}
			if resp == nil || resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}

	SortItems(items)
	return items, nil
}

// MarkInProgress swaps the ready label for the in-progress label.
func (g *GitHubScanner) MarkInProgress(ctx context.Context, repo string, number int) error {
	return g.transition(ctx, repo, number, g.labels.Ready, g.labels.InProgress, "")
}

// MarkInReview swaps in-progress for in-review and links the PR.
func (g *GitHubScanner) MarkInReview(ctx context.Context, repo string, number int, pr int) error {
	comment := fmt.Sprintf("Minion opened pull request #%d for this issue.", pr)
	return g.transition(ctx, repo, number, g.labels.InProgress, g.labels.InReview, comment)
}

// MarkFailed swaps in-progress for needs-attention and records the reason.
func (g *GitHubScanner) MarkFailed(ctx context.Context, repo string, number int, reason string) error {
	comment := fmt.Sprintf("Minion could not complete this issue: %s", reason)
	return g.transition(ctx, repo, number, g.labels.InProgress, g.labels.Attention, comment)
}

// transition removes one label, adds another, and optionally comments.
// Best-effort: one retry, then the error goes back to the caller to log.
func (g *GitHubScanner) transition(ctx context.Context, repo string, number int, remove, add, comment string) error {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return err
	}

	op := func() error {
		if remove != "" {
			if _, err := g.client.Issues.RemoveLabelForIssue(ctx, owner, name, number, remove); err != nil {
				// A missing label is not a failure worth retrying
				if resp, ok := err.(*github.ErrorResponse); !ok || resp.Response == nil || resp.Response.StatusCode != 404 {
					return err
				}
			}
		}
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, owner, name, number, []string{add}); err != nil {
			return err
		}
		if comment != "" {
			c := &github.IssueComment{Body: github.String(comment)}
			if _, _, err := g.client.Issues.CreateComment(ctx, owner, name, number, c); err != nil {
				return err
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 1), ctx)
	return backoff.Retry(op, policy)
}

// RateLimit reports the remaining core API budget.
func (g *GitHubScanner) RateLimit(ctx context.Context) (types.RateLimit, error) {
	limits, _, err := g.client.RateLimit.Get(ctx)
	if err != nil {
		return types.RateLimit{}, fmt.Errorf("failed to read rate limit: %w", err)
	}
	core := limits.GetCore()
	return types.RateLimit{
		Remaining: core.Remaining,
		Limit:     core.Limit,
		ResetAt:   core.Reset.Time,
	}, nil
}

func labelNames(labels []*github.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
