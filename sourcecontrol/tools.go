package sourcecontrol

import (
	"context"

	"github.com/martinemde/mercury/tools"
)

// RepoList is the payload of github_listRepos.
type RepoList struct {
	Repos []Repo `json:"repos"`
	Total int    `json:"total"`
}

// Register binds the github_ tools. Hydration runs against ws.
func (g *GitHub) Register(r *tools.Registry, ws Workspace) {
	r.Register(tools.GitHubListRepos, func(ctx context.Context, _ tools.Args) tools.Result {
		repos, err := g.ListRepos(ctx)
		if err != nil {
			return tools.Fail(err.Error())
		}
		return tools.OK(RepoList{Repos: repos, Total: len(repos)})
	})

	r.Register(tools.GitHubHydrateRepo, func(ctx context.Context, args tools.Args) tools.Result {
		full, err := args.Require("fullName")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return tools.FromError(g.Hydrate(ctx, ws, full))
	})

	r.Register(tools.GitHubCreatePullRequest, func(ctx context.Context, args tools.Args) tools.Result {
		title, _ := args.String("title")
		body, _ := args.String("body")
		head, _ := args.String("head")
		base, _ := args.String("base")
		return tools.FromError(g.CreatePullRequest(ctx, PullRequest{Title: title, Body: body, Head: head, Base: base}))
	})
}
