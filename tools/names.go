package tools

import "strings"

// Name is the closed set of tool identities the model may call.
type Name string

const (
	FileRead   Name = "file_readFile"
	FileWrite  Name = "file_writeFile"
	FileEdit   Name = "file_editFile"
	FileDelete Name = "file_deleteFile"
	FileList   Name = "file_listFiles"

	TerminalBash Name = "terminal_bash"
	TerminalGrep Name = "terminal_grep"
	TerminalGlob Name = "terminal_glob"

	WebSearch Name = "web_search"
	WebFetch  Name = "web_fetch"
	WebAnswer Name = "web_answer"

	PlannerCreateTodo    Name = "planner_createTodo"
	PlannerUpdateTodo    Name = "planner_updateTodo"
	PlannerListTodos     Name = "planner_listTodos"
	PlannerDeleteTodo    Name = "planner_deleteTodo"
	PlannerReadArtifact  Name = "planner_readArtifact"
	PlannerWriteArtifact Name = "planner_writeArtifact"

	GitHubListRepos         Name = "github_listRepos"
	GitHubHydrateRepo       Name = "github_hydrateRepo"
	GitHubCreatePullRequest Name = "github_createPullRequest"

	BrowserNavigate   Name = "browser_navigate"
	BrowserClick      Name = "browser_click"
	BrowserType       Name = "browser_type"
	BrowserPress      Name = "browser_press"
	BrowserScroll     Name = "browser_scroll"
	BrowserScreenshot Name = "browser_screenshot"
)

// Namespace groups tools by the collaborator they talk to.
type Namespace string

const (
	NamespaceFile     Namespace = "file"
	NamespaceTerminal Namespace = "terminal"
	NamespaceWeb      Namespace = "web"
	NamespacePlanner  Namespace = "planner"
	NamespaceGitHub   Namespace = "github"
	NamespaceBrowser  Namespace = "browser"
)

// AllNames lists every tool in catalogue order.
var AllNames = []Name{
	FileRead, FileWrite, FileEdit, FileDelete, FileList,
	TerminalBash, TerminalGrep, TerminalGlob,
	WebSearch, WebFetch, WebAnswer,
	PlannerCreateTodo, PlannerUpdateTodo, PlannerListTodos, PlannerDeleteTodo,
	PlannerReadArtifact, PlannerWriteArtifact,
	GitHubListRepos, GitHubHydrateRepo, GitHubCreatePullRequest,
	BrowserNavigate, BrowserClick, BrowserType, BrowserPress, BrowserScroll, BrowserScreenshot,
}

var known = func() map[Name]bool {
	m := make(map[Name]bool, len(AllNames))
	for _, n := range AllNames {
		m[n] = true
	}
	return m
}()

// ParseName maps a wire name onto the closed set.
func ParseName(s string) (Name, bool) {
	n := Name(s)
	return n, known[n]
}

// Namespace returns the prefix group of the tool.
func (n Name) Namespace() Namespace {
	prefix, _, ok := strings.Cut(string(n), "_")
	if !ok {
		return ""
	}
	return Namespace(prefix)
}

// HasSideEffects reports whether a successful call changes the project tree
// and should trigger a refresh.
func (n Name) HasSideEffects() bool {
	switch n {
	case FileWrite, FileEdit, FileDelete, TerminalBash, GitHubHydrateRepo:
		return true
	}
	return false
}

func (n Name) String() string { return string(n) }
