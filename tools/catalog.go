package tools

// Schema describes a tool to the model.
type Schema struct {
	Name        Name                   `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func stringList(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}

var catalog = []Schema{
	{
		Name:        FileRead,
		Description: "Read the content of a file from the file system.",
		Parameters: object(map[string]interface{}{
			"path":      prop("string", "Absolute or relative path to the file (e.g., src/App.tsx)."),
			"startLine": prop("number", "Optional. Starting line number (1-indexed) for partial read."),
			"endLine":   prop("number", "Optional. Ending line number (inclusive) for partial read."),
		}, "path"),
	},
	{
		Name:        FileWrite,
		Description: "Create a new file or overwrite an existing file with content.",
		Parameters: object(map[string]interface{}{
			"path":    prop("string", "Path where the file should be created or overwritten."),
			"content": prop("string", "The full content to write to the file."),
		}, "path", "content"),
	},
	{
		Name:        FileEdit,
		Description: "Edit an existing file by replacing specific content. Use for surgical edits.",
		Parameters: object(map[string]interface{}{
			"path":       prop("string", "Path to the file to edit."),
			"oldContent": prop("string", "The exact content to find and replace. Must match exactly."),
			"newContent": prop("string", "The new content to replace the old content with."),
		}, "path", "oldContent", "newContent"),
	},
	{
		Name:        FileDelete,
		Description: "Delete a file from the file system.",
		Parameters: object(map[string]interface{}{
			"path": prop("string", "Path to the file to delete."),
		}, "path"),
	},
	{
		Name:        FileList,
		Description: "List files and directories in a path. Returns file metadata.",
		Parameters: object(map[string]interface{}{
			"path":      prop("string", "Directory path to list."),
			"recursive": prop("boolean", "If true, list files recursively. Default: false."),
			"pattern":   prop("string", `Optional glob pattern to filter results (e.g., "*.tsx").`),
		}, "path"),
	},
	{
		Name:        TerminalBash,
		Description: "Execute a bash/shell command in the project. Use for running scripts, builds, git, etc.",
		Parameters: object(map[string]interface{}{
			"command": prop("string", "The shell command to execute."),
			"cwd":     prop("string", "Optional. Working directory, relative to the project root."),
			"timeout": prop("number", "Optional. Timeout in milliseconds. Default: 30000."),
		}, "command"),
	},
	{
		Name:        TerminalGrep,
		Description: "Search for patterns in files using regex. Fast content search.",
		Parameters: object(map[string]interface{}{
			"pattern":       prop("string", "Regex pattern to search for."),
			"path":          prop("string", "File or directory path to search in."),
			"includes":      stringList(`Optional. Glob patterns to include (e.g., ["*.ts", "*.go"]).`),
			"caseSensitive": prop("boolean", "Optional. Case-sensitive search. Default: true."),
		}, "pattern", "path"),
	},
	{
		Name:        TerminalGlob,
		Description: "Find files matching a glob pattern. Use for file discovery.",
		Parameters: object(map[string]interface{}{
			"pattern": prop("string", `Glob pattern (e.g., "**/*.go", "src/**/*.test.ts").`),
			"cwd":     prop("string", "Optional. Base directory for the search."),
		}, "pattern"),
	},
	{
		Name:        WebSearch,
		Description: "Search the web. Returns relevant results with snippets.",
		Parameters: object(map[string]interface{}{
			"query":      prop("string", "The search query."),
			"numResults": prop("number", "Optional. Number of results to return. Default: 5, Max: 10."),
		}, "query"),
	},
	{
		Name:        WebFetch,
		Description: "Fetch content from a URL. Returns readable text content.",
		Parameters: object(map[string]interface{}{
			"url":     prop("string", "The URL to fetch."),
			"method":  prop("string", "HTTP method. Default: GET."),
			"headers": prop("object", "Optional. HTTP headers as key-value pairs."),
		}, "url"),
	},
	{
		Name:        WebAnswer,
		Description: "Ask a question and get a direct answer grounded in web sources, with citations.",
		Parameters: object(map[string]interface{}{
			"query": prop("string", "The question to answer."),
		}, "query"),
	},
	{
		Name:        PlannerCreateTodo,
		Description: "Create a new to-do item for tracking task progress. Use this to break down work.",
		Parameters: object(map[string]interface{}{
			"content": prop("string", "Description of the to-do item."),
			"status":  prop("string", `Initial status: "pending", "in_progress", or "completed". Default: "pending".`),
		}, "content"),
	},
	{
		Name:        PlannerUpdateTodo,
		Description: "Update the status of an existing to-do item.",
		Parameters: object(map[string]interface{}{
			"id":      prop("string", "The ID of the to-do to update."),
			"status":  prop("string", `New status: "pending", "in_progress", or "completed".`),
			"content": prop("string", "Optional. Updated content/description."),
		}, "id", "status"),
	},
	{
		Name:        PlannerListTodos,
		Description: "List all current to-do items with their statuses.",
		Parameters: object(map[string]interface{}{
			"filter": prop("string", `Optional. Filter by status: "pending", "in_progress", "completed", or "all". Default: "all".`),
		}),
	},
	{
		Name:        PlannerDeleteTodo,
		Description: "Delete a to-do item by ID.",
		Parameters: object(map[string]interface{}{
			"id": prop("string", "The ID of the to-do to delete."),
		}, "id"),
	},
	{
		Name:        PlannerReadArtifact,
		Description: "Read a planning document (e.g. task.md, implementation_plan.md) from the artifacts directory.",
		Parameters: object(map[string]interface{}{
			"name": prop("string", "File name inside the artifacts directory."),
		}, "name"),
	},
	{
		Name:        PlannerWriteArtifact,
		Description: "Write a planning document to the artifacts directory. Markdown checklists (- [ ] / - [x] / - [/]) are tracked as plan progress.",
		Parameters: object(map[string]interface{}{
			"name":    prop("string", "File name inside the artifacts directory."),
			"content": prop("string", "The full document content."),
		}, "name", "content"),
	},
	{
		Name:        GitHubListRepos,
		Description: "List repositories of the authenticated GitHub user, most recently updated first.",
		Parameters:  object(map[string]interface{}{}),
	},
	{
		Name:        GitHubHydrateRepo,
		Description: "Clone a GitHub repository into the sandbox and make it the active project root.",
		Parameters: object(map[string]interface{}{
			"fullName": prop("string", `Repository in "owner/name" form.`),
		}, "fullName"),
	},
	{
		Name:        GitHubCreatePullRequest,
		Description: "Open a pull request on the active repository.",
		Parameters: object(map[string]interface{}{
			"title": prop("string", "Pull request title."),
			"body":  prop("string", "Pull request description."),
			"head":  prop("string", "Branch containing the changes."),
			"base":  prop("string", "Optional. Target branch. Default: the repository default branch."),
		}, "title", "head"),
	},
	{
		Name:        BrowserNavigate,
		Description: "Open a URL in the sandbox browser and wait for it to load.",
		Parameters: object(map[string]interface{}{
			"url": prop("string", "The URL to open."),
		}, "url"),
	},
	{
		Name:        BrowserClick,
		Description: "Click at a viewport coordinate in the sandbox browser.",
		Parameters: object(map[string]interface{}{
			"x":      prop("number", "Horizontal position in CSS pixels."),
			"y":      prop("number", "Vertical position in CSS pixels."),
			"button": prop("string", `Optional. "left", "right" or "middle". Default: "left".`),
			"double": prop("boolean", "Optional. Double click. Default: false."),
		}, "x", "y"),
	},
	{
		Name:        BrowserType,
		Description: "Type text into the focused element of the sandbox browser.",
		Parameters: object(map[string]interface{}{
			"text": prop("string", "Text to type."),
		}, "text"),
	},
	{
		Name:        BrowserPress,
		Description: `Press a keyboard key (e.g. "Enter", "Tab", "Escape", "ArrowDown").`,
		Parameters: object(map[string]interface{}{
			"key": prop("string", "Key name."),
		}, "key"),
	},
	{
		Name:        BrowserScroll,
		Description: "Scroll the page in the sandbox browser.",
		Parameters: object(map[string]interface{}{
			"dx": prop("number", "Optional. Horizontal scroll delta in pixels."),
			"dy": prop("number", "Vertical scroll delta in pixels. Positive scrolls down."),
		}, "dy"),
	},
	{
		Name:        BrowserScreenshot,
		Description: "Capture a screenshot of the current page into the artifacts directory.",
		Parameters: object(map[string]interface{}{
			"name":     prop("string", "Optional. File name for the PNG. Default: screenshot-<timestamp>.png."),
			"fullPage": prop("boolean", "Optional. Capture the full scrollable page."),
		}),
	},
}

// Catalog returns the tool schemas in stable order.
func Catalog() []Schema {
	out := make([]Schema, len(catalog))
	copy(out, catalog)
	return out
}

// SchemaFor returns the schema for a tool.
func SchemaFor(n Name) (Schema, bool) {
	for _, s := range catalog {
		if s.Name == n {
			return s, true
		}
	}
	return Schema{}, false
}
