package planner

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Node is one checklist item and its nested items.
type Node struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Completed bool    `json:"completed"`
	Started   bool    `json:"started,omitempty"`
	Indent    int     `json:"indent"`
	Current   bool    `json:"isCurrent,omitempty"`
	Children  []*Node `json:"children"`
}

// Checklist summarizes a markdown task list.
type Checklist struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Progress    int     `json:"progress"`
	ActiveIndex int     `json:"activeTaskIndex"`
	CurrentTask string  `json:"currentTask,omitempty"`
	Tree        []*Node `json:"tree"`
}

var checklistItem = regexp.MustCompile(`(?i)^(\s*)- \[([ x/])\] (.+)$`)

// ParseChecklist reads "- [ ]", "- [/]" and "- [x]" items. Two spaces of
// indentation make one nesting level. The first item not marked done is the
// current task; ActiveIndex is -1 when every item is done.
func ParseChecklist(markdown string) Checklist {
	type frame struct {
		node  *Node
		level int
	}
	c := Checklist{ActiveIndex: -1, Tree: []*Node{}}
	var stack []frame
	index := 0

	for _, line := range strings.Split(markdown, "\n") {
		m := checklistItem.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		mark := strings.ToLower(m[2])
		level := len(m[1]) / 2
		node := &Node{
			ID:        "todo-" + strconv.Itoa(index),
			Content:   m[3],
			Completed: mark == "x",
			Started:   mark == "/",
			Indent:    level,
			Children:  []*Node{},
		}

		if node.Completed {
			c.Completed++
		} else if c.ActiveIndex < 0 {
			node.Current = true
			c.ActiveIndex = index
			c.CurrentTask = node.Content
		}
		c.Total++

		if level == 0 {
			c.Tree = append(c.Tree, node)
			stack = append(stack[:0], frame{node, 0})
		} else {
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1].node
				parent.Children = append(parent.Children, node)
			} else {
				c.Tree = append(c.Tree, node)
			}
			stack = append(stack, frame{node, level})
		}
		index++
	}

	if c.Total > 0 {
		c.Progress = int(math.Round(float64(c.Completed) / float64(c.Total) * 100))
	}
	return c
}
