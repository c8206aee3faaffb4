package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/martinemde/mercury/tools"
)

// TodoChange is the data of a successful create or update call.
type TodoChange struct {
	Todo     Todo   `json:"todo"`
	Previous Status `json:"previousStatus,omitempty"`
	Message  string `json:"message"`
}

// Deletion is the data of a successful delete call.
type Deletion struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// LocalTools names the tools served from in-process state.
var LocalTools = []tools.Name{
	tools.PlannerCreateTodo,
	tools.PlannerUpdateTodo,
	tools.PlannerListTodos,
	tools.PlannerDeleteTodo,
}

// Register binds the to-do tools to the store.
func (s *Store) Register(r *tools.Registry) {
	r.Register(tools.PlannerCreateTodo, s.createTodo)
	r.Register(tools.PlannerUpdateTodo, s.updateTodo)
	r.Register(tools.PlannerListTodos, s.listTodos)
	r.Register(tools.PlannerDeleteTodo, s.deleteTodo)
}

func (s *Store) createTodo(_ context.Context, args tools.Args) tools.Result {
	content, err := args.Require("content")
	if err != nil {
		return tools.Fail(err.Error())
	}
	status, err := ParseStatus(args.StringOr("status", ""), StatusPending)
	if err != nil {
		return tools.Fail(err.Error())
	}
	t := s.Create(content, status)
	return tools.OK(TodoChange{Todo: t, Message: "Created to-do: " + content})
}

func (s *Store) updateTodo(_ context.Context, args tools.Args) tools.Result {
	id, err := args.Require("id")
	if err != nil {
		return tools.Fail(err.Error())
	}
	status, err := ParseStatus(args.StringOr("status", ""), "")
	if err != nil {
		return tools.Fail(err.Error())
	}
	before, after, err := s.Update(id, status, args.StringOr("content", ""))
	if errors.Is(err, ErrTodoNotFound) {
		return tools.Failf("To-do with ID %s not found.", id)
	}
	if err != nil {
		return tools.Fail(err.Error())
	}
	return tools.OK(TodoChange{
		Todo:     after,
		Previous: before.Status,
		Message:  fmt.Sprintf("Updated to-do: %s → %s", after.Content, after.Status),
	})
}

func (s *Store) listTodos(_ context.Context, args tools.Args) tools.Result {
	filter := args.StringOr("filter", "all")
	if filter != "all" {
		if _, err := ParseStatus(filter, ""); err != nil {
			return tools.Fail(err.Error())
		}
	}
	return tools.OK(s.List(filter))
}

func (s *Store) deleteTodo(_ context.Context, args tools.Args) tools.Result {
	id, err := args.Require("id")
	if err != nil {
		return tools.Fail(err.Error())
	}
	if !s.Delete(id) {
		return tools.Failf("To-do %s not found", id)
	}
	return tools.OK(Deletion{ID: id, Message: "Deleted to-do " + id})
}
