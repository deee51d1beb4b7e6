package models

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one entry in the agent's working plan.
type Todo struct {
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	Status   TodoStatus `json:"status"`
	Priority string     `json:"priority,omitempty"`
}

// NormalizeTodos enforces the at-most-one-in-progress invariant: the first
// in_progress item wins, any later ones are demoted to pending. Unknown
// statuses become pending. Returns a new slice.
func NormalizeTodos(todos []Todo) []Todo {
	out := make([]Todo, len(todos))
	seenActive := false
	for i, t := range todos {
		switch t.Status {
		case TodoPending, TodoCompleted:
		case TodoInProgress:
			if seenActive {
				t.Status = TodoPending
			}
			seenActive = true
		default:
			t.Status = TodoPending
		}
		out[i] = t
	}
	return out
}

// CloneTodos returns a copy of the todo slice.
func CloneTodos(todos []Todo) []Todo {
	if todos == nil {
		return nil
	}
	return append([]Todo(nil), todos...)
}
