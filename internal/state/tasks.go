package state

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessions bounds how many session task lists are retained.
const DefaultMaxSessions = 64

// TaskCache holds task lists keyed by session id and exposes only the list of
// the current session. Other sessions' lists are never touched by mutations,
// and tasks never move between lists. The set of retained sessions is an LRU;
// the current session is touched on every access so it is never the victim.
type TaskCache struct {
	mu       sync.RWMutex
	sessions *lru.Cache[string, []Task]
	current  string
}

// NewTaskCache creates a cache retaining at most maxSessions task lists.
func NewTaskCache(maxSessions int) *TaskCache {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	sessions, err := lru.New[string, []Task](maxSessions)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &TaskCache{sessions: sessions}
}

// SetCurrentSession switches the scope pointer. It neither clears nor loads
// data; an empty id means no session is selected.
func (c *TaskCache) SetCurrentSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = id
	if id != "" {
		c.sessions.Get(id)
	}
}

// CurrentSession returns the current session id, or "".
func (c *TaskCache) CurrentSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// currentListLocked returns the live list of the current session.
func (c *TaskCache) currentListLocked() []Task {
	if c.current == "" {
		return nil
	}
	list, _ := c.sessions.Get(c.current)
	return list
}

// UpsertTask replaces the task with the same TaskID in place, or appends it.
// It returns false when no session is selected.
func (c *TaskCache) UpsertTask(task Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return false
	}

	list := c.currentListLocked()
	task = task.Clone()
	for i := range list {
		if list[i].TaskID == task.TaskID {
			list[i] = task
			return true
		}
	}
	c.sessions.Add(c.current, append(list, task))
	return true
}

// UpdateTask shallow-merges patch into the task with the given id.
// It returns false if the task is not in the current session.
func (c *TaskCache) UpdateTask(id string, patch TaskPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.currentListLocked()
	for i := range list {
		if list[i].TaskID == id {
			list[i] = patch.Apply(list[i])
			return true
		}
	}
	return false
}

// ReplaceTasks sets the current session's list, e.g. after an out-of-band load.
func (c *TaskCache) ReplaceTasks(tasks []Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return false
	}
	list := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		list = append(list, t.Clone())
	}
	c.sessions.Add(c.current, list)
	return true
}

// ClearTasks empties the current session's list only.
func (c *TaskCache) ClearTasks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return
	}
	c.sessions.Add(c.current, nil)
}

// Tasks returns a copy of the current session's tasks in list order.
func (c *TaskCache) Tasks() []Task {
	return c.filter(func(Task) bool { return true })
}

// Task returns the task with the given id from the current session.
func (c *TaskCache) Task(id string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.currentListLocked() {
		if t.TaskID == id {
			return t.Clone(), true
		}
	}
	return Task{}, false
}

// Len returns the number of tasks in the current session.
func (c *TaskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.currentListLocked())
}

// TasksByStatus returns the current session's tasks with the given status.
func (c *TaskCache) TasksByStatus(status TaskStatus) []Task {
	return c.filter(func(t Task) bool { return t.Status == status })
}

// TasksByType returns the current session's tasks of the given type.
func (c *TaskCache) TasksByType(taskType string) []Task {
	return c.filter(func(t Task) bool { return t.TaskType == taskType })
}

// TasksByChapter returns the current session's tasks for a chapter.
func (c *TaskCache) TasksByChapter(chapter int) []Task {
	return c.filter(func(t Task) bool { return t.ChapterIndex != nil && *t.ChapterIndex == chapter })
}

// PendingApproval returns the tasks awaiting a user decision.
func (c *TaskCache) PendingApproval() []Task {
	return c.TasksByStatus(TaskStatusPendingApproval)
}

// Sessions returns the ids of all retained session lists, oldest first.
func (c *TaskCache) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions.Keys()
}

// filter is computed on every call; results are never memoized across
// session switches.
func (c *TaskCache) filter(keep func(Task) bool) []Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.currentListLocked()
	out := make([]Task, 0, len(list))
	for _, t := range list {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}
