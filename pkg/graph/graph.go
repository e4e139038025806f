// Package graph implements the DependencyGraph component (spec §4.3):
// cycle detection over the induced subgraph of unfinished tasks via a
// three-color-marked DFS, and cascade discovery for dependents of a
// failed task. It operates on flat id-keyed task lists only — no
// parent/child object graph that could leak (spec §9 design note).
package graph

import "github.com/kwstx/cool-LOC/pkg/models"

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// DetectCycles returns the set of task ids that participate in at least
// one dependency cycle, considering only tasks that have not yet reached
// a terminal state (spec §4.3).
func DetectCycles(tasks []*models.Task) []string {
	byID := make(map[string]*models.Task, len(tasks))
	unfinished := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status != models.TaskStatusCompleted && t.Status != models.TaskStatusFailed {
			unfinished[t.ID] = true
		}
	}

	color := make(map[string]int, len(unfinished))
	inCycle := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = colorGray
		stack = append(stack, id)

		t := byID[id]
		for _, dep := range t.Dependencies {
			if !unfinished[dep] {
				continue // dependency already resolved or failed; not part of the induced subgraph
			}
			switch color[dep] {
			case colorGray:
				markCycle(stack, dep, inCycle)
			case colorWhite:
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = colorBlack
	}

	for id := range unfinished {
		if color[id] == colorWhite {
			visit(id)
		}
	}

	out := make([]string, 0, len(inCycle))
	for id := range inCycle {
		out = append(out, id)
	}
	return out
}

func markCycle(stack []string, target string, inCycle map[string]bool) {
	idx := -1
	for i, id := range stack {
		if id == target {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	for _, id := range stack[idx:] {
		inCycle[id] = true
	}
}

// Cascade returns the ids of every pending or waiting_for_subtasks task
// that transitively depends
// (directly or through other now-failing tasks) on a task id in failedIDs
// (spec §4.3/§4.9). It does not mutate any task.
func Cascade(tasks []*models.Task, failedIDs []string) []string {
	failed := make(map[string]bool, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = true
	}

	pendingByID := make(map[string]*models.Task)
	for _, t := range tasks {
		if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusWaitingForSubtasks {
			pendingByID[t.ID] = t
		}
	}

	var cascaded []string
	changed := true
	for changed {
		changed = false
		for id, t := range pendingByID {
			if failed[id] {
				continue
			}
			for _, dep := range t.Dependencies {
				if failed[dep] {
					failed[id] = true
					cascaded = append(cascaded, id)
					changed = true
					break
				}
			}
		}
	}
	return cascaded
}
