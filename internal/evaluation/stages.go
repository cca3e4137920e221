package evaluation

import (
	"sort"

	"cosflow/internal/store"
)

type stage struct {
	label    string
	waiting  store.CirculationStatus
	revision store.CirculationStatus
}

var stages = map[store.TaskType]stage{
	store.TaskCheck:     {label: "Checker", waiting: store.CirculationWaitingChecker, revision: store.CirculationRevisionFromChecker},
	store.TaskApprove:   {label: "Approver", waiting: store.CirculationWaitingApproval, revision: store.CirculationRevisionFromApprover},
	store.TaskQACheck:   {label: "QA Checker", waiting: store.CirculationWaitingQAChecker, revision: store.CirculationRevisionFromQAChecker},
	store.TaskQAApprove: {label: "QA Approver", waiting: store.CirculationWaitingQAApproval, revision: store.CirculationRevisionFromQAApproval},
}

// WaitingStatus is the circulation status while t is the active task.
func WaitingStatus(t store.TaskType) store.CirculationStatus {
	if s, ok := stages[t]; ok {
		return s.waiting
	}
	return store.CirculationNew
}

// RevisionStatus is the circulation status after the holder of t asks for a revision.
func RevisionStatus(t store.TaskType) store.CirculationStatus {
	if s, ok := stages[t]; ok {
		return s.revision
	}
	return store.CirculationRevisionFromChecker
}

func stageLabel(t store.TaskType) string {
	if s, ok := stages[t]; ok {
		return s.label
	}
	return string(t)
}

func pipelineIndex(t store.TaskType) int {
	for i, candidate := range store.ReviewPipeline {
		if candidate == t {
			return i
		}
	}
	return len(store.ReviewPipeline)
}

// reviewTasks returns the non-ISSUED tasks in pipeline order.
func reviewTasks(tasks []store.Task) []store.Task {
	out := make([]store.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Type != store.TaskIssued {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pipelineIndex(out[i].Type) < pipelineIndex(out[j].Type)
	})
	return out
}

func issuedTask(tasks []store.Task) (store.Task, bool) {
	for _, t := range tasks {
		if t.Type == store.TaskIssued {
			return t, true
		}
	}
	return store.Task{}, false
}

// activeTask is the first review task that is not done.
func activeTask(tasks []store.Task) (store.Task, bool) {
	for _, t := range reviewTasks(tasks) {
		if t.Status != store.TaskDone {
			return t, true
		}
	}
	return store.Task{}, false
}

// progressStatus derives the circulation status: the earliest stage with an
// open revision wins, then the active stage, then Completed.
func progressStatus(tasks []store.Task, open map[int64]int) store.CirculationStatus {
	review := reviewTasks(tasks)
	for _, t := range review {
		if open[t.ID] > 0 {
			return RevisionStatus(t.Type)
		}
	}
	if active, ok := activeTask(tasks); ok {
		return WaitingStatus(active.Type)
	}
	return store.CirculationCompleted
}
