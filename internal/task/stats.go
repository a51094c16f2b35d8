package task

// TaskStats 汇总争议任务的状态分布与裁决结果分布。
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// YesOutcomes 与 NoOutcomes 只统计已产出证明的任务。
	YesOutcomes     int   `json:"yes_outcomes"`
	NoOutcomes      int   `json:"no_outcomes"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *TaskStats) add(task *Task) {
	s.Total++
	switch task.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if task.Result != nil {
		switch task.Result.Outcome {
		case "YES":
			s.YesOutcomes++
		case "NO":
			s.NoOutcomes++
		}
	}
	if task.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = task.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (task.UpdatedAt != 0 && task.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = task.UpdatedAt
	}
}
