package api

import (
	"time"

	"sitewatch/internal/monitor"
)

type runDTO struct {
	RunID      string     `json:"run_id"`
	TaskID     int64      `json:"task_id"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type detailDTO struct {
	Seq     int       `json:"seq"`
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

type detailsResponse struct {
	Run     runDTO      `json:"run"`
	Details []detailDTO `json:"details"`
}

func toRunDTO(run monitor.RunLog) runDTO {
	return runDTO{
		RunID:      run.ID.String(),
		TaskID:     run.TaskID,
		Status:     string(run.Status),
		Summary:    run.Summary,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

func toDetailDTOs(details []monitor.RunDetail) []detailDTO {
	out := make([]detailDTO, 0, len(details))
	for _, d := range details {
		out = append(out, detailDTO{Seq: d.Seq, TS: d.TS, Level: d.Level, Message: d.Message})
	}
	return out
}
