package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"season-planner/backend/pkg/models"
)

// StreamEvents streams live status events for a workflow over SSE.
// (GET /api/v1/workflows/:id/events)
func (s *Server) StreamEvents(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	wf, err := s.Store.Get(ctx, id)
	if err != nil {
		return mapError(err)
	}

	// Subscribe before sending the initial snapshot so events published in
	// between are queued rather than lost.
	events, cancel := s.Broadcaster.Subscribe(id)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	// An initial event lets a reconnecting observer re-sync without a second
	// status request.
	if err := writeSSE(resp, snapshotEvent(wf)); err != nil {
		return nil
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, open := <-events:
			if !open {
				return nil
			}
			if err := writeSSE(resp, event); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeSSE(resp *echo.Response, event models.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(resp, "data: %s\n\n", data)
	return err
}

// snapshotEvent summarizes the workflow's current position for a subscriber
// that just connected.
func snapshotEvent(wf *models.Workflow) models.StatusEvent {
	if pending := wf.PendingApproval(); pending != nil {
		action := "approve_manufacturing_order"
		if pending.Kind == models.ApprovalKindMarkdown {
			action = "approve_markdown"
		}
		return models.NewHumanInputRequired("", action, pending.Payload)
	}
	switch wf.Status {
	case models.WorkflowStatusCompleted:
		var duration time.Duration
		if wf.CompletedAt != nil {
			duration = wf.CompletedAt.Sub(wf.CreatedAt)
		}
		return models.NewWorkflowComplete(wf.ID, duration, nil)
	case models.WorkflowStatusError:
		return models.NewErrorEvent("", wf.Error)
	default:
		ev := models.NewAgentProgress("", string(wf.CurrentPhase), wf.ProgressPct)
		ev.WorkflowID = wf.ID
		return ev
	}
}
