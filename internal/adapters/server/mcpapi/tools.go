package mcpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/witcopier/internal/adapters/server/common"
	"github.com/hylla/witcopier/internal/domain"
)

// notificationRequestFromTool decodes the shared notification tool arguments.
func notificationRequestFromTool(req mcp.CallToolRequest) (common.NotificationRequest, error) {
	raw, err := req.RequireString("notification")
	if err != nil {
		return common.NotificationRequest{}, fmt.Errorf("%s: %w", err.Error(), common.ErrInvalidRequest)
	}
	var n domain.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return common.NotificationRequest{}, fmt.Errorf("decode notification: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	return common.NotificationRequest{
		ServiceHostName: strings.TrimSpace(req.GetString("collection", "")),
		RequestID:       strings.TrimSpace(req.GetString("request_id", "")),
		Category:        strings.TrimSpace(req.GetString("category", "")),
		Notification:    n,
	}, nil
}

// registerNotificationTools registers notification dispatch and dry-run tools.
func registerNotificationTools(srv *mcpserver.MCPServer, service common.NotificationService) {
	notificationArgs := []mcp.ToolOption{
		mcp.WithString("notification", mcp.Required(), mcp.Description("Notification JSON with id, category, type and payload")),
		mcp.WithString("collection", mcp.Description("Service host (collection) name used to resolve the connection address")),
		mcp.WithString("category", mcp.Description("Overrides the notification category"), mcp.Enum(string(domain.CategoryNotification), string(domain.CategoryDecision))),
		mcp.WithString("request_id", mcp.Description("Optional correlation id")),
	}

	srv.AddTool(
		mcp.NewTool(
			"witcopier.process_notification",
			append([]mcp.ToolOption{mcp.WithDescription("Deliver one notification to every registered subscriber and return the dispatch report.")}, notificationArgs...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			in, err := notificationRequestFromTool(req)
			if err != nil {
				return toolResultFromError(err), nil
			}
			report, err := service.ProcessNotification(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(report)
			if err != nil {
				return nil, fmt.Errorf("encode process_notification result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"witcopier.evaluate_notification",
			append([]mcp.ToolOption{mcp.WithDescription("Run the copy filter against one notification without touching any store.")}, notificationArgs...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			in, err := notificationRequestFromTool(req)
			if err != nil {
				return toolResultFromError(err), nil
			}
			eval, err := service.EvaluateNotification(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(eval)
			if err != nil {
				return nil, fmt.Errorf("encode evaluate_notification result: %w", err)
			}
			return result, nil
		},
	)
}

// registerWorkItemTools registers the work item lookup tool.
func registerWorkItemTools(srv *mcpserver.MCPServer, items common.WorkItemReader) {
	srv.AddTool(
		mcp.NewTool(
			"witcopier.get_work_item",
			mcp.WithDescription("Read one work item from the store resolved for a collection."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Work item id")),
			mcp.WithString("collection", mcp.Description("Service host (collection) name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireInt("id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := items.GetWorkItem(ctx, common.GetWorkItemRequest{
				ID:              id,
				ServiceHostName: strings.TrimSpace(req.GetString("collection", "")),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(item)
			if err != nil {
				return nil, fmt.Errorf("encode get_work_item result: %w", err)
			}
			return result, nil
		},
	)
}

// registerActivityTools registers the copy activity listing tool.
func registerActivityTools(srv *mcpserver.MCPServer, activity common.ActivityReader) {
	srv.AddTool(
		mcp.NewTool(
			"witcopier.list_copy_activity",
			mcp.WithDescription("List recent copy outcomes, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			items, err := activity.ListCopyActivity(ctx, req.GetInt("limit", 0))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"items": items,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_copy_activity result: %w", err)
			}
			return result, nil
		},
	)
}
