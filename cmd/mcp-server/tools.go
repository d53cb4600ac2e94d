package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/client"
	"github.com/patrickwarner/civicreport/internal/models"
)

// toolTimeout bounds each API round trip made on behalf of an agent.
const toolTimeout = 10 * time.Second

// reportAPI is the part of the client SDK the tools use.
type reportAPI interface {
	GetReport(ctx context.Context, id string) (*models.Report, error)
	Nearby(ctx context.Context, lat, lng, radius float64) ([]models.NearbyReport, error)
	UserStats(ctx context.Context, userID string) (*models.UserStats, error)
	ListUserReports(ctx context.Context, userID string, opts client.ListOptions) (*models.ReportPage, error)
}

var _ reportAPI = (*client.Client)(nil)

type GetReportInput struct {
	ReportID string `json:"report_id"`
}

type NearbyInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius,omitempty"`
}

type UserInput struct {
	UserID string `json:"user_id"`
}

type ListInput struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status,omitempty"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`
	Page     int    `json:"page,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NearbyOutput summarizes a nearby search for agents.
type NearbyOutput struct {
	Count   int                   `json:"count"`
	Reports []models.NearbyReport `json:"reports"`
}

type reportTools struct {
	api    reportAPI
	logger *zap.Logger
}

func (t *reportTools) GetReport(ctx context.Context, req *mcp.CallToolRequest, in GetReportInput) (*mcp.CallToolResult, any, error) {
	if in.ReportID == "" {
		return nil, nil, errors.New("report_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	r, err := t.api.GetReport(ctx, in.ReportID)
	if err != nil {
		return nil, nil, t.fail("get_report", err)
	}
	return jsonResult(r)
}

func (t *reportTools) FindNearby(ctx context.Context, req *mcp.CallToolRequest, in NearbyInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	reports, err := t.api.Nearby(ctx, in.Latitude, in.Longitude, in.Radius)
	if err != nil {
		return nil, nil, t.fail("find_nearby_reports", err)
	}
	if reports == nil {
		reports = []models.NearbyReport{}
	}
	return jsonResult(NearbyOutput{Count: len(reports), Reports: reports})
}

func (t *reportTools) UserStats(ctx context.Context, req *mcp.CallToolRequest, in UserInput) (*mcp.CallToolResult, any, error) {
	if in.UserID == "" {
		return nil, nil, errors.New("user_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	stats, err := t.api.UserStats(ctx, in.UserID)
	if err != nil {
		return nil, nil, t.fail("get_user_stats", err)
	}
	return jsonResult(stats)
}

func (t *reportTools) ListUserReports(ctx context.Context, req *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, any, error) {
	if in.UserID == "" {
		return nil, nil, errors.New("user_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	page, err := t.api.ListUserReports(ctx, in.UserID, client.ListOptions{
		Status:   in.Status,
		Category: in.Category,
		Priority: in.Priority,
		Page:     in.Page,
		Limit:    in.Limit,
	})
	if err != nil {
		return nil, nil, t.fail("list_user_reports", err)
	}
	if page.Reports == nil {
		page.Reports = []models.Report{}
	}
	return jsonResult(page)
}

// fail turns an SDK error into the message shown to the agent.
func (t *reportTools) fail(tool string, err error) error {
	out := client.Normalize(err)
	t.logger.Warn("tool call failed", zap.String("tool", tool), zap.String("kind", out.Kind), zap.Error(err))
	if out.Status != 0 {
		return fmt.Errorf("%s (status %d)", out.Message, out.Status)
	}
	return errors.New(out.Message)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}, nil, nil
}

func newServer(tools *reportTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "civicreport",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_report",
		Description: "Fetch a single civic issue report by id",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"report_id": map[string]interface{}{
					"type":        "string",
					"description": "Report id (UUID)",
				},
			},
			"required": []string{"report_id"},
		},
	}, tools.GetReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_nearby_reports",
		Description: "Find reports within a radius of a point, nearest first",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"latitude": map[string]interface{}{
					"type":    "number",
					"minimum": -90,
					"maximum": 90,
				},
				"longitude": map[string]interface{}{
					"type":    "number",
					"minimum": -180,
					"maximum": 180,
				},
				"radius": map[string]interface{}{
					"type":        "number",
					"description": "Search radius in meters (optional, defaults to 5000, max 50000)",
				},
			},
			"required": []string{"latitude", "longitude"},
		},
	}, tools.FindNearby)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_user_stats",
		Description: "Report counts by status, category and priority plus average resolution time for a user",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{"type": "string"},
			},
			"required": []string{"user_id"},
		},
	}, tools.UserStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_user_reports",
		Description: "List a user's reports newest first with optional filters",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{"type": "string"},
				"status": map[string]interface{}{
					"type": "string",
					"enum": []string{"all", "resolved", "pending"},
				},
				"category": map[string]interface{}{
					"type": "string",
					"enum": models.Categories(),
				},
				"priority": map[string]interface{}{
					"type": "string",
					"enum": models.Priorities(),
				},
				"page": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
				},
				"limit": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
					"maximum": 100,
				},
			},
			"required": []string{"user_id"},
		},
	}, tools.ListUserReports)

	return server
}
