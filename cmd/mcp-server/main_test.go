package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/client"
	"github.com/patrickwarner/civicreport/internal/models"
)

type fakeAPI struct {
	reports  map[string]*models.Report
	lastList client.ListOptions
	err      error
}

func (f *fakeAPI) GetReport(ctx context.Context, id string) (*models.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.reports[id]
	if !ok {
		return nil, &client.ServerError{Status: http.StatusNotFound, Code: "not_found", Message: "Report not found"}
	}
	return r, nil
}

func (f *fakeAPI) Nearby(ctx context.Context, lat, lng, radius float64) ([]models.NearbyReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.NearbyReport
	for _, r := range f.reports {
		out = append(out, models.NearbyReport{Report: *r, Distance: 10})
	}
	return out, nil
}

func (f *fakeAPI) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := models.NewUserStats(userID)
	s.Total = len(f.reports)
	return s, nil
}

func (f *fakeAPI) ListUserReports(ctx context.Context, userID string, opts client.ListOptions) (*models.ReportPage, error) {
	f.lastList = opts
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReportPage{Total: 0, CurrentPage: 1, TotalPages: 0, Limit: opts.Limit}, nil
}

func newTools(api *fakeAPI) *reportTools {
	return &reportTools{api: api, logger: zap.NewNop()}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestGetReportTool(t *testing.T) {
	r := models.NewTestReport("r1", "u1", 12.9, 77.6, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	tools := newTools(&fakeAPI{reports: map[string]*models.Report{"r1": r}})

	res, _, err := tools.GetReport(context.Background(), nil, GetReportInput{ReportID: "r1"})
	require.NoError(t, err)

	var got models.Report
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, "u1", got.UserID)
}

func TestGetReportToolErrors(t *testing.T) {
	tools := newTools(&fakeAPI{reports: map[string]*models.Report{}})

	_, _, err := tools.GetReport(context.Background(), nil, GetReportInput{})
	require.EqualError(t, err, "report_id is required")

	_, _, err = tools.GetReport(context.Background(), nil, GetReportInput{ReportID: "missing"})
	require.EqualError(t, err, "Report not found (status 404)")
}

func TestFindNearbyToolEmpty(t *testing.T) {
	tools := newTools(&fakeAPI{reports: map[string]*models.Report{}})

	res, _, err := tools.FindNearby(context.Background(), nil, NearbyInput{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	var out NearbyOutput
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, 0, out.Count)
	assert.NotNil(t, out.Reports)
}

func TestNetworkFailureMessage(t *testing.T) {
	tools := newTools(&fakeAPI{err: &client.NetworkError{Op: "GET /health", Err: context.DeadlineExceeded}})

	_, _, err := tools.UserStats(context.Background(), nil, UserInput{UserID: "u1"})
	require.EqualError(t, err, "The server took too long to respond")
}

func TestListUserReportsToolPassesFilters(t *testing.T) {
	api := &fakeAPI{}
	tools := newTools(api)

	res, _, err := tools.ListUserReports(context.Background(), nil, ListInput{UserID: "u1", Status: "pending", Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, client.ListOptions{Status: "pending", Page: 2, Limit: 5}, api.lastList)
	assert.Contains(t, resultText(t, res), `"reports": []`)
}

func TestNewServerRegistersTools(t *testing.T) {
	assert.NotPanics(t, func() { newServer(newTools(&fakeAPI{})) })
}
