package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
)

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RunID         string `json:"run_id"`
	UptimeSeconds int64  `json:"uptime_s"`
	Examples      int    `json:"examples"`
}

type StatsResponse struct {
	RunID       string            `json:"run_id"`
	Examples    int               `json:"examples"`
	TotalTokens int               `json:"total_tokens"`
	MinLen      int               `json:"min_len"`
	MaxLen      int               `json:"max_len"`
	MeanLen     float64           `json:"mean_len"`
	P50Len      int               `json:"p50_len"`
	P90Len      int               `json:"p90_len"`
	P99Len      int               `json:"p99_len"`
	Histogram   []HistogramBucket `json:"histogram"`
}

type HistogramBucket struct {
	Lo    int `json:"lo"`
	Hi    int `json:"hi"`
	Count int `json:"count"`
}

type PlanResponse struct {
	RunID      string     `json:"run_id"`
	Epoch      int        `json:"epoch"`
	WorldSize  int        `json:"world_size"`
	TotalPacks int        `json:"total_packs"`
	Estimated  int        `json:"estimated_packs"`
	Efficiency float64    `json:"efficiency"`
	Ranks      []RankPlan `json:"ranks"`
}

type RankPlan struct {
	Rank   int `json:"rank"`
	Steps  int `json:"steps"`
	Tokens int `json:"tokens"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}
