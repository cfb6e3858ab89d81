package amocrm

import (
	"context"
	"fmt"
)

// Status is one stage of a pipeline. Sort orders statuses inside the
// pipeline.
type Status struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Sort       int    `json:"sort"`
	PipelineID int64  `json:"pipeline_id"`
	Type       int    `json:"type"`
}

// Pipeline is a sales pipeline with its statuses.
type Pipeline struct {
	ID       int64
	Name     string
	Sort     int
	IsMain   bool
	Statuses []Status
}

type pipelineResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Sort     int    `json:"sort"`
	IsMain   bool   `json:"is_main"`
	Embedded struct {
		Statuses []Status `json:"statuses"`
	} `json:"_embedded"`
}

func (c *httpClient) Pipeline(ctx context.Context, id int64) (*Pipeline, error) {
	var resp pipelineResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v4/leads/pipelines/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		resp.ID = id
	}
	return &Pipeline{
		ID:       resp.ID,
		Name:     resp.Name,
		Sort:     resp.Sort,
		IsMain:   resp.IsMain,
		Statuses: resp.Embedded.Statuses,
	}, nil
}
