package amocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// CustomField is one custom field of a lead. Values is left undecoded.
type CustomField struct {
	FieldID   int64           `json:"field_id"`
	FieldName string          `json:"field_name"`
	FieldCode string          `json:"field_code"`
	FieldType string          `json:"field_type"`
	Values    json.RawMessage `json:"values"`
}

// Lead is a deal as returned by GET /api/v4/leads.
type Lead struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	Price             int64         `json:"price"`
	ResponsibleUserID int64         `json:"responsible_user_id"`
	PipelineID        int64         `json:"pipeline_id"`
	StatusID          int64         `json:"status_id"`
	CreatedAt         int64         `json:"created_at"`
	UpdatedAt         int64         `json:"updated_at"`
	ClosedAt          *int64        `json:"closed_at"`
	CustomFields      []CustomField `json:"custom_fields_values"`
}

// LeadsQuery selects leads by creation time and pipeline.
type LeadsQuery struct {
	From        int64
	To          int64
	PipelineIDs []int64
	// Page is 1-based; zero means the first page.
	Page int
}

// LeadsPage is one page of leads. Next is the URL of the following page, or
// empty on the last one.
type LeadsPage struct {
	Page  int
	Leads []Lead
	Next  string
}

type links struct {
	Next struct {
		Href string `json:"href"`
	} `json:"next"`
}

type leadsResponse struct {
	Page     int   `json:"_page"`
	Links    links `json:"_links"`
	Embedded struct {
		Leads []Lead `json:"leads"`
	} `json:"_embedded"`
}

func (q LeadsQuery) values() url.Values {
	v := url.Values{}
	v.Set("with", "tags")
	v.Set("filter[created_at][from]", strconv.FormatInt(q.From, 10))
	v.Set("filter[created_at][to]", strconv.FormatInt(q.To, 10))
	for i, id := range q.PipelineIDs {
		v.Set(fmt.Sprintf("filter[pipeline_id][%d]", i), strconv.FormatInt(id, 10))
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	return v
}

func (c *httpClient) Leads(ctx context.Context, q LeadsQuery) (*LeadsPage, error) {
	var resp leadsResponse
	if err := c.getJSON(ctx, "/api/v4/leads", q.values(), &resp); err != nil {
		return nil, err
	}
	return &LeadsPage{
		Page:  resp.Page,
		Leads: resp.Embedded.Leads,
		Next:  resp.Links.Next.Href,
	}, nil
}
