package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/labnex/internal/httpclient"
	"github.com/ternarybob/labnex/internal/models"
)

// apiClient calls the labnex REST API
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewDefaultHTTPClient(timeout),
	}
}

type startRunBody struct {
	ProjectRef  string                 `json:"project_ref,omitempty"`
	TestCaseIDs []string               `json:"test_case_ids,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

type runList struct {
	Runs  []*models.Run `json:"runs"`
	Count int           `json:"count"`
}

type cancelResponse struct {
	ID        string           `json:"id"`
	Cancelled bool             `json:"cancelled"`
	Status    models.RunStatus `json:"status"`
}

func (c *apiClient) StartRun(ctx context.Context, body startRunBody) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/runs", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *apiClient) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *apiClient) ListRuns(ctx context.Context, projectRef, status string, limit int) (*runList, error) {
	query := url.Values{}
	if projectRef != "" {
		query.Set("project_ref", projectRef)
	}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/runs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out runList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) CancelRun(ctx context.Context, id string) (*cancelResponse, error) {
	var out cancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	err := httpclient.DoJSON(ctx, c.http, method, c.baseURL+path, body, out)
	var apiErr *httpclient.APIError
	if err != nil && !errors.As(err, &apiErr) {
		return fmt.Errorf("labnex request %s %s failed: %w", method, path, err)
	}
	return err
}
