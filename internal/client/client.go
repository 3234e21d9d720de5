// Package client is a thin Go client for the management API, used by
// the CLI commands.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/HsinTsao/sec-toolkit/internal/api"
)

type Client struct {
	BaseURL string
	APIKey  string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
	}
}

func (c *Client) CreateToken(name string, ttlHours int64) (*api.TokenResponse, error) {
	var result api.TokenResponse
	err := c.do("POST", "/v1/tokens", api.CreateTokenRequest{Name: name, TTLHours: ttlHours}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListTokens() (*api.ListTokensResponse, error) {
	var result api.ListTokensResponse
	if err := c.do("GET", "/v1/tokens", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RenewToken(code string, ttlHours int64) (*api.TokenResponse, error) {
	var result api.TokenResponse
	err := c.do("PATCH", "/v1/tokens/"+code+"/renew", api.RenewTokenRequest{TTLHours: ttlHours}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeleteToken(code string) error {
	return c.do("DELETE", "/v1/tokens/"+code, nil, nil)
}

func (c *Client) GetInteractions(code string, limit int) (*api.ListInteractionsResponse, error) {
	path := "/v1/tokens/" + code + "/interactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var result api.ListInteractionsResponse
	if err := c.do("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ClearInteractions(code string) (*api.ClearInteractionsResponse, error) {
	var result api.ClearInteractionsResponse
	if err := c.do("DELETE", "/v1/tokens/"+code+"/interactions", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Poll returns interactions recorded strictly after since, formatted
// RFC3339Nano. An empty since returns from the beginning.
func (c *Client) Poll(code, since string) (*api.PollInteractionsResponse, error) {
	path := "/v1/tokens/" + code + "/poll"
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	var result api.PollInteractionsResponse
	if err := c.do("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreateRule(code string, req api.CreateRuleRequest) (*api.RuleResponse, error) {
	var result api.RuleResponse
	if err := c.do("POST", "/v1/tokens/"+code+"/rules", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListRules(code string) (*api.ListRulesResponse, error) {
	var result api.ListRulesResponse
	if err := c.do("GET", "/v1/tokens/"+code+"/rules", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) UpdateRule(code, name string, req api.UpdateRuleRequest) (*api.RuleResponse, error) {
	var result api.RuleResponse
	if err := c.do("PATCH", "/v1/tokens/"+code+"/rules/"+name, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeleteRule(code, name string) error {
	return c.do("DELETE", "/v1/tokens/"+code+"/rules/"+name, nil, nil)
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return fmt.Errorf("%s", errResp.Error)
}
