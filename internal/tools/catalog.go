package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nexbridge/snowgate/pkg/models"
)

// Builtin returns the standard tool catalog. Handlers are thin REST calls
// executed against the customer's stored credential for the tool's service.
func Builtin(client *http.Client) []Definition {
	return []Definition{
		{
			Name:        "snow_jira_get_issue",
			Description: "Fetch a Jira issue by key.",
			Category:    "jira",
			Service:     models.ServiceJira,
			InputSchema: objectSchema(map[string]any{
				"issue_key": map[string]any{"type": "string", "description": "Jira issue key, e.g. PROJ-123"},
			}, "issue_key"),
			Handler: func(ctx context.Context, req Request) (any, error) {
				key, err := stringArg(req.Arguments, "issue_key")
				if err != nil {
					return nil, err
				}
				return doJSON(ctx, client, http.MethodGet, req.Credential,
					"/rest/api/2/issue/"+url.PathEscape(key), nil)
			},
		},
		{
			Name:        "snow_jira_search",
			Description: "Search Jira issues with a JQL query.",
			Category:    "jira",
			Service:     models.ServiceJira,
			InputSchema: objectSchema(map[string]any{
				"jql":         map[string]any{"type": "string", "description": "JQL query"},
				"max_results": map[string]any{"type": "integer", "description": "Page size, default 25"},
			}, "jql"),
			Handler: func(ctx context.Context, req Request) (any, error) {
				jql, err := stringArg(req.Arguments, "jql")
				if err != nil {
					return nil, err
				}
				maxResults := intArg(req.Arguments, "max_results", 25)
				q := url.Values{"jql": {jql}, "maxResults": {fmt.Sprint(maxResults)}}
				return doJSON(ctx, client, http.MethodGet, req.Credential,
					"/rest/api/2/search?"+q.Encode(), nil)
			},
		},
		{
			Name:        "snow_jira_create_issue",
			Description: "Create a Jira issue.",
			Category:    "jira",
			Service:     models.ServiceJira,
			InputSchema: objectSchema(map[string]any{
				"project":    map[string]any{"type": "string", "description": "Project key"},
				"issue_type": map[string]any{"type": "string", "description": "Issue type name, e.g. Task"},
				"summary":    map[string]any{"type": "string"},
				"body":       map[string]any{"type": "string", "description": "Issue description"},
			}, "project", "issue_type", "summary"),
			Handler: func(ctx context.Context, req Request) (any, error) {
				project, err := stringArg(req.Arguments, "project")
				if err != nil {
					return nil, err
				}
				issueType, err := stringArg(req.Arguments, "issue_type")
				if err != nil {
					return nil, err
				}
				summary, err := stringArg(req.Arguments, "summary")
				if err != nil {
					return nil, err
				}
				body, _ := req.Arguments["body"].(string)
				payload := map[string]any{
					"fields": map[string]any{
						"project":     map[string]any{"key": project},
						"issuetype":   map[string]any{"name": issueType},
						"summary":     summary,
						"description": body,
					},
				}
				return doJSON(ctx, client, http.MethodPost, req.Credential,
					"/rest/api/2/issue", payload)
			},
		},
		{
			Name:        "snow_confluence_get_page",
			Description: "Fetch a Confluence page by id, including its body.",
			Category:    "confluence",
			Service:     models.ServiceConfluence,
			InputSchema: objectSchema(map[string]any{
				"page_id": map[string]any{"type": "string", "description": "Confluence page id"},
			}, "page_id"),
			Handler: func(ctx context.Context, req Request) (any, error) {
				pageID, err := stringArg(req.Arguments, "page_id")
				if err != nil {
					return nil, err
				}
				return doJSON(ctx, client, http.MethodGet, req.Credential,
					"/wiki/rest/api/content/"+url.PathEscape(pageID)+"?expand=body.storage", nil)
			},
		},
		{
			Name:        "snow_table_query",
			Description: "Query records from a ServiceNow table.",
			Category:    "servicenow",
			Service:     models.ServiceNow,
			InputSchema: objectSchema(map[string]any{
				"table": map[string]any{"type": "string", "description": "Table name, e.g. incident"},
				"query": map[string]any{"type": "string", "description": "Encoded sysparm_query"},
				"limit": map[string]any{"type": "integer", "description": "Max records, default 25"},
			}, "table"),
			Handler: func(ctx context.Context, req Request) (any, error) {
				table, err := stringArg(req.Arguments, "table")
				if err != nil {
					return nil, err
				}
				q := url.Values{"sysparm_limit": {fmt.Sprint(intArg(req.Arguments, "limit", 25))}}
				if query, _ := req.Arguments["query"].(string); query != "" {
					q.Set("sysparm_query", query)
				}
				return doJSON(ctx, client, http.MethodGet, req.Credential,
					"/api/now/table/"+url.PathEscape(table)+"?"+q.Encode(), nil)
			},
		},
		{
			Name:        "snow_table_insert",
			Description: "Insert a record into a ServiceNow table.",
			Category:    "servicenow",
			Service:     models.ServiceNow,
			InputSchema: objectSchema(map[string]any{
				"table":  map[string]any{"type": "string", "description": "Table name, e.g. incident"},
				"fields": map[string]any{"type": "object", "description": "Column values for the new record"},
			}, "table", "fields"),
			Handler: func(ctx context.Context, req Request) (any, error) {
				table, err := stringArg(req.Arguments, "table")
				if err != nil {
					return nil, err
				}
				fields, ok := req.Arguments["fields"].(map[string]any)
				if !ok {
					return nil, &ArgumentError{Field: "fields", Reason: "must be an object"}
				}
				return doJSON(ctx, client, http.MethodPost, req.Credential,
					"/api/now/table/"+url.PathEscape(table), fields)
			},
		},
		{
			Name:        "snow_azure_get_user",
			Description: "Fetch the authenticated Azure AD user profile.",
			Category:    "azure",
			Service:     models.ServiceAzure,
			InputSchema: objectSchema(map[string]any{}),
			Handler: func(ctx context.Context, req Request) (any, error) {
				return doJSON(ctx, client, http.MethodGet, req.Credential,
					"https://graph.microsoft.com/v1.0/me", nil)
			},
		},
	}
}

// ArgumentError reports a missing or malformed tool argument.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q %s", e.Field, e.Reason)
}

func stringArg(args map[string]any, field string) (string, error) {
	v, ok := args[field].(string)
	if !ok || v == "" {
		return "", &ArgumentError{Field: field, Reason: "is required"}
	}
	return v, nil
}

func intArg(args map[string]any, field string, defaultVal int) int {
	switch v := args[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// doJSON issues one REST call against the external service and decodes the
// JSON response. Paths starting with "/" are resolved against the
// credential's base URL; absolute URLs are used as-is.
func doJSON(ctx context.Context, client *http.Client, method string, cred *models.OAuthCredential, target string, payload any) (any, error) {
	if strings.HasPrefix(target, "/") {
		target = strings.TrimRight(cred.BaseURL, "/") + target
	}

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setAuth(req, cred)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", cred.Service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d", cred.Service, resp.StatusCode)
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", cred.Service, err)
	}
	return result, nil
}

func setAuth(req *http.Request, cred *models.OAuthCredential) {
	switch cred.CredentialType {
	case models.CredentialBasic:
		req.SetBasicAuth(cred.Identity, cred.AccessToken)
	default:
		tokenType := cred.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+cred.AccessToken)
	}
}
