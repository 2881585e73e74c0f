package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexbridge/snowgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ Request) (any, error) { return nil, nil }

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"empty name", []Definition{{Category: "jira", Handler: noopHandler}}},
		{"missing handler", []Definition{{Name: "t", Category: "jira"}}},
		{"missing category", []Definition{{Name: "t", Handler: noopHandler}}},
		{"unknown service", []Definition{{Name: "t", Category: "x", Service: "gitlab", Handler: noopHandler}}},
		{"duplicate name", []Definition{
			{Name: "t", Category: "a", Handler: noopHandler},
			{Name: "t", Category: "b", Handler: noopHandler},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.defs...)
			assert.Error(t, err)
		})
	}
}

func TestLookup_NotFound(t *testing.T) {
	reg, err := New(
		Definition{Name: "snow_b", Category: "x", Handler: noopHandler},
		Definition{Name: "snow_a", Category: "x", Handler: noopHandler},
	)
	require.NoError(t, err)

	_, err = reg.Lookup("snow_missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "snow_missing", nf.Name)
	assert.Equal(t, []string{"snow_a", "snow_b"}, nf.Known)
	assert.Contains(t, err.Error(), "snow_a, snow_b")
}

func TestList_SortedByName(t *testing.T) {
	reg, err := New(
		Definition{Name: "snow_c", Category: "x", Handler: noopHandler},
		Definition{Name: "snow_a", Category: "x", Handler: noopHandler},
		Definition{Name: "snow_b", Category: "x", Handler: noopHandler},
	)
	require.NoError(t, err)

	defs := reg.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "snow_a", defs[0].Name)
	assert.Equal(t, "snow_b", defs[1].Name)
	assert.Equal(t, "snow_c", defs[2].Name)
	assert.Equal(t, 3, reg.Len())
}

func TestBuiltin_RegistersCleanly(t *testing.T) {
	reg, err := New(Builtin(http.DefaultClient)...)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reg.Len(), 7)

	def, err := reg.Lookup("snow_jira_get_issue")
	require.NoError(t, err)
	assert.Equal(t, "jira", def.Category)
	assert.Equal(t, models.ServiceJira, def.Service)
	assert.NotNil(t, def.InputSchema)
}

func TestBuiltin_CategoryIsExplicit(t *testing.T) {
	// Categories come from the definition, never parsed out of the name:
	// both ServiceNow table tools carry "servicenow" despite the shared
	// "snow_" product prefix.
	reg, err := New(Builtin(http.DefaultClient)...)
	require.NoError(t, err)

	for _, name := range []string{"snow_table_query", "snow_table_insert"} {
		def, err := reg.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, "servicenow", def.Category, name)
	}
}

func TestJiraGetIssue_Handler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROJ-42", r.URL.Path)
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"key": "PROJ-42"})
	}))
	t.Cleanup(srv.Close)

	reg, err := New(Builtin(srv.Client())...)
	require.NoError(t, err)
	def, err := reg.Lookup("snow_jira_get_issue")
	require.NoError(t, err)

	result, err := def.Handler(context.Background(), Request{
		Credential: &models.OAuthCredential{
			Service:        models.ServiceJira,
			CredentialType: models.CredentialOAuth2,
			AccessToken:    "access-token",
			BaseURL:        srv.URL,
		},
		Arguments: map[string]any{"issue_key": "PROJ-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "PROJ-42"}, result)
}

func TestJiraGetIssue_MissingArgument(t *testing.T) {
	reg, err := New(Builtin(http.DefaultClient)...)
	require.NoError(t, err)
	def, err := reg.Lookup("snow_jira_get_issue")
	require.NoError(t, err)

	_, err = def.Handler(context.Background(), Request{Arguments: map[string]any{}})
	var ae *ArgumentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "issue_key", ae.Field)
}

func TestTableQuery_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "svc-account", user)
		assert.Equal(t, "api-token", pass)
		assert.Equal(t, "/api/now/table/incident", r.URL.Path)
		assert.Equal(t, "priority=1", r.URL.Query().Get("sysparm_query"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	}))
	t.Cleanup(srv.Close)

	reg, err := New(Builtin(srv.Client())...)
	require.NoError(t, err)
	def, err := reg.Lookup("snow_table_query")
	require.NoError(t, err)

	_, err = def.Handler(context.Background(), Request{
		Credential: &models.OAuthCredential{
			Service:        models.ServiceNow,
			CredentialType: models.CredentialBasic,
			AccessToken:    "api-token",
			Identity:       "svc-account",
			BaseURL:        srv.URL + "/",
		},
		Arguments: map[string]any{"table": "incident", "query": "priority=1"},
	})
	require.NoError(t, err)
}

func TestDoJSON_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	reg, err := New(Builtin(srv.Client())...)
	require.NoError(t, err)
	def, err := reg.Lookup("snow_jira_get_issue")
	require.NoError(t, err)

	_, err = def.Handler(context.Background(), Request{
		Credential: &models.OAuthCredential{
			Service:     models.ServiceJira,
			AccessToken: "t",
			BaseURL:     srv.URL,
		},
		Arguments: map[string]any{"issue_key": "PROJ-1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
