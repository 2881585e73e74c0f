// Package handler contains the HTTP handlers for the SnowGate API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mw "github.com/nexbridge/snowgate/internal/api/middleware"
	"github.com/nexbridge/snowgate/internal/api/response"
	"github.com/nexbridge/snowgate/internal/gateway"
	"github.com/nexbridge/snowgate/internal/tools"
	"github.com/nexbridge/snowgate/internal/vault"
)

// ToolExecutor is the gateway surface the MCP handlers depend on.
type ToolExecutor interface {
	ListTools() []gateway.ToolInfo
	Execute(ctx context.Context, req gateway.ExecuteRequest) (*gateway.ExecuteResult, error)
}

type callError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type callFailure struct {
	Success bool      `json:"success"`
	Error   callError `json:"error"`
}

type callSuccess struct {
	Success bool                   `json:"success"`
	Tool    string                 `json:"tool"`
	Result  any                    `json:"result"`
	Usage   map[string]any         `json:"usage"`
}

// NewListToolsHandler returns the handler for POST /mcp/tools/list.
func NewListToolsHandler(exec ToolExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := mw.GetCustomer(r); !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		toolList := exec.ListTools()
		response.Raw(w, http.StatusOK, map[string]any{
			"tools": toolList,
			"count": len(toolList),
		})
	}
}

// NewCallToolHandler returns the handler for POST /mcp/tools/call.
func NewCallToolHandler(exec ToolExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		var req struct {
			Tool        string         `json:"tool"`
			Arguments   map[string]any `json:"arguments"`
			Credentials map[string]any `json:"credentials"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeCallFailure(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
			return
		}
		if req.Tool == "" {
			writeCallFailure(w, http.StatusBadRequest, "INVALID_REQUEST", "tool is required")
			return
		}

		result, err := exec.Execute(r.Context(), gateway.ExecuteRequest{
			Customer:      customer,
			InstanceID:    mw.GetInstanceID(r),
			ClientVersion: mw.GetClientVersion(r),
			Origin:        r.RemoteAddr,
			Tool:          req.Tool,
			Arguments:     req.Arguments,
			Credentials:   req.Credentials,
		})
		if err != nil {
			status, code, message := classifyCallError(err)
			writeCallFailure(w, status, code, message)
			return
		}

		response.Raw(w, http.StatusOK, callSuccess{
			Success: true,
			Tool:    result.Tool,
			Result:  result.Result,
			Usage: map[string]any{
				"durationMs": result.DurationMs,
				"timestamp":  result.Timestamp,
			},
		})
	}
}

func writeCallFailure(w http.ResponseWriter, status int, code, message string) {
	response.Raw(w, status, callFailure{
		Success: false,
		Error:   callError{Code: code, Message: message},
	})
}

// classifyCallError maps an execution failure to its HTTP status and a safe,
// fixed message. Internal detail never reaches the caller; the gateway has
// already logged it.
func classifyCallError(err error) (int, string, string) {
	var notFound *tools.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, "TOOL_NOT_FOUND", notFound.Error()
	}

	var badArg *tools.ArgumentError
	if errors.As(err, &badArg) {
		return http.StatusBadRequest, "INVALID_ARGUMENTS", badArg.Error()
	}

	switch {
	case errors.Is(err, vault.ErrNeedsReauth),
		errors.Is(err, vault.ErrNotConfigured),
		errors.Is(err, vault.ErrDisabled):
		return http.StatusPreconditionRequired, "CREDENTIAL_REAUTH_REQUIRED",
			"No usable credential for this tool's service; re-authorization is required"
	case errors.Is(err, gateway.ErrExecutionTimeout):
		return http.StatusGatewayTimeout, "EXECUTION_TIMEOUT",
			"Tool execution exceeded the time limit"
	case errors.Is(err, vault.ErrRefreshFailed),
		errors.Is(err, vault.ErrProviderUnavailable):
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
			"The external service is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "UNEXPECTED_ERROR",
			"Tool execution failed"
	}
}
