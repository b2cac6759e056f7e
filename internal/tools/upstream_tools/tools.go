package upstream_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/server"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/batch"
	"github.com/teemow/mcpbridge/internal/tools/common"
	"github.com/teemow/mcpbridge/internal/upstream"
)

const (
	messageNotConfigured = "Upstream API is not configured"
	messageCallFailed    = "Failed to call upstream API"
)

// Register adds the upstream API tools to r.
func Register(r *tools.Registry, sc *server.ServerContext) error {
	getTool := mcp.NewTool("upstream_get",
		mcp.WithDescription("Fetch a resource from the upstream API using the credentials attached to the current session. Accepts one path or a list of paths."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Resource path relative to the API base URL, or a JSON array of paths (at most 20)"),
		),
		mcp.WithObject("query",
			mcp.Description("Query parameters as an object of string values"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	err := r.Register(tools.Tool{
		Definition: getTool,
		Handler:    newGetHandler(sc),
		Operation:  instrumentation.OperationGet,
	})
	if err != nil {
		return fmt.Errorf("failed to register upstream_get: %w", err)
	}
	return nil
}

func newGetHandler(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		paths, err := batch.ParseStringOrArray(args["path"], "path")
		if err != nil {
			return common.ErrorResult(err.Error()), nil
		}
		query, err := parseQuery(args["query"])
		if err != nil {
			return common.ErrorResult(err.Error()), nil
		}

		client := sc.Upstream()
		if !client.Configured() {
			return common.ErrorResult(messageNotConfigured), nil
		}

		creds, err := common.Credentials(ctx)
		if err != nil {
			return common.ErrorResult(common.MessageSessionExpired), nil
		}

		fetch := func(ctx context.Context, path string) (json.RawMessage, error) {
			return get(ctx, sc, client, path, query, creds)
		}

		if len(paths) == 1 {
			data, err := fetch(ctx, paths[0])
			if err != nil {
				return common.ErrorResult(failureMessage(err)), nil
			}
			return mcp.NewToolResultText(string(data)), nil
		}

		// Items carry the same client-facing messages as a single call.
		results := batch.Run(ctx, paths, batch.DefaultConcurrency, func(ctx context.Context, path string) (json.RawMessage, error) {
			data, err := fetch(ctx, path)
			if err != nil {
				return nil, errors.New(failureMessage(err))
			}
			return data, nil
		})
		return common.JSONResult(batch.Summarize(results))
	}
}

// get performs one upstream call inside a client span.
func get(ctx context.Context, sc *server.ServerContext, client *upstream.Client, path string, query url.Values, creds *upstream.Credentials) (json.RawMessage, error) {
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithSession(common.SessionHash(ctx)).
		WithResource("path", path).
		Build()
	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.OperationGet, attrs...)
	defer span.End()

	start := time.Now()
	data, err := client.Get(ctx, path, query, creds)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		sc.Logger().Warn("upstream request failed",
			logging.Operation(instrumentation.OperationGet),
			logging.SessionHash(sessionID(ctx)),
			logging.Err(err))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	sc.Metrics().RecordUpstreamRequest(ctx, instrumentation.OperationGet, status, time.Since(start))

	return data, err
}

func sessionID(ctx context.Context) string {
	h, err := common.SessionHandle(ctx)
	if err != nil {
		return ""
	}
	return h.ID()
}

// failureMessage maps an upstream error to the text returned to the client.
// Upstream details stay in the logs.
func failureMessage(err error) string {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return common.MessageSessionExpired
	}
	return messageCallFailed
}

func parseQuery(param any) (url.Values, error) {
	query := url.Values{}
	if param == nil {
		return query, nil
	}
	m, ok := param.(map[string]any)
	if !ok {
		return nil, errors.New("query must be an object")
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			query.Set(k, val)
		case float64, bool:
			query.Set(k, fmt.Sprint(val))
		default:
			return nil, fmt.Errorf("query parameter %q must be a string", k)
		}
	}
	return query, nil
}
