package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/nlsql/internal/metrics"
)

const (
	askToolName        = "ask"
	askToolDescription = `
		Answer a question about the connected database.
		The question is turned into a single read-only SELECT statement, validated and executed.
		Only the first row of the result is returned, with values joined by ", ".
	`
)

type AskInput struct {
	Query string `json:"query" jsonschema:"the question to answer, in plain language"`
}

type AskOutput struct {
	Result string `json:"result"`
}

func RegisterAskTool(log *slog.Logger, server *mcp.Server, runner Runner) error {
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}
	res, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         askToolName,
		Description:  askToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
		log.Debug("mcp/tool: handling ask", "query", in.Query)

		out, err := handleAsk(ctx, log, runner, in)
		if err != nil {
			metrics.MCPToolCallsTotal.WithLabelValues(askToolName, "error").Inc()
			return nil, AskOutput{}, err
		}
		metrics.MCPToolCallsTotal.WithLabelValues(askToolName, "success").Inc()
		return nil, out, nil
	})
	return nil
}

func handleAsk(ctx context.Context, log *slog.Logger, runner Runner, in AskInput) (AskOutput, error) {
	if in.Query == "" {
		return AskOutput{}, errors.New("query is required")
	}
	st, err := runner.Run(ctx, in.Query)
	if err != nil {
		log.Error("mcp/tool: ask failed", "error", err)
		return AskOutput{}, errors.New(MessageUnexpectedFault)
	}
	if st.Error != "" {
		return AskOutput{}, errors.New(MessageValidationFailed)
	}
	return AskOutput{Result: st.Result}, nil
}
