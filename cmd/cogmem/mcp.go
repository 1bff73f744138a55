package main

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/mcp/tools"
)

var mcpSession string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the memory tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		// persist on the way out, after the signal context is done
		defer a.persist(context.Background())

		s := server.NewMCPServer(
			"cogmem",
			"1.0.0",
			server.WithToolCapabilities(true),
		)

		tools.RegisterAll(s, &tools.Dependencies{
			Handler:        a.handler,
			DefaultSession: mcpSession,
			Embedder:       a.embedder,
			Store:          a.store,
			Activity:       a.activity,
			Index:          a.index,
			OnToolCall: func(name string) {
				logging.Debug("mcp", "tool call: %s", name)
			},
		})

		logging.Info("mcp", "serving on stdio")
		errCh := make(chan error, 1)
		go func() { errCh <- server.ServeStdio(s) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logging.Info("mcp", "shutting down")
			return nil
		}
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpSession, "session", "default", "session used when a tool call omits session_id")
}
