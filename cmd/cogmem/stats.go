package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored state and process statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		counts, err := a.store.Counts(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{
			"memory": a.handler.Stats(ctx),
			"store":  counts,
		}
		if a.vectors != nil {
			out["vector_documents"] = a.vectors.Count()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
