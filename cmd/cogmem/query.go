package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vthunder/cogmem/internal/cognitive"
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run one query through the pipeline and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		session, _ := cmd.Flags().GetString("session")
		req := cognitive.NewRequest(session, strings.Join(args, " "))
		req.TopK, _ = cmd.Flags().GetInt("top-k")
		if v, _ := cmd.Flags().GetBool("no-episodic"); v {
			req.UseEpisodic = false
		}
		if v, _ := cmd.Flags().GetBool("no-semantic"); v {
			req.UseSemantic = false
		}
		if v, _ := cmd.Flags().GetBool("no-validation"); v {
			req.UseValidation = false
		}

		resp, err := a.query(ctx, req)
		if err != nil {
			return err
		}
		a.persist(ctx)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		fmt.Printf("%s\n\n", resp.Answer)
		fmt.Printf("confidence: %.3f  status: %s\n", resp.Confidence, resp.Status)
		for _, w := range resp.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		for i, r := range resp.Results {
			fmt.Printf("%d. [%.3f] %s\n", i+1, r.Confidence, r.ID)
		}
		if resp.Explanation != "" {
			fmt.Printf("\n%s\n", resp.Explanation)
		}
		fmt.Printf("\ntotal: %.1fms\n", resp.Latency[cognitive.StageTotal])
		return nil
	},
}

func init() {
	queryCmd.Flags().String("session", "cli", "session id")
	queryCmd.Flags().Int("top-k", 0, "number of ranked results (0 = config default)")
	queryCmd.Flags().Bool("json", false, "print the full response as JSON")
	queryCmd.Flags().Bool("no-episodic", false, "skip episodic memory")
	queryCmd.Flags().Bool("no-semantic", false, "skip spreading activation")
	queryCmd.Flags().Bool("no-validation", false, "skip answer validation")
}
