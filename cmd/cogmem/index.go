package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index <file>...",
	Short: "Add files (or --text) to the vector search backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		if text == "" && len(args) == 0 {
			return fmt.Errorf("nothing to index: pass files or --text")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if text != "" {
			id, _ := cmd.Flags().GetString("id")
			id, err := a.index(ctx, id, text, map[string]string{"source": "cli"})
			if err != nil {
				return err
			}
			a.activity.LogIndex(id, "cli")
			fmt.Println(id)
		}

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			content := strings.TrimSpace(string(data))
			if content == "" {
				fmt.Fprintf(os.Stderr, "skipping empty %s\n", path)
				continue
			}
			id, err := a.index(ctx, filepath.Base(path), content, map[string]string{"source": path})
			if err != nil {
				return fmt.Errorf("index %s: %w", path, err)
			}
			a.activity.LogIndex(id, path)
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().String("text", "", "index this text instead of files")
	indexCmd.Flags().String("id", "", "document id for --text (generated when empty)")
}
