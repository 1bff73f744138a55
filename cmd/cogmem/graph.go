package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vthunder/cogmem/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the concept graph",
}

var graphLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Merge a YAML concept graph into the stored graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		def, err := graph.LoadDefinition(args[0])
		if err != nil {
			return err
		}
		net := a.handler.Network()
		if err := net.Apply(def); err != nil {
			return err
		}
		if err := a.handler.Persist(ctx, a.store); err != nil {
			return err
		}
		a.activity.LogGraph(fmt.Sprintf("loaded %s", args[0]))
		fmt.Printf("graph: %d concepts, %d relations\n", net.NumNodes(), net.NumEdges())
		return nil
	},
}

var graphExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the stored concept graph as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		data, err := a.handler.Network().MarshalDefinition()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	graphCmd.AddCommand(graphLoadCmd)
	graphCmd.AddCommand(graphExportCmd)
}
