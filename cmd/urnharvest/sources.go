package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/sources"
)

func newSourcesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Validate the source registry and list its sources",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = os.Getenv("URNH_SOURCES_FILE")
			}
			if file == "" {
				file = "sources.yaml"
			}
			reg, err := sources.Load(file)
			if err != nil {
				return err
			}
			renderSources(cmd.OutOrStdout(), reg.All())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "registry file (default $URNH_SOURCES_FILE or sources.yaml)")
	return cmd
}

func renderSources(w io.Writer, srcs []*domain.Source) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Title", "Format", "Incremental", "Paginates", "Delay", "Start URL"})
	for _, src := range srcs {
		t.AppendRow(table.Row{
			src.ID,
			src.Title,
			src.Format,
			src.Format.Incremental(),
			src.ResumeURL != "",
			src.Delay,
			src.StartURL,
		})
	}
	t.Render()
}
