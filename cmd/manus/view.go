package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Gokhulnath/Manus/internal/annotation"
	"github.com/Gokhulnath/Manus/internal/viewer"
	"github.com/spf13/cobra"
)

func newViewCmd() *cobra.Command {
	var (
		configPath string
		full       bool
	)

	cmd := &cobra.Command{
		Use:   "view [annotation]",
		Short: "Show an annotated passage in its document",
		Long:  "Parses an analyse annotation, given as an argument or on stdin, loads the document it names from the data room and prints it with the annotated span highlighted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 1 {
				raw = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read annotation: %w", err)
				}
				raw = string(data)
			}
			return runView(cmd, configPath, raw, full)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.Flags().BoolVar(&full, "full", false, "print the whole document instead of an excerpt")
	return cmd
}

func runView(cmd *cobra.Command, configPath, raw string, full bool) error {
	cfg, log, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("annotation is empty")
	}
	c, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	v, err := viewer.New(viewer.Opts{Fetcher: c, Log: log})
	if err != nil {
		return err
	}

	a := annotation.NewParser(log).Parse(raw)
	doc, err := v.Show(cmd.Context(), a)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mark := marker(out)
	start, end := doc.Split.Start, doc.Split.End
	fmt.Fprintf(out, "%s (%s) characters %d-%d, line %d\n\n", doc.Name, doc.Type, start, end, doc.Split.Line()+1)
	if full {
		fmt.Fprintln(out, doc.Split.Prefix+mark(doc.Split.Highlighted)+doc.Split.Suffix)
		return nil
	}
	fmt.Fprintln(out, excerpt(doc.Split, excerptContext*2, mark))
	return nil
}
