package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/workflow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// withStore runs fn with components that have no browser, closing them
// afterwards so queued writes reach the backend.
func withStore(cmd *cobra.Command, app *appState, fn func(ctx context.Context, c *components) error) error {
	ctx := cmd.Context()
	c, err := initializeComponents(ctx, app.cfg, app.logger, componentOptions{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		c.Shutdown(shutdownCtx)
	}()
	return fn(ctx, c)
}

func newWorkflowCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Lists, inspects, exports and enhances stored workflows",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Lists workflows, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				wfs, err := c.store.ListWorkflows(ctx, limit)
				if err != nil {
					return err
				}
				return printWorkflowTable(cmd.OutOrStdout(), wfs)
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "l", 0, "maximum number of workflows (0 for the default)")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Finds workflows whose name or description contains the query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				wfs, err := c.store.SearchWorkflows(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printWorkflowTable(cmd.OutOrStdout(), wfs)
			})
		},
	}
	search.Flags().IntVarP(&limit, "limit", "l", 0, "maximum number of results (0 for the default)")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Prints one workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				wf, err := c.store.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), wf)
				}
				printWorkflow(cmd.OutOrStdout(), wf)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON definition")

	var output string
	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Writes a workflow as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				wf, err := c.store.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return workflow.ExportYAML(cmd.OutOrStdout(), wf)
				}
				path, err := homedir.Expand(output)
				if err != nil {
					return err
				}
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				if err := workflow.ExportYAML(f, wf); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported workflow %s to %s\n", wf.ID, path)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Stores a workflow from a YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := homedir.Expand(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			wf, err := workflow.ImportYAML(f)
			if err != nil {
				return err
			}
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				if wf.ID == "" {
					return fmt.Errorf("workflow in %s has no id", path)
				}
				wf.UpdatedAt = time.Now().UTC()
				if err := c.store.SaveWorkflow(ctx, wf); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported workflow %s (%s)\n", wf.ID, wf.Name)
				return nil
			})
		},
	}

	enhance := &cobra.Command{
		Use:   "enhance <id>",
		Short: "Rewrites a workflow's descriptions and parameter names with the LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				wf, err := c.synth.EnhanceWorkflow(ctx, args[0])
				if err != nil {
					if errors.Is(err, schemas.ErrCollaborator) && wf != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "Enhancement failed, workflow left unchanged: %v\n", err)
					}
					return err
				}
				printWorkflow(cmd.OutOrStdout(), wf)
				return nil
			})
		},
	}

	cmd.AddCommand(list, search, show, export, importCmd, enhance)
	return cmd
}

func printWorkflowTable(out io.Writer, wfs []*schemas.WorkflowDefinition) error {
	if len(wfs) == 0 {
		fmt.Fprintln(out, "No workflows found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTEPS\tPARAMS\tENHANCED\tUPDATED")
	for _, wf := range wfs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n",
			wf.ID, wf.Name, len(wf.Steps), len(wf.Variables), wf.Enhanced, wf.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
