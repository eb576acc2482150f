// Command wfsai runs the wildlife-from-space imagery pipeline: it turns raw
// pan/multispectral satellite scenes into ML-ready, AOI-masked image chips,
// driven by a YAML workflow configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	wfsai "github.com/matsco/wfsai"
	"github.com/matsco/wfsai/config"
	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/pipeline"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "wfsai",
		Short: "imagery pipeline for wildlife detection from space",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			_, err := log.NewDefault(debug)
			return err
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")
	cmd.AddCommand(newRunCommand(), newDisplayCommand(), newFetchCommand(),
		newRetrieveCommand(), newPruneCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "process the configured scenes end to end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer log.Sync()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err = config.SetupDatastores(cfg.OutputDir, cfg.Datastores); err != nil {
				return err
			}
			tb := wfsai.NewToolbox(cfg.TmpDir)
			res, err := pipeline.New(tb, cfg).Run(cmd.Context())
			if err != nil {
				return err
			}
			if res.Failed == len(res.Scenes) {
				return fmt.Errorf("all %d scenes failed", res.Failed)
			}
			fmt.Printf("run %s: %d/%d scenes ok\n", res.RunTag,
				len(res.Scenes)-res.Failed, len(res.Scenes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "workflow configuration yaml")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newDisplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "display <config.yaml>",
		Short: "print a normalized view of a workflow configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return config.Display(args[0], os.Stdout)
		},
	}
}

func newFetchCommand() *cobra.Command {
	var remote, destDir string
	cmd := &cobra.Command{
		Use:   "fetch <config-name>",
		Short: "fetch a configuration file from a remote git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.RetrieveGit(cmd.Context(), remote, args[0], destDir)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "git remote url")
	cmd.Flags().StringVar(&destDir, "dest", ".", "destination directory")
	cmd.MarkFlagRequired("remote")
	return cmd
}

func newRetrieveCommand() *cobra.Command {
	var manifest string
	cmd := &cobra.Command{
		Use:   "retrieve <data-type>",
		Short: "copy a manifest data section into its destination directories",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return config.RetrieveData(manifest, args[0])
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "data manifest yaml")
	cmd.MarkFlagRequired("manifest")
	return cmd
}

func newPruneCommand() *cobra.Command {
	var erode, cull float64
	var output string
	cmd := &cobra.Command{
		Use:   "prune <aoi.shp>",
		Short: "erode line artifacts out of an AOI shapefile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			defer log.Sync()
			tb := wfsai.NewToolbox(os.TempDir())
			out, err := tb.PruneLines(args[0], erode, cull, output)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().Float64Var(&erode, "erode", wfsai.DefaultErodeDistance, "erode distance")
	cmd.Flags().Float64Var(&cull, "cull", 0, "max area of parts to cull")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output shapefile path")
	return cmd
}
