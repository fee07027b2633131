package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"blurscan/internal/config"
	"blurscan/internal/logging"
	"blurscan/internal/report"
	"blurscan/internal/scan"
	"blurscan/internal/storage"
)

// Version is set at build time.
var Version = "dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store) *cobra.Command {
	return newRootCmd(NewRoot(cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blurscan",
		Short: "Scan drone pictures to detect blurry ones",
		Long: `blurscan flags drone photographs that are likely blurry, from a corner
Laplacian sharpness test and, optionally, from breaks in the GPS trajectory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(root.out)

	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newTrajectoryCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// underscoreFlags accepts --photos_directory for --photos-directory.
func underscoreFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func addInputFlags(cmd *cobra.Command, opts *scan.Options, defaultPattern string) {
	cmd.Flags().StringVarP(&opts.PhotosDir, "photos-directory", "d", "", "absolute path of the directory holding the drone pictures")
	cmd.Flags().StringVarP(&opts.InputFile, "input-file", "i", "", "absolute path of a CSV file of [id,path] rows")
	cmd.Flags().StringVarP(&opts.Pattern, "regex", "r", defaultPattern, "regular expression filtering directory entries")
	cmd.MarkFlagsOneRequired("photos-directory", "input-file")
	cmd.Flags().SetNormalizeFunc(underscoreFlags)
}

func newScanCmd(root *Root) *cobra.Command {
	var (
		opts     scan.Options
		settings = root.defaults()
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a batch of drone pictures and write the blurry ones to a CSV file",
		Long: `Scan every picture of a directory (filtered by --regex, sorted by name) or of an
input CSV file of [id,path] rows, and write one [id,BLURRY] row per blurry picture.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetLevel("debug")
			}
			rep, err := root.runScan(cmd.Context(), opts, settings, opts.Trajectory)
			if err != nil {
				return err
			}
			return report.Summary(root.out, rep.Summary(), rep.SharpnessBlurry > 0)
		},
	}

	addInputFlags(cmd, &opts, root.cfg.Output.Pattern)
	cmd.Flags().StringVarP(&opts.OutputFile, "output-file", "o", "", "output CSV containing [id/filename,BLURRY] rows")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show verbose debugging output")
	cmd.Flags().BoolVar(&opts.Trajectory, "trajectory", false, "run the GPS trajectory pass and print its report")
	cmd.Flags().StringVar(&settings.merge, "merge", settings.merge, "final verdict policy (sharpness|any)")
	cmd.Flags().IntVar(&settings.workers, "workers", settings.workers, "parallel sharpness scorers")
	cmd.Flags().IntVar(&settings.threshold, "threshold", settings.threshold, "corner Laplacian sum below which a picture is blurry")
	cmd.Flags().StringVar(&settings.decoder, "decoder", settings.decoder, "image decoder (native|imagick|opencv)")
	cmd.Flags().StringVar(&settings.metadata, "metadata", settings.metadata, "EXIF reader (auto|exiftool|goexif)")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func newTrajectoryCmd(root *Root) *cobra.Command {
	var (
		opts     scan.Options
		distance string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "trajectory",
		Short: "Print distance and heading changes along the GPS trajectory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetLevel("debug")
			}
			return root.runTrajectory(cmd.Context(), opts, distance)
		},
	}

	addInputFlags(cmd, &opts, root.cfg.Output.Pattern)
	cmd.Flags().StringVar(&distance, "distance", root.cfg.Trajectory.Distance, "distance formula (geodesic|spherical)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show verbose debugging output")

	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent scans, or the blurry pictures of one scan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("run history is disabled (paths.database_path is empty)")
			}
			if len(args) == 0 {
				runs, err := root.store.RecentRuns(limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(root.out, "No scans recorded")
					return nil
				}
				return report.Runs(root.out, runs)
			}

			meta, err := root.store.RunMeta(args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("no scan recorded with id %s", args[0])
			}
			if err != nil {
				return err
			}
			if err := report.RunMeta(root.out, meta); err != nil {
				return err
			}

			photos, err := root.store.RunPhotos(args[0], !all)
			if err != nil {
				return err
			}
			if len(photos) == 0 {
				fmt.Fprintf(root.out, "No pictures recorded for scan %s\n", args[0])
				return nil
			}
			return report.Photos(root.out, photos)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of scans to list")
	cmd.Flags().BoolVar(&all, "all", false, "list every picture of the scan, not only the blurry ones")

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(root.out, "blurscan %s\n", Version)
		},
	}
}
