package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/cmd/comic-extractor/ui"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

// containerExtensions are the file extensions picked up when walking a
// directory. Explicitly named files are always tried.
var containerExtensions = map[string]bool{
	".cbz": true, ".zip": true,
	".cbr": true, ".rar": true,
	".cb7": true, ".7z": true,
	".pdf": true,
}

var (
	ingestNoDetect  bool
	ingestModel     string
	ingestDirection string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Add comics to the catalog",
	Long: `Identify each comic by content and record it in the catalog. Known content
is skipped, moved files are re-pointed without re-running detection, and
changed files are rebuilt. Directories are walked recursively.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestNoDetect, "no-detect", false, "skip panel and balloon detection")
	ingestCmd.Flags().StringVar(&ingestModel, "model", "", "detection model manifest (default from config)")
	ingestCmd.Flags().StringVar(&ingestDirection, "direction", "", "reading direction override: ltr or rtl")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	paths, err := collectContainers(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		ui.Warning("No comics found")
		return nil
	}

	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	var interp *comiccore.Interpreter
	if !ingestNoDetect {
		if interp, err = loadInterpreter(core, ingestModel); err != nil {
			return err
		}
		defer interp.Close()
	}

	ui.Section("Ingesting comics")
	results := ingestAll(ctx, core, interp, paths)

	counts := map[comiccore.AddResultType]int{}
	rows := make([][]string, 0, len(results))
	for i, res := range results {
		counts[res.Type]++
		rows = append(rows, resultRow(paths[i], res))
	}
	if verbose {
		ui.Table([]string{"FILE", "RESULT", "DETAIL"}, rows)
	}

	ui.Success("%d added, %d already present, %d moved, %d replaced",
		counts[comiccore.Added], counts[comiccore.AlreadyExists], counts[comiccore.Moved], counts[comiccore.Replaced])
	if n := counts[comiccore.Rejected]; n > 0 {
		for i, res := range results {
			if res.Type == comiccore.Rejected {
				ui.Error("%s: %s (%v)", paths[i], res.Code, res.Err)
			}
		}
		return fmt.Errorf("%d of %d comics rejected", n, len(paths))
	}
	return ctx.Err()
}

func ingestAll(ctx context.Context, core *comiccore.Core, interp *comiccore.Interpreter, paths []string) []comiccore.AddResult {
	progress := ui.NewIngestProgress(len(paths))
	defer progress.Finish()

	direction := parseDirectionFlag(ingestDirection)
	results := make([]comiccore.AddResult, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		progress.Begin(p)
		results = append(results, core.AddBook(ctx, p, "", direction, interp))
		progress.Added()
	}
	return results
}

func resultRow(path string, res comiccore.AddResult) []string {
	detail := ""
	switch res.Type {
	case comiccore.Added, comiccore.Replaced:
		if res.Book != nil {
			detail = fmt.Sprintf("%d pages", len(res.Book.Pages))
		}
	case comiccore.Moved:
		detail = "from " + res.PreviousPath
	case comiccore.Rejected:
		detail = string(res.Code)
	}
	return []string{filepath.Base(path), string(res.Type), detail}
}

// collectContainers expands directories into the comics they contain.
func collectContainers(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && containerExtensions[strings.ToLower(filepath.Ext(p))] {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

func parseDirectionFlag(s string) comiccore.Direction {
	switch strings.ToLower(s) {
	case "rtl":
		return comiccore.DirectionRTL
	case "ltr":
		return comiccore.DirectionLTR
	default:
		return ""
	}
}
