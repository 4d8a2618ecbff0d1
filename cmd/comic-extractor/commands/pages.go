package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/cmd/comic-extractor/ui"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

var (
	pagesDetect    bool
	pagesModel     string
	pagesName      string
	pagesDirection string
	pagesJSON      bool
)

var pagesCmd = &cobra.Command{
	Use:   "pages <path>",
	Short: "Describe the pages of a comic",
	Long: `Open a comic, list its pages in reading order with their sizes and, with
--detect, the panels and balloons found on each page.`,
	Args: cobra.ExactArgs(1),
	RunE: runPages,
}

func init() {
	pagesCmd.Flags().BoolVar(&pagesDetect, "detect", false, "detect panels and balloons")
	pagesCmd.Flags().StringVar(&pagesModel, "model", "", "detection model manifest (default from config)")
	pagesCmd.Flags().StringVar(&pagesName, "name", "", "display name hint")
	pagesCmd.Flags().StringVar(&pagesDirection, "direction", "", "reading direction override: ltr or rtl")
	pagesCmd.Flags().BoolVar(&pagesJSON, "json", false, "print the book as JSON")
	rootCmd.AddCommand(pagesCmd)
}

func runPages(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	var interp *comiccore.Interpreter
	if pagesDetect {
		if interp, err = loadInterpreter(core, pagesModel); err != nil {
			return err
		}
		defer interp.Close()
	}

	events := make(chan comiccore.StreamEvent, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		trackProgress(events)
	}()

	book, err := core.GetComicsMetadata(ctx, path, pagesName, parseDirectionFlag(pagesDirection), interp, events)
	close(events)
	wg.Wait()
	if err != nil {
		return err
	}

	if pagesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(book)
	}
	printBook(book)
	return nil
}

// trackProgress drives a page bar from pipeline events until events is
// closed.
func trackProgress(events <-chan comiccore.StreamEvent) {
	var progress ui.PageProgress
	for ev := range events {
		progress.Observe(ev)
	}
	if _, failed := progress.Finish(); failed > 0 {
		ui.Warning("%d pages could not be analysed", failed)
	}
}

func printBook(book *comiccore.Book) {
	ui.Section(book.Name)
	ui.Info("Format: %s  Direction: %s  Pages: %d", book.Format, book.Direction, len(book.Pages))
	ui.Info("Identity: %s (%d bytes)", book.Hash.Hex(), book.Hash.Size)
	if m := book.Metadata; m != nil && m.Series != nil {
		number := ""
		if m.Number != nil {
			number = " #" + *m.Number
		}
		ui.Info("Series: %s%s", *m.Series, number)
	}

	rows := make([][]string, 0, len(book.Pages))
	for _, p := range book.Pages {
		panels, balloons := 0, 0
		for _, o := range p.Objects {
			if o.Class == domain.ClassSpeechBalloon {
				balloons++
			} else {
				panels++
			}
		}
		status := ""
		if p.DetectFailed {
			status = "detect failed"
		}
		rows = append(rows, []string{
			strconv.Itoa(p.Position),
			p.Name,
			fmt.Sprintf("%dx%d", p.Width, p.Height),
			strconv.Itoa(panels),
			strconv.Itoa(balloons),
			status,
		})
	}
	ui.Table([]string{"#", "ENTRY", "SIZE", "PANELS", "BALLOONS", ""}, rows)
}
