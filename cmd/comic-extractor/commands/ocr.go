package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/cmd/comic-extractor/ui"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

const ocrRasterSide = 2048

var (
	ocrPage  int
	ocrBox   string
	ocrModel string
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <path>",
	Short: "Recognise balloon text on a page",
	Long: `Recognise the text inside --box (normalised x_min,y_min,x_max,y_max), or
inside every speech balloon detected on the page when no box is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

func init() {
	ocrCmd.Flags().IntVarP(&ocrPage, "page", "p", 0, "page position (0-based)")
	ocrCmd.Flags().StringVar(&ocrBox, "box", "", "normalised box x_min,y_min,x_max,y_max")
	ocrCmd.Flags().StringVar(&ocrModel, "model", "", "detection model manifest (default from config)")
	rootCmd.AddCommand(ocrCmd)
}

func runOCR(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	var boxes []comiccore.BoundingBox
	if ocrBox != "" {
		v, err := parseFloats(ocrBox, 4)
		if err != nil {
			return fmt.Errorf("--box: %w", err)
		}
		box := comiccore.BoundingBox{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]}
		if !box.Valid() || box.Area() == 0 {
			return fmt.Errorf("--box: %q is not a normalised box", ocrBox)
		}
		boxes = append(boxes, box)
	}

	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	fh, err := core.GetComicFileData(ctx, path)
	if err != nil {
		return err
	}
	h, err := core.GetPageImageData(ctx, path, ocrPage)
	if err != nil {
		return err
	}
	defer core.Release(h)

	if boxes == nil {
		interp, err := loadInterpreter(core, ocrModel)
		if err != nil {
			return err
		}
		defer interp.Close()

		objs, err := core.DetectHandle(ctx, interp, h)
		if err != nil {
			return err
		}
		for _, o := range objs {
			if o.Class == domain.ClassSpeechBalloon {
				boxes = append(boxes, o.Box)
			}
		}
		if len(boxes) == 0 {
			ui.Warning("No speech balloons found on page %d", ocrPage)
			return nil
		}
	}

	raster, err := core.DecodeHandle(ctx, h, nil, &comiccore.Size{Width: ocrRasterSide, Height: ocrRasterSide})
	if err != nil {
		return err
	}

	engine, err := core.InitOCR()
	if err != nil {
		return err
	}
	defer comiccore.CloseOCR(engine)

	book := &comiccore.Book{Hash: fh}
	for i, box := range boxes {
		res := core.RecognizeObject(ctx, engine, book, ocrPage, raster.Image, box)
		switch res.State {
		case comiccore.OCRRecognized:
			ui.Success("[%d] %s", i, strings.TrimSpace(res.Text))
		default:
			ui.Warning("[%d] %s", i, res.State)
			if res.Err != nil {
				ui.Debug("%v", res.Err)
			}
		}
	}
	return nil
}
