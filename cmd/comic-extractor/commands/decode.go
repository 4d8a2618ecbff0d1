package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/cmd/comic-extractor/ui"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

var (
	decodePage    int
	decodeRegion  string
	decodeSize    string
	decodeOut     string
	decodeQuality int
)

var decodeCmd = &cobra.Command{
	Use:   "decode <path>",
	Short: "Decode a page, or a region of it, to a JPEG file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	decodeCmd.Flags().IntVarP(&decodePage, "page", "p", 0, "page position (0-based)")
	decodeCmd.Flags().StringVar(&decodeRegion, "region", "", "source region as x,y,w,h in pixels")
	decodeCmd.Flags().StringVar(&decodeSize, "size", "", "bound the output to WxH, preserving aspect")
	decodeCmd.Flags().StringVarP(&decodeOut, "output", "o", "", "output file (default <name>-p<page>.jpg)")
	decodeCmd.Flags().IntVar(&decodeQuality, "quality", 0, "JPEG quality 1-100")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	path := args[0]

	var region *comiccore.Region
	if decodeRegion != "" {
		v, err := parseInts(decodeRegion, ",", 4)
		if err != nil {
			return fmt.Errorf("--region: %w", err)
		}
		region = &comiccore.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	}
	var target *comiccore.Size
	if decodeSize != "" {
		v, err := parseInts(strings.ToLower(decodeSize), "x", 2)
		if err != nil {
			return fmt.Errorf("--size: %w", err)
		}
		target = &comiccore.Size{Width: v[0], Height: v[1]}
	}

	core := comiccore.New(comiccore.Options{Config: cfg, Logger: logger})
	defer core.Close()

	res, err := core.DecodeRegion(cmd.Context(), path, decodePage, region, target)
	if err != nil {
		return err
	}
	data, err := comiccore.EncodeJPEG(res.Image, decodeQuality)
	if err != nil {
		return err
	}

	out := decodeOut
	if out == "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out = fmt.Sprintf("%s-p%d.jpg", base, decodePage)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	b := res.Image.Bounds()
	ui.Success("Wrote %s (%dx%d from a %dx%d page)", out, b.Dx(), b.Dy(), res.Source.Width, res.Source.Height)
	return nil
}

func parseInts(s, sep string, n int) ([]int, error) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}
