package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/models"
)

// editFlags mirrors the /process form so renders can be reproduced offline.
type editFlags struct {
	text      string
	textX     int
	textY     int
	blur      string
	logo      string
	logoRect  string
	narration string
	flip      bool
	zoom      bool
	speed     bool
	color     bool
	monetize  bool
}

func addEditFlags(cmd *cobra.Command, f *editFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.text, "text", "", "Text watermark")
	flags.IntVar(&f.textX, "text-x", models.DefaultTextX, "Watermark x position")
	flags.IntVar(&f.textY, "text-y", models.DefaultTextY, "Watermark y position")
	flags.StringVar(&f.blur, "blur", "", "Blur rectangle as x,y,w,h")
	flags.StringVar(&f.logo, "logo", "", "Logo image to overlay")
	flags.StringVar(&f.logoRect, "logo-rect", "", "Logo placement as x,y,w,h")
	flags.StringVar(&f.narration, "narration", "", "Narration audio to replace the soundtrack")
	flags.BoolVar(&f.flip, "flip", false, "Mirror horizontally")
	flags.BoolVar(&f.zoom, "zoom", false, "Crop-zoom slightly")
	flags.BoolVar(&f.speed, "speed", false, "Play slightly faster")
	flags.BoolVar(&f.color, "color", false, "Boost contrast and saturation")
	flags.BoolVar(&f.monetize, "monetize", false, "Loop short clips past the monetization length")
}

func (f *editFlags) options() (models.EditOptions, error) {
	opts := models.EditOptions{
		TextWatermark: strings.TrimSpace(f.text),
		TextX:         f.textX,
		TextY:         f.textY,
		LogoPath:      f.logo,
		Logo: models.Rect{
			X: models.DefaultLogoX,
			Y: models.DefaultLogoY,
			W: models.DefaultLogoW,
			H: models.DefaultLogoH,
		},
		NarrationPath: f.narration,
		Flip:          f.flip,
		Zoom:          f.zoom,
		Speed:         f.speed,
		Color:         f.color,
		Monetize:      f.monetize,
	}

	if f.blur != "" {
		r, err := parseRect(f.blur)
		if err != nil {
			return models.EditOptions{}, fmt.Errorf("invalid --blur: %w", err)
		}
		opts.BlurEnabled = true
		opts.Blur = r
	}

	if f.logoRect != "" {
		r, err := parseRect(f.logoRect)
		if err != nil {
			return models.EditOptions{}, fmt.Errorf("invalid --logo-rect: %w", err)
		}
		opts.Logo = r
	}

	return opts, nil
}

// parseRect reads "x,y,w,h".
func parseRect(s string) (models.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.Rect{}, fmt.Errorf("want x,y,w,h, got %q", s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return models.Rect{}, fmt.Errorf("%q is not an integer", p)
		}
		v[i] = n
	}
	return models.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}
