// Package render draws correspondence sets as side-by-side match images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kwv/gcransac/ransac"
)

// Colors used for the two correspondence classes
var (
	InlierColor  = color.RGBA{R: 30, G: 160, B: 60, A: 255}
	OutlierColor = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	FrameColor   = color.RGBA{R: 90, G: 90, B: 90, A: 255}
)

// MatchRenderer draws the source image frame on the left and the destination
// frame on the right, with one line per correspondence. Units are image pixels.
type MatchRenderer struct {
	Set          *ransac.CorrespondenceSet
	Inliers      []int
	Width        float64 // image frame size; zero means the bounding box of the points
	Height       float64
	Gap          float64 // space between the two frames
	Padding      float64
	DrawOutliers bool
	PointRadius  float64
	LineWidth    float64
	Resolution   canvas.Resolution // one pixel per unit by default
	Caption      string            // drawn onto PNG output only
}

// NewMatchRenderer creates a renderer with default settings
func NewMatchRenderer(set *ransac.CorrespondenceSet, inliers []int) *MatchRenderer {
	return &MatchRenderer{
		Set:         set,
		Inliers:     inliers,
		Gap:         20,
		Padding:     10,
		PointRadius: 2.5,
		LineWidth:   1,
		Resolution:  canvas.DPMM(1),
		Caption:     fmt.Sprintf("%d / %d inliers", len(inliers), set.Len()),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// frame returns the size of one image frame
func (r *MatchRenderer) frame() (float64, float64) {
	w, h := r.Width, r.Height
	if w > 0 && h > 0 {
		return w, h
	}
	for i := 0; i < r.Set.Len(); i++ {
		c := r.Set.At(i)
		w = max(w, c.Source.X, c.Destination.X)
		h = max(h, c.Source.Y, c.Destination.Y)
	}
	return max(w, 1), max(h, 1)
}

// Size returns the total drawing size in units
func (r *MatchRenderer) Size() (float64, float64) {
	w, h := r.frame()
	return 2*w + r.Gap + 2*r.Padding, h + 2*r.Padding
}

// RenderToSVG writes the match image as an SVG to the provided writer
func (r *MatchRenderer) RenderToSVG(w io.Writer) error {
	width, height := r.Size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the match image as a PNG to the provided writer
func (r *MatchRenderer) RenderToPNG(w io.Writer) error {
	width, height := r.Size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	if r.Caption != "" {
		drawText(rast, 4, 14, r.Caption, color.RGBA{A: 255})
	}
	return png.Encode(w, rast)
}

// WriteFile renders to path, choosing SVG or PNG by extension
func (r *MatchRenderer) WriteFile(path string) error {
	var render func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		render = r.RenderToSVG
	case ".png":
		render = r.RenderToPNG
	default:
		return fmt.Errorf("unsupported image format %q (use .png or .svg)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := render(f); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}

func (r *MatchRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	fw, fh := r.frame()
	right := r.Padding + fw + r.Gap

	// canvas has its origin bottom-left, images top-left
	toCanvas := func(p ransac.Point, dx float64) (float64, float64) {
		return dx + p.X, height - r.Padding - p.Y
	}

	frameStyle := canvas.DefaultStyle
	frameStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	frameStyle.Stroke = canvas.Paint{Color: FrameColor}
	frameStyle.StrokeWidth = 1
	for _, dx := range []float64{r.Padding, right} {
		renderer.RenderPath(canvas.Rectangle(fw, fh).Translate(dx, r.Padding), frameStyle, canvas.Identity)
	}

	inlier := make([]bool, r.Set.Len())
	for _, i := range r.Inliers {
		if i >= 0 && i < len(inlier) {
			inlier[i] = true
		}
	}

	draw := func(i int, c color.RGBA) {
		corr := r.Set.At(i)
		x1, y1 := toCanvas(corr.Source, r.Padding)
		x2, y2 := toCanvas(corr.Destination, right)

		lineStyle := canvas.DefaultStyle
		lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		lineStyle.Stroke = canvas.Paint{Color: c}
		lineStyle.StrokeWidth = r.LineWidth
		line := &canvas.Path{}
		line.MoveTo(x1, y1)
		line.LineTo(x2, y2)
		renderer.RenderPath(line, lineStyle, canvas.Identity)

		dotStyle := canvas.DefaultStyle
		dotStyle.Fill = canvas.Paint{Color: c}
		dotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		renderer.RenderPath(canvas.Circle(r.PointRadius).Translate(x1, y1), dotStyle, canvas.Identity)
		renderer.RenderPath(canvas.Circle(r.PointRadius).Translate(x2, y2), dotStyle, canvas.Identity)
	}

	// outliers first so inliers stay on top
	if r.DrawOutliers {
		for i := range inlier {
			if !inlier[i] {
				draw(i, OutlierColor)
			}
		}
	}
	for i := range inlier {
		if inlier[i] {
			draw(i, InlierColor)
		}
	}
}

// drawText renders text onto an image at the specified pixel position
func drawText(img *rasterizer.Rasterizer, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
