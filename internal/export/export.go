package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// Page size of the document artifact, in millimetres
const (
	PageWidthMM  = 210.0
	PageHeightMM = 297.0
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPNG, FormatPDF:
		return Format(s), nil
	case "image":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "image/png"
}

func (f Format) Ext() string {
	return "." + string(f)
}

// PageLayout decides how the document page is sized
type PageLayout string

const (
	// Constant 210x297 page, raster stretched over it from the origin
	PageFixed PageLayout = "fixed"

	// 210 wide, height follows the raster aspect ratio
	PageFitAspect PageLayout = "aspect"
)

func ParsePageLayout(s string) (PageLayout, error) {
	switch PageLayout(s) {
	case "", PageFixed:
		return PageFixed, nil
	case PageFitAspect:
		return PageFitAspect, nil
	}
	return "", fmt.Errorf("unknown page layout %q", s)
}

// Placement is where the raster lands on the document page.
type Placement struct {
	PageW, PageH float64
	X, Y, W, H   float64
}

func Layout(bounds image.Rectangle, layout PageLayout) Placement {
	if layout == PageFitAspect && bounds.Dx() > 0 {
		h := PageWidthMM * float64(bounds.Dy()) / float64(bounds.Dx())
		return Placement{PageW: PageWidthMM, PageH: h, W: PageWidthMM, H: h}
	}
	return Placement{PageW: PageWidthMM, PageH: PageHeightMM, W: PageWidthMM, H: PageHeightMM}
}

// EncodePNG writes the raster losslessly at its native size.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// EncodePDF embeds the raster as a single image on a single page.
func EncodePDF(w io.Writer, img image.Image, layout PageLayout) error {
	var raster bytes.Buffer
	if err := EncodePNG(&raster, img); err != nil {
		return err
	}

	p := Layout(img.Bounds(), layout)
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: p.PageW, Ht: p.PageH},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("canvas", opts, &raster)
	pdf.ImageOptions("canvas", p.X, p.Y, p.W, p.H, false, opts, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("encode pdf: %w", err)
	}
	return nil
}

// Encode dispatches on format.
func Encode(w io.Writer, img image.Image, format Format, layout PageLayout) error {
	switch format {
	case FormatPNG:
		return EncodePNG(w, img)
	case FormatPDF:
		return EncodePDF(w, img, layout)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
