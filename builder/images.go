package builder

import (
	"compress/flate"
	"image"
	"image/draw"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
)

// Image is an image XObject before it is stored. Data is either raw samples
// (Filter empty, Flate compressed on Add) or an encoded body such as DCTDecode.
type Image struct {
	Width            int
	Height           int
	ColorSpace       string
	BitsPerComponent int
	Filter           string
	Decode           []float64
	Data             []byte
	SMask            *Image
}

// FromImage converts a decoded image to 8-bit RGB samples with a DeviceGray soft
// mask when any pixel is not opaque.
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	pixels := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	hasAlpha := false
	for i := 0; i < w*h; i++ {
		offset := i * 4
		pixels = append(pixels, nrgba.Pix[offset], nrgba.Pix[offset+1], nrgba.Pix[offset+2])
		a := nrgba.Pix[offset+3]
		alpha = append(alpha, a)
		if a < 255 {
			hasAlpha = true
		}
	}

	img := &Image{
		Width:            w,
		Height:           h,
		ColorSpace:       "DeviceRGB",
		BitsPerComponent: 8,
		Data:             pixels,
	}
	if hasAlpha {
		img.SMask = &Image{
			Width:            w,
			Height:           h,
			ColorSpace:       "DeviceGray",
			BitsPerComponent: 8,
			Data:             alpha,
		}
	}
	return img
}

// JPEG wraps an encoded JPEG for embedding as DCTDecode. Adobe CMYK JPEGs store
// inverted samples, hence the Decode array.
func JPEG(data []byte, cfg image.Config, colorSpace string) *Image {
	img := &Image{
		Width:            cfg.Width,
		Height:           cfg.Height,
		ColorSpace:       colorSpace,
		BitsPerComponent: 8,
		Filter:           "DCTDecode",
		Data:             data,
	}
	if colorSpace == "DeviceCMYK" {
		img.Decode = []float64{1, 0, 1, 0, 1, 0, 1, 0}
	}
	return img
}

// AddImage stores img (and its soft mask) as image XObjects.
func (b *Builder) AddImage(img *Image) (raw.ObjectRef, error) {
	if err := filters.ValidateImageBounds(img.Width, img.Height); err != nil {
		return raw.ObjectRef{}, err
	}
	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("XObject"))
	dict.Set("Subtype", raw.NameLiteral("Image"))
	dict.Set("Width", raw.NumberInt(int64(img.Width)))
	dict.Set("Height", raw.NumberInt(int64(img.Height)))
	dict.Set("ColorSpace", raw.NameLiteral(img.ColorSpace))
	dict.Set("BitsPerComponent", raw.NumberInt(int64(img.BitsPerComponent)))
	if len(img.Decode) > 0 {
		arr := raw.NewArray()
		for _, v := range img.Decode {
			arr.Append(num(v))
		}
		dict.Set("Decode", arr)
	}

	data := img.Data
	switch img.Filter {
	case "":
		enc, err := filters.FlateEncode(data, flate.BestCompression)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		data = enc
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	default:
		dict.Set("Filter", raw.NameLiteral(img.Filter))
	}

	if img.SMask != nil {
		mask, err := b.AddImage(img.SMask)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		dict.Set("SMask", raw.RefObj{R: mask})
	}
	dict.Set("Length", raw.NumberInt(int64(len(data))))
	return b.Add(raw.NewStream(dict, data)), nil
}
