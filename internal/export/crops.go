package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"parkguard/internal/model"
)

var cropName = regexp.MustCompile(`^Reg(-?\d+)-id=(-?\d+)_timeStop=(\d+(?:\.\d+)?)s\.jpg$`)

type cropFile struct {
	Path    string
	Seconds float64
}

// CropName is the file name of the crop of ev.
func CropName(ev model.StopEvent) string {
	return fmt.Sprintf("Reg%d-id=%d_timeStop=%.2fs.jpg", ev.ZoneID, ev.TrackID, ev.StopSeconds)
}

// ParseCropName extracts the track and stop seconds from a crop file name.
func ParseCropName(name string) (track int, seconds float64, ok bool) {
	m := cropName.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	track, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	seconds, err = strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, 0, false
	}
	return track, seconds, true
}

// frameImage returns the frame picture at frame.Width x frame.Height, the
// size the boxes are expressed in.
func frameImage(frame model.Frame) (image.Image, error) {
	if frame.Image != nil {
		return fitFrame(frame.Image, frame.Width, frame.Height), nil
	}
	if frame.ImagePath == "" {
		return nil, nil
	}
	f, err := os.Open(frame.ImagePath)
	if err != nil {
		return nil, &IOError{Op: "open", Path: frame.ImagePath, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &IOError{Op: "decode", Path: frame.ImagePath, Err: err}
	}
	return fitFrame(img, frame.Width, frame.Height), nil
}

func fitFrame(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if w <= 0 || h <= 0 || (b.Min == image.Point{} && b.Dx() == w && b.Dy() == h) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

var categoryColor = map[model.Category]color.RGBA{
	model.CategoryStop: {R: 255, G: 255, A: 255},
	model.CategoryPark: {R: 255, A: 255},
}

func (e *Exporter) writeCrop(c *category, img image.Image, bbox [4]float64, ev model.StopEvent) error {
	rect := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(crop, image.Point{}, img, rect, draw.Src, nil)
	annotate(crop, categoryColor[ev.Category], fmt.Sprintf("%d %.2fs", ev.TrackID, ev.StopSeconds))

	var buf bytes.Buffer
	path := filepath.Join(c.cfg.Dir, CropName(ev))
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: e.quality}); err != nil {
		return &IOError{Op: "encode", Path: path, Err: err}
	}
	return writeAtomic(path, buf.Bytes())
}

func annotate(img *image.RGBA, col color.RGBA, label string) {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		img.SetRGBA(x, b.Min.Y, col)
		img.SetRGBA(x, b.Max.Y-1, col)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		img.SetRGBA(b.Min.X, y, col)
		img.SetRGBA(b.Max.X-1, y, col)
	}
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(b.Min.X+3, b.Min.Y+face.Ascent+2),
	}
	d.DrawString(label)
}

// retain keeps the longest crop per track in the category directory and
// deletes the others. Names that do not parse are left alone.
func (e *Exporter) retain(c *category) []error {
	names, err := filepath.Glob(filepath.Join(c.cfg.Dir, "*.jpg"))
	if err != nil {
		return []error{&IOError{Op: "glob", Path: c.cfg.Dir, Err: err}}
	}
	sort.Strings(names)
	var errs []error
	for _, path := range names {
		track, seconds, ok := ParseCropName(filepath.Base(path))
		if !ok {
			continue
		}
		best, known := c.index.Get(track)
		switch {
		case known && best.Path == path:
			continue
		case !known || seconds > best.Seconds:
			if known {
				if err := removeIfExists(best.Path); err != nil {
					errs = append(errs, err)
				}
			}
			c.index.Put(track, cropFile{Path: path, Seconds: seconds})
		default:
			if err := removeIfExists(path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}
