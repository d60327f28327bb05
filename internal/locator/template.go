package locator

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// acceptThreshold is the maximum mean-squared error (on normalized grayscale)
// for a template match to be accepted.
const acceptThreshold = 0.08

// Match is the best position found for one template, in page coordinates.
type Match struct {
	X     int
	Y     int
	Score float64
}

// TemplateLibrary holds the grayscale button templates, keyed by intent.
// Template files are PNGs named "<key>_*.png"; a built-in default covers the
// apply intent when no files are provided.
type TemplateLibrary struct {
	templates map[string][]*grayImage
	logger    *zap.Logger
}

// LoadTemplates reads the PNG templates from dir. An empty dir is allowed;
// the library then falls back to the built-in apply template.
func LoadTemplates(dir string, logger *zap.Logger) (*TemplateLibrary, error) {
	lib := &TemplateLibrary{
		templates: make(map[string][]*grayImage),
		logger:    logger,
	}

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading template dir: %w", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".png") {
				continue
			}

			key := strings.SplitN(strings.TrimSuffix(name, ".png"), "_", 2)[0]
			img, err := loadPNG(filepath.Join(dir, name))
			if err != nil {
				logger.Warn("skipping unreadable template", zap.String("file", name), zap.Error(err))
				continue
			}

			lib.templates[key] = append(lib.templates[key], toGray(img))
			logger.Debug("loaded template", zap.String("key", key), zap.String("file", name))
		}
	}

	if len(lib.templates["apply"]) == 0 {
		lib.templates["apply"] = []*grayImage{toGray(defaultApplyTemplate())}
	}
	if len(lib.templates["submit"]) == 0 {
		lib.templates["submit"] = lib.templates["apply"]
	}

	return lib, nil
}

// FindBestMatch scans the screenshot with every template for the key and
// returns the lowest-error position, or nil when nothing clears the
// acceptance threshold.
func (t *TemplateLibrary) FindBestMatch(screenshot []byte, key string) (*Match, error) {
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}

	page := toGray(img)

	var best *Match
	for _, template := range t.templates[key] {
		match := matchTemplate(page, template)
		if match == nil {
			continue
		}
		if best == nil || match.Score < best.Score {
			best = match
		}
	}

	if best == nil || best.Score > acceptThreshold {
		return nil, nil
	}
	return best, nil
}

// grayImage is a normalized grayscale pixel matrix, values in [0, 1].
type grayImage struct {
	w, h   int
	pixels []float64
}

func (g *grayImage) at(x, y int) float64 { return g.pixels[y*g.w+x] }

func toGray(img image.Image) *grayImage {
	bounds := img.Bounds()
	g := &grayImage{
		w:      bounds.Dx(),
		h:      bounds.Dy(),
		pixels: make([]float64, bounds.Dx()*bounds.Dy()),
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			g.pixels[i] = float64(c.Y) / 255.0
			i++
		}
	}
	return g
}

// matchTemplate slides the template over the page with a quarter-height
// stride and returns the center of the lowest mean-squared-error window.
func matchTemplate(page, template *grayImage) *Match {
	if page.h < template.h || page.w < template.w {
		return nil
	}

	strideY := max(1, template.h/4)
	strideX := max(1, template.w/4)

	best := &Match{Score: 1.0}
	found := false

	for y := 0; y+template.h <= page.h; y += strideY {
		for x := 0; x+template.w <= page.w; x += strideX {
			score := windowMSE(page, template, x, y)
			if !found || score < best.Score {
				best.X = x + template.w/2
				best.Y = y + template.h/2
				best.Score = score
				found = true
			}
		}
	}

	if !found {
		return nil
	}
	return best
}

func windowMSE(page, template *grayImage, offsetX, offsetY int) float64 {
	var sum float64
	for y := 0; y < template.h; y++ {
		for x := 0; x < template.w; x++ {
			diff := page.at(offsetX+x, offsetY+y) - template.at(x, y)
			sum += diff * diff
		}
	}
	return sum / float64(template.w*template.h)
}

// defaultApplyTemplate synthesizes a flat call-to-action button in the shade
// most job boards use, for installs that ship no template files.
func defaultApplyTemplate() image.Image {
	const width, height = 160, 50

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	background := color.RGBA{R: 249, G: 115, B: 22, A: 255}
	label := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, background)
		}
	}
	// A light band where the label text sits.
	for y := height/2 - 6; y < height/2+6; y++ {
		for x := 20; x < width-20; x += 3 {
			img.Set(x, y, label)
		}
	}

	return img
}

func loadPNG(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return png.Decode(file)
}
