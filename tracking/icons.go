package tracking

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var ErrIconUnreadable = errors.New("icon could not be decoded")

// Icon is a BGR image already scaled to its zone
type Icon struct {
	Mat    gocv.Mat
	Source string
}

// Size returns the icon dimensions
func (i *Icon) Size() image.Point {
	return image.Pt(i.Mat.Cols(), i.Mat.Rows())
}

// Close releases the image
func (i *Icon) Close() error {
	if i == nil {
		return nil
	}
	return i.Mat.Close()
}

// IconLoader resolves icon sources to images.
// Remote sources are staged in a private scratch directory and removed after decoding.
type IconLoader struct {
	Fetcher Fetcher

	mu         sync.Mutex
	scratchDir string
	owned      bool // scratchDir was created by the loader
}

// NewIconLoader creates a loader; scratchDir may be empty to use a fresh temporary directory
func NewIconLoader(fetcher Fetcher, scratchDir string) *IconLoader {
	return &IconLoader{Fetcher: fetcher, scratchDir: scratchDir}
}

// Load reads source and scales it to size
func (l *IconLoader) Load(ctx context.Context, source string, size image.Point) (*Icon, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("icon %s: invalid target size %v", source, size)
	}

	img, err := l.read(ctx, source)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	scaled := gocv.NewMat()
	gocv.Resize(img, &scaled, size, 0, 0, gocv.InterpolationLinear)
	return &Icon{Mat: scaled, Source: source}, nil
}

func (l *IconLoader) read(ctx context.Context, source string) (gocv.Mat, error) {
	u, err := url.Parse(source)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l.fetch(ctx, source, filepath.Ext(u.Path))
		case "file":
			source = u.Path
		}
	}
	return readImage(source)
}

func (l *IconLoader) fetch(ctx context.Context, uri, ext string) (gocv.Mat, error) {
	if l.Fetcher == nil {
		return gocv.NewMat(), fmt.Errorf("icon %s: no fetcher configured", uri)
	}
	dir, err := l.dir()
	if err != nil {
		return gocv.NewMat(), err
	}

	path := filepath.Join(dir, uuid.New().String()+ext)
	f, err := os.Create(path)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "can't stage icon")
	}
	defer os.Remove(path)

	err = l.Fetcher.Fetch(ctx, uri, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return gocv.NewMat(), err
	}

	debugMsg("ICONS", fmt.Sprintf("Fetched %s into %s", uri, path))
	return readImage(path)
}

// dir returns the scratch directory, creating it on first use
func (l *IconLoader) dir() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scratchDir != "" {
		if err := os.MkdirAll(l.scratchDir, 0o755); err != nil {
			return "", errors.Wrap(err, "can't create icon scratch directory")
		}
		return l.scratchDir, nil
	}
	dir, err := os.MkdirTemp("", "pointerdetectix-")
	if err != nil {
		return "", errors.Wrap(err, "can't create icon scratch directory")
	}
	l.scratchDir, l.owned = dir, true
	return dir, nil
}

// Close removes the scratch directory if the loader created it
func (l *IconLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.owned {
		return nil
	}
	err := os.RemoveAll(l.scratchDir)
	l.scratchDir, l.owned = "", false
	return err
}

func readImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), errors.Wrapf(ErrIconUnreadable, "%s", path)
	}
	return img, nil
}
