// Package util - input file loading for the impulse CLI.
package util

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/models/model/preprocess"
)

// ImageFile represents an encoded image read from disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Image is the encoded image.
	Image preprocess.Image
	// Frame is the trailing number of the file name, or -1 when it has none.
	Frame int
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// formats maps supported extensions to their image format.
var formats = map[string]preprocess.ImageFormat{
	".jpg":  preprocess.ImageFormatJPEG,
	".jpeg": preprocess.ImageFormatJPEG,
	".png":  preprocess.ImageFormatPNG,
}

// LoadImageFile reads one image file.
//
// Arguments:
//   - path: A .jpg, .jpeg or .png file.
//
// Returns:
//   - ImageFile: The file contents.
//   - error: When the extension is unsupported or the file cannot be read.
func LoadImageFile(path string) (ImageFile, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := formats[ext]
	if !ok {
		return ImageFile{}, errors.Errorf("unsupported image extension %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "reading %s", path)
	}

	frame := -1
	if m := trailingDigits.FindString(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))); m != "" {
		frame, _ = strconv.Atoi(m)
	}
	return ImageFile{Path: path, Image: preprocess.Image{Format: format, Data: data}, Frame: frame}, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Files are ordered by their trailing frame number ("frame-12.jpg" before
// "frame-100.jpg"), then by name.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The images in frame order.
//   - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	var images []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := formats[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		img, err := LoadImageFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}

	sort.SliceStable(images, func(i, j int) bool {
		if images[i].Frame != images[j].Frame {
			return images[i].Frame < images[j].Frame
		}
		return images[i].Path < images[j].Path
	})
	return images, nil
}
