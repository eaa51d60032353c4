package masking

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// cocoArchiveEntry is the annotation file name inside a markup export archive
const cocoArchiveEntry = "result.json"

type cocoExport struct {
	Images []struct {
		ID       int    `json:"id"`
		FileName string `json:"file_name"`
	} `json:"images"`
	Annotations []struct {
		ImageID      int         `json:"image_id"`
		Segmentation [][]float64 `json:"segmentation"`
	} `json:"annotations"`
}

// ParseCOCO reads a COCO annotation export and returns the zone polygons of
// every annotated image, keyed by image file name. Export tools prefix stored
// file names with an upload id ("3f2a1c-lot_a.jpg"); the prefix is dropped.
func ParseCOCO(r io.Reader) (map[string][]Polygon, error) {
	var export cocoExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode COCO export: %w", err)
	}

	zones := make(map[string][]Polygon, len(export.Images))
	names := make(map[int]string, len(export.Images))
	for _, img := range export.Images {
		name := imageName(img.FileName)
		names[img.ID] = name
		zones[name] = nil
	}

	for i, ann := range export.Annotations {
		name, ok := names[ann.ImageID]
		if !ok {
			return nil, fmt.Errorf("annotation %d references unknown image %d", i, ann.ImageID)
		}
		if len(ann.Segmentation) == 0 {
			continue
		}
		flat := ann.Segmentation[0]
		if len(flat)%2 != 0 {
			return nil, fmt.Errorf("annotation %d: odd number of segmentation coordinates", i)
		}
		poly := make(Polygon, 0, len(flat)/2)
		for j := 0; j < len(flat); j += 2 {
			poly = append(poly, Point{X: int(flat[j]), Y: int(flat[j+1])})
		}
		zones[name] = append(zones[name], poly)
	}

	return zones, nil
}

// LoadCOCO reads zones from a COCO .json file or from a .zip export holding result.json
func LoadCOCO(path string) (map[string][]Polygon, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		archive, err := zip.OpenReader(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		defer archive.Close()

		f, err := archive.Open(cocoArchiveEntry)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", path, err)
		}
		defer f.Close()
		return ParseCOCO(f)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotations: %w", err)
	}
	defer f.Close()
	return ParseCOCO(f)
}

func imageName(stored string) string {
	name := filepath.Base(stored)
	if idx := strings.Index(name, "-"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
