package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
	"github.com/MeKo-Tech/ocrprep/internal/utils"
)

// minImageSize is the smallest edge kept when filtering training images.
const minImageSize = 32

type cocoImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID           int         `json:"id"`
	ImageID      int         `json:"image_id"`
	CategoryID   int         `json:"category_id"`
	BBox         []float64   `json:"bbox"`
	Segmentation [][]float64 `json:"segmentation"`
	Iscrowd      int         `json:"iscrowd"`
}

type cocoFile struct {
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
}

// TextInstance is one annotated text region of a detection image.
type TextInstance struct {
	BBox    utils.Box
	Polygon []utils.Point
	Ignore  bool
}

// icdar is a text detection dataset with COCO-style annotations.
type icdar struct {
	*base
	instances [][]TextInstance
}

func loadIcdar(b *base, testMode bool) (*icdar, error) {
	data, err := os.ReadFile(b.annFile)
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}
	var doc cocoFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse annotations %s: %w", b.annFile, err)
	}

	byImage := make(map[int][]TextInstance, len(doc.Images))
	for _, a := range doc.Annotations {
		if len(a.BBox) != 4 {
			return nil, fmt.Errorf("annotation %d: bbox must have 4 values, got %d", a.ID, len(a.BBox))
		}
		x, y, w, h := a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3]
		inst := TextInstance{BBox: utils.NewBox(x, y, x+w, y+h), Ignore: a.Iscrowd != 0}
		if len(a.Segmentation) > 0 {
			inst.Polygon = utils.PointsFromFlat(a.Segmentation[0])
		}
		byImage[a.ImageID] = append(byImage[a.ImageID], inst)
	}

	d := &icdar{base: b}
	for _, img := range doc.Images {
		if img.FileName == "" {
			return nil, fmt.Errorf("image %d has no file_name", img.ID)
		}
		insts := byImage[img.ID]
		// Training splits skip tiny and unannotated images.
		if !testMode && (len(insts) == 0 || min(img.Width, img.Height) < minImageSize) {
			continue
		}
		d.infos = append(d.infos, pipeline.ImgInfo{Filename: img.FileName, Width: img.Width, Height: img.Height})
		d.instances = append(d.instances, insts)
	}
	return d, nil
}

// Instances returns the annotated text regions of image i.
func (d *icdar) Instances(i int) ([]TextInstance, error) {
	if _, err := d.Info(i); err != nil {
		return nil, err
	}
	return d.instances[i], nil
}
