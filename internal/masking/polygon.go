// Package masking restricts video frames to configured parking zones.
//
// A zone is a set of polygons in pixel coordinates. Pixels outside the union
// of the polygons are zeroed before a frame reaches the detector, so objects
// parked outside the zone are never counted.
package masking

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Point is a pixel coordinate
type Point struct {
	X int
	Y int
}

// Polygon is a closed boundary; the last point connects back to the first.
//
// It decodes from either a list of pairs ([[x,y], ...]) or the contour form
// stored by the markup tooling, where every pair is wrapped once more
// ([[[x,y]], ...]).
type Polygon []Point

// UnmarshalJSON implements json.Unmarshaler
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var pairs [][]int
	if err := json.Unmarshal(data, &pairs); err == nil {
		return p.setPairs(pairs)
	}

	var contour [][][]int
	if err := json.Unmarshal(data, &contour); err != nil {
		return fmt.Errorf("polygon must be [[x,y],...] or [[[x,y]],...]: %w", err)
	}
	return p.setContour(contour)
}

// MarshalJSON implements json.Marshaler, always emitting the pair form
func (p Polygon) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.pairs())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *Polygon) UnmarshalYAML(node *yaml.Node) error {
	var pairs [][]int
	if err := node.Decode(&pairs); err == nil {
		return p.setPairs(pairs)
	}

	var contour [][][]int
	if err := node.Decode(&contour); err != nil {
		return fmt.Errorf("line %d: polygon must be [[x,y],...] or [[[x,y]],...]", node.Line)
	}
	return p.setContour(contour)
}

func (p *Polygon) setPairs(pairs [][]int) error {
	poly := make(Polygon, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("point %d: expected 2 coordinates, got %d", i, len(pair))
		}
		poly = append(poly, Point{X: pair[0], Y: pair[1]})
	}
	*p = poly
	return nil
}

func (p *Polygon) setContour(contour [][][]int) error {
	pairs := make([][]int, 0, len(contour))
	for i, wrapped := range contour {
		if len(wrapped) != 1 {
			return fmt.Errorf("point %d: expected a single wrapped pair, got %d", i, len(wrapped))
		}
		pairs = append(pairs, wrapped[0])
	}
	return p.setPairs(pairs)
}

func (p Polygon) pairs() [][2]int {
	out := make([][2]int, len(p))
	for i, pt := range p {
		out[i] = [2]int{pt.X, pt.Y}
	}
	return out
}
