// Package overlay derives on-screen geometry for tracked codes and reconciles
// the presentation element set with the tracked-code set.
package overlay

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/tracker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// Op is a presentation instruction kind
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Element is the presentation state of one tracked code
type Element struct {
	Value        string          `json:"value"`
	Symbology    types.Symbology `json:"symbology"`
	DisplayIndex int             `json:"displayIndex"`
	Geometry     *Geometry       `json:"geometry,omitempty"`
}

// Instruction tells the presentation layer to create, update or remove one element
type Instruction struct {
	Op           Op              `json:"op"`
	Value        string          `json:"value"`
	Symbology    types.Symbology `json:"symbology,omitempty"`
	DisplayIndex int             `json:"displayIndex,omitempty"`
	Geometry     *Geometry       `json:"geometry,omitempty"`
}

// Update is the result of one render pass
type Update struct {
	Instructions []Instruction // empty when nothing changed
	Elements     []Element     // full element set in display order
	Relayouts    int           // geometry recomputations performed
}

// Renderer keeps the derived element set keyed by code value.
// It is driven from the frame loop only.
type Renderer struct {
	layout   Layout
	elements map[string]*Element
	order    []string
}

// NewRenderer creates a renderer with an empty element set
func NewRenderer(layout Layout) *Renderer {
	return &Renderer{
		layout:   layout,
		elements: make(map[string]*Element),
	}
}

// Render reconciles the element set with codes. Elements of vanished codes are
// removed, new codes are created, and existing ones are updated only when their
// display index or boundary fingerprint changed. Geometry is recomputed only on
// fingerprint change; GeometryKey is the only field written on codes.
func (r *Renderer) Render(codes []*tracker.TrackedCode) Update {
	var up Update

	present := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		present[c.Value] = struct{}{}
	}
	for _, value := range r.order {
		if _, ok := present[value]; ok {
			continue
		}
		delete(r.elements, value)
		up.Instructions = append(up.Instructions, Instruction{Op: OpRemove, Value: value})
	}

	order := make([]string, 0, len(codes))
	up.Elements = make([]Element, 0, len(codes))
	for i, code := range codes {
		index := i + 1
		el, exists := r.elements[code.Value]

		key := Fingerprint(code.BoundaryPoints)
		relayout := !exists || code.GeometryKey != key
		var geom *Geometry
		if relayout {
			code.GeometryKey = key
			up.Relayouts++
			if r.layout.ShowContour {
				g := r.layout.Compute(code.Symbology, code.BoundaryPoints)
				geom = &g
			}
		}

		switch {
		case !exists:
			el = &Element{
				Value:        code.Value,
				Symbology:    code.Symbology,
				DisplayIndex: index,
				Geometry:     geom,
			}
			r.elements[code.Value] = el
			up.Instructions = append(up.Instructions, instruction(OpCreate, el))
		case relayout || el.DisplayIndex != index || el.Symbology != code.Symbology:
			if relayout {
				el.Geometry = geom
			}
			el.DisplayIndex = index
			el.Symbology = code.Symbology
			up.Instructions = append(up.Instructions, instruction(OpUpdate, el))
		}

		order = append(order, code.Value)
		up.Elements = append(up.Elements, *el)
	}
	r.order = order
	return up
}

// Reset drops every element, returning remove instructions for them
func (r *Renderer) Reset() []Instruction {
	out := make([]Instruction, 0, len(r.order))
	for _, value := range r.order {
		out = append(out, Instruction{Op: OpRemove, Value: value})
	}
	r.elements = make(map[string]*Element)
	r.order = nil
	return out
}

func instruction(op Op, el *Element) Instruction {
	return Instruction{
		Op:           op,
		Value:        el.Value,
		Symbology:    el.Symbology,
		DisplayIndex: el.DisplayIndex,
		Geometry:     el.Geometry,
	}
}
