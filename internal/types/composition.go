package types

import (
	"fmt"
	"slices"
	"time"
)

type Resolution struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

// AspectRatio reduces width:height by their greatest common divisor.
func (r Resolution) AspectRatio() string {
	if r.Width <= 0 || r.Height <= 0 {
		return "0:0"
	}
	g := gcd(r.Width, r.Height)
	return fmt.Sprintf("%d:%d", r.Width/g, r.Height/g)
}

func (r Resolution) IsPortrait() bool { return r.Height > r.Width }

func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidInput, r.Width, r.Height)
	}
	return nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// ResolutionPresets lists the display sizes offered when creating a
// composition.
func ResolutionPresets() []Resolution {
	return []Resolution{
		{Width: 1280, Height: 720, Name: "HD"},
		{Width: 1920, Height: 1080, Name: "Full HD"},
		{Width: 3840, Height: 2160, Name: "4K"},
		{Width: 720, Height: 1280, Name: "HD Portrait"},
		{Width: 1080, Height: 1920, Name: "Full HD Portrait"},
		{Width: 2160, Height: 3840, Name: "4K Portrait"},
		{Width: 1080, Height: 1080, Name: "Square"},
		{Width: 2560, Height: 1080, Name: "Ultra Wide"},
	}
}

type BackgroundType string

const (
	BackgroundNone  BackgroundType = "none"
	BackgroundColor BackgroundType = "color"
	BackgroundImage BackgroundType = "image"
)

type ScaleMode string

const (
	ScaleFill    ScaleMode = "fill"
	ScaleFit     ScaleMode = "fit"
	ScaleStretch ScaleMode = "stretch"
	ScaleTile    ScaleMode = "tile"
	ScaleCenter  ScaleMode = "center"
)

type Background struct {
	Type      BackgroundType `json:"type"`
	Color     string         `json:"color,omitempty"`
	ImageID   string         `json:"imageId,omitempty"`
	ImageURL  string         `json:"imageUrl,omitempty"`
	ScaleMode ScaleMode      `json:"scaleMode,omitempty"`
}

func (b Background) Validate() error {
	switch b.Type {
	case BackgroundNone:
		return nil
	case BackgroundColor:
		if b.Color == "" {
			return fmt.Errorf("%w: color background without color", ErrInvalidInput)
		}
		return nil
	case BackgroundImage:
		if b.ImageID == "" && b.ImageURL == "" {
			return fmt.Errorf("%w: image background without image", ErrInvalidInput)
		}
		switch b.ScaleMode {
		case "", ScaleFill, ScaleFit, ScaleStretch, ScaleTile, ScaleCenter:
			return nil
		}
		return fmt.Errorf("%w: scale mode %q", ErrInvalidInput, b.ScaleMode)
	}
	return fmt.Errorf("%w: background type %q", ErrInvalidInput, b.Type)
}

// Placement positions one overlay inside a composition. Its id is local
// to the composition; several placements may reference the same overlay.
type Placement struct {
	ID        string `json:"id"`
	OverlayID string `json:"overlayId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ZIndex    int    `json:"zIndex"`
	Visible   bool   `json:"visible"`
	Locked    bool   `json:"locked"`
}

type DisplayComposition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Resolution  Resolution  `json:"resolution"`
	Background  Background  `json:"background"`
	Placements  []Placement `json:"placements"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	ModifiedAt  time.Time   `json:"modifiedAt"`
}

func (c DisplayComposition) Clone() DisplayComposition {
	c.Placements = slices.Clone(c.Placements)
	return c
}

// NextZIndex is one above the highest placement, 0 when empty.
func (c DisplayComposition) NextZIndex() int {
	if len(c.Placements) == 0 {
		return 0
	}
	highest := c.Placements[0].ZIndex
	for _, p := range c.Placements[1:] {
		highest = max(highest, p.ZIndex)
	}
	return highest + 1
}

// PaintOrder returns the visible placements, lowest z-index first. Ties
// keep insertion order.
func (c DisplayComposition) PaintOrder() []Placement {
	visible := make([]Placement, 0, len(c.Placements))
	for _, p := range c.Placements {
		if p.Visible {
			visible = append(visible, p)
		}
	}
	slices.SortStableFunc(visible, func(a, b Placement) int { return a.ZIndex - b.ZIndex })
	return visible
}
