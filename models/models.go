package models

import "time"

type Point struct {
	X float64 `json:"x" validate:"finite"`
	Y float64 `json:"y" validate:"finite"`
}

// Document is immutable for the lifetime of a session.
type Document struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// User is a connected participant. Users only exist while connected.
type User struct {
	Id     string `json:"id" validate:"required,max=128"`
	Name   string `json:"name" validate:"required,max=256"`
	Color  string `json:"color" validate:"hexcolor"`
	Cursor Point  `json:"cursor"`
}

type LayerType string

const (
	LayerRaster LayerType = "raster"
	LayerVector LayerType = "vector"
	LayerText   LayerType = "text"
)

const (
	MinOpacity = 0
	MaxOpacity = 100
)

type Layer struct {
	Id      string    `json:"id" validate:"required,max=128"`
	Name    string    `json:"name" validate:"max=256"`
	Visible bool      `json:"visible"`
	Locked  bool      `json:"locked"`
	Opacity int       `json:"opacity" validate:"min=0,max=100"`
	Type    LayerType `json:"type" validate:"oneof=raster vector text"`
	Owner   string    `json:"owner" validate:"max=128"`
	// Payload is nil for an empty layer, otherwise an encoded image or text descriptor.
	Payload *string `json:"payload"`
}

// Clone returns a copy of the layer that shares no memory with l.
func (l Layer) Clone() Layer {
	if l.Payload != nil {
		p := *l.Payload
		l.Payload = &p
	}
	return l
}

// CloneLayers deep copies a layer sequence.
func CloneLayers(layers []Layer) []Layer {
	if layers == nil {
		return nil
	}
	out := make([]Layer, len(layers))
	for i, l := range layers {
		out[i] = l.Clone()
	}
	return out
}

type Comment struct {
	Id        string    `json:"id" validate:"required,max=128"`
	X         float64   `json:"x" validate:"finite"`
	Y         float64   `json:"y" validate:"finite"`
	Text      string    `json:"text" validate:"required,max=4000"`
	Author    string    `json:"author" validate:"max=128"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

type CommentRecord struct {
	DocumentId string
	Comment    Comment
}
