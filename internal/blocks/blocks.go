// Package blocks defines the payload shapes of page blocks and their defaults.
package blocks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies a block kind. Unknown kinds are carried as Opaque content.
type Type string

const (
	TypeRichText Type = "rich_text"
	TypeHero     Type = "hero"
	TypeImage    Type = "image"
	TypeList     Type = "list"
	TypeButton   Type = "button"
)

// Known returns the block kinds this build understands, in editor menu order.
func Known() []Type {
	return []Type{TypeRichText, TypeHero, TypeImage, TypeList, TypeButton}
}

// IsKnown reports whether t is one of Known().
func IsKnown(t Type) bool {
	for _, known := range Known() {
		if known == t {
			return true
		}
	}
	return false
}

// Content is the decoded payload of a block. The set of implementations is closed;
// renderers switch over it exhaustively.
type Content interface {
	BlockType() Type
	isContent()
}

type RichText struct {
	HTML string `json:"html"`
}

type Hero struct {
	Heading       string `json:"heading"`
	Subheading    string `json:"subheading"`
	BackgroundURL string `json:"backgroundUrl"`
	CTALabel      string `json:"ctaLabel"`
	CTAHref       string `json:"ctaHref"`
}

type Image struct {
	URL     string `json:"url"`
	Alt     string `json:"alt"`
	Caption string `json:"caption"`
}

type List struct {
	Title string   `json:"title,omitempty"`
	Items []string `json:"items"`
}

type Button struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Opaque holds the raw payload of a block type introduced by a newer editor.
type Opaque struct {
	Type Type
	Raw  json.RawMessage
}

func (RichText) BlockType() Type { return TypeRichText }
func (Hero) BlockType() Type     { return TypeHero }
func (Image) BlockType() Type    { return TypeImage }
func (List) BlockType() Type     { return TypeList }
func (Button) BlockType() Type   { return TypeButton }
func (o Opaque) BlockType() Type { return o.Type }

func (RichText) isContent() {}
func (Hero) isContent()     {}
func (Image) isContent()    {}
func (List) isContent()     {}
func (Button) isContent()   {}
func (Opaque) isContent()   {}

// Default returns the starting payload for a new block of type t.
func Default(t Type) Content {
	switch t {
	case TypeRichText:
		return RichText{HTML: "<p>Nouveau paragraphe</p>"}
	case TypeHero:
		return Hero{Heading: "Titre", Subheading: "Sous-titre", CTALabel: "En savoir plus", CTAHref: "/contact"}
	case TypeImage:
		return Image{}
	case TypeList:
		return List{Title: "Liste", Items: []string{"Premier élément", "Deuxième élément"}}
	case TypeButton:
		return Button{Label: "Contactez-nous", Href: "/contact"}
	default:
		return Opaque{Type: t, Raw: json.RawMessage(`{"html":"<p>Block</p>"}`)}
	}
}

// DefaultContent returns the JSON encoding of Default(t).
func DefaultContent(t Type) json.RawMessage {
	raw, err := Encode(Default(t))
	if err != nil {
		return json.RawMessage(`{"html":"<p>Block</p>"}`)
	}
	return raw
}

// Encode serializes c to its storage form.
func Encode(c Content) (json.RawMessage, error) {
	if o, ok := c.(Opaque); ok {
		if len(o.Raw) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return o.Raw, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s block: %w", c.BlockType(), err)
	}
	return raw, nil
}

// Decode parses raw according to t. Unknown types decode to Opaque and never fail.
func Decode(t Type, raw json.RawMessage) (Content, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var (
		content Content
		err     error
	)
	switch t {
	case TypeRichText:
		var v RichText
		err = json.Unmarshal(raw, &v)
		content = v
	case TypeHero:
		var v Hero
		err = json.Unmarshal(raw, &v)
		content = v
	case TypeImage:
		var v Image
		err = json.Unmarshal(raw, &v)
		content = v
	case TypeList:
		var v List
		err = json.Unmarshal(raw, &v)
		content = v
	case TypeButton:
		var v Button
		err = json.Unmarshal(raw, &v)
		content = v
	default:
		return Opaque{Type: t, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s block: %w", t, err)
	}
	return content, nil
}
