package model

import (
	"regexp"
	"strconv"
	"strings"
)

// PayloadKind tags the structured payload encoded in a message body.
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadLocation PayloadKind = "location"
	PayloadContact  PayloadKind = "contact"
	PayloadMedia    PayloadKind = "media"
)

// Location is a shared map pin.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// ContactCard is a shared contact.
type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// DecodedBody is the tagged union produced by DecodeBody. Exactly one
// of Location, Contact or MediaToken is set depending on Kind; Text
// always holds the renderable fallback text.
type DecodedBody struct {
	Kind       PayloadKind  `json:"kind"`
	Text       string       `json:"text,omitempty"`
	Location   *Location    `json:"location,omitempty"`
	Contact    *ContactCard `json:"contact,omitempty"`
	MediaToken string       `json:"media_token,omitempty"`
}

// Structured payloads arrive embedded in the body as bracketed tokens,
// e.g. "[location:-23.55,-46.63,Office]" or "[contact:Ana;+5511999]".
var tokenRe = regexp.MustCompile(`^\[(location|contact|media):(.+)\]$`)

// DecodeBody classifies a raw message body at the ingestion boundary.
// Anything that is not a well-formed token decodes as plain text.
func DecodeBody(body string) DecodedBody {
	m := tokenRe.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return DecodedBody{Kind: PayloadText, Text: body}
	}

	switch m[1] {
	case "location":
		loc := decodeLocation(m[2])
		if loc == nil {
			return DecodedBody{Kind: PayloadText, Text: body}
		}
		return DecodedBody{Kind: PayloadLocation, Text: loc.Name, Location: loc}
	case "contact":
		card := decodeContact(m[2])
		if card == nil {
			return DecodedBody{Kind: PayloadText, Text: body}
		}
		return DecodedBody{Kind: PayloadContact, Text: card.Name, Contact: card}
	case "media":
		return DecodedBody{Kind: PayloadMedia, MediaToken: m[2]}
	}
	return DecodedBody{Kind: PayloadText, Text: body}
}

func decodeLocation(raw string) *Location {
	parts := strings.SplitN(raw, ",", 3)
	if len(parts) < 2 {
		return nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	loc := &Location{Latitude: lat, Longitude: lng}
	if len(parts) == 3 {
		loc.Name = strings.TrimSpace(parts[2])
	}
	return loc
}

func decodeContact(raw string) *ContactCard {
	parts := strings.SplitN(raw, ";", 2)
	if len(parts) != 2 {
		return nil
	}
	name := strings.TrimSpace(parts[0])
	phone := strings.TrimSpace(parts[1])
	if name == "" || phone == "" {
		return nil
	}
	return &ContactCard{Name: name, Phone: phone}
}

// ClassifyMedia maps a mimetype to the message type used for pending
// placeholders and previews.
func ClassifyMedia(mimetype string) MessageType {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return TypeImage
	case strings.HasPrefix(mimetype, "audio/"):
		return TypeAudio
	case strings.HasPrefix(mimetype, "video/"):
		return TypeVideo
	default:
		return TypeDocument
	}
}
