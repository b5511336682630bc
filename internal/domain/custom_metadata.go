package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type CustomKind string

const (
	CustomNone            CustomKind = "none"
	CustomLogos           CustomKind = "logos"
	CustomPersonalization CustomKind = "personalization"
	// CustomRaw carries a payload whose shape is not recognised. It is kept
	// verbatim so nothing the storefront sent is lost.
	CustomRaw CustomKind = "raw"
)

type LogoPlacement struct {
	URL      string `json:"url"`
	Position string `json:"position,omitempty"`
	Size     string `json:"size,omitempty"`
}

type Personalization struct {
	Text  string `json:"text"`
	Font  string `json:"font,omitempty"`
	Color string `json:"color,omitempty"`
}

// CustomMetadata describes item customisation. The order core stores and
// forwards it; pricing already happened upstream.
type CustomMetadata struct {
	Kind            CustomKind       `json:"kind"`
	Logos           []LogoPlacement  `json:"logos,omitempty"`
	Personalization *Personalization `json:"personalization,omitempty"`
	Raw             json.RawMessage  `json:"raw,omitempty"`
}

func (m CustomMetadata) IsZero() bool {
	return m.Kind == "" || m.Kind == CustomNone
}

type taggedCustomMetadata CustomMetadata

func (m *CustomMetadata) UnmarshalJSON(data []byte) error {
	migrated, err := MigrateCustomMetadata(data)
	if err != nil {
		return err
	}
	*m = migrated
	return nil
}

func (m CustomMetadata) MarshalJSON() ([]byte, error) {
	if m.Kind == "" {
		m.Kind = CustomNone
	}
	return json.Marshal(taggedCustomMetadata(m))
}

// MigrateCustomMetadata converts any historical payload shape into the
// tagged form. Shapes it understands:
//
//	null, {}                                  -> none
//	{"kind": ...}                             -> as tagged
//	{"logos": [{"url", "position"}]}          -> logos
//	{"logo_url": "...", "position": "..."}    -> logos (single)
//	{"text": "...", "font": "..."}            -> personalization
//
// Anything else becomes CustomRaw.
func MigrateCustomMetadata(raw json.RawMessage) (CustomMetadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return CustomMetadata{Kind: CustomNone}, nil
	}
	if trimmed[0] != '{' {
		return CustomMetadata{Kind: CustomRaw, Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return CustomMetadata{}, fmt.Errorf("custom metadata: %w", err)
	}
	if len(fields) == 0 {
		return CustomMetadata{Kind: CustomNone}, nil
	}

	if _, ok := fields["kind"]; ok {
		var tagged taggedCustomMetadata
		if err := json.Unmarshal(trimmed, &tagged); err != nil {
			return CustomMetadata{}, fmt.Errorf("custom metadata: %w", err)
		}
		switch tagged.Kind {
		case CustomNone, CustomLogos, CustomPersonalization, CustomRaw:
			return CustomMetadata(tagged), nil
		}
		return CustomMetadata{Kind: CustomRaw, Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}

	if logosRaw, ok := fields["logos"]; ok {
		var logos []LogoPlacement
		if err := json.Unmarshal(logosRaw, &logos); err == nil {
			return CustomMetadata{Kind: CustomLogos, Logos: logos}, nil
		}
	}

	if urlRaw, ok := fields["logo_url"]; ok {
		var legacy struct {
			LogoURL  string `json:"logo_url"`
			Position string `json:"position"`
			Size     string `json:"size"`
		}
		if err := json.Unmarshal(trimmed, &legacy); err == nil && len(urlRaw) > 0 {
			return CustomMetadata{Kind: CustomLogos, Logos: []LogoPlacement{{
				URL:      legacy.LogoURL,
				Position: legacy.Position,
				Size:     legacy.Size,
			}}}, nil
		}
	}

	if _, ok := fields["text"]; ok {
		var p Personalization
		if err := json.Unmarshal(trimmed, &p); err == nil {
			return CustomMetadata{Kind: CustomPersonalization, Personalization: &p}, nil
		}
	}

	return CustomMetadata{Kind: CustomRaw, Raw: append(json.RawMessage(nil), trimmed...)}, nil
}
