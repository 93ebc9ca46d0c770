package models

// AdTemplate holds the content and styling passed to a composition
type AdTemplate struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	CompositionID   string `json:"composition_id" yaml:"composition_id"`
	Headline        string `json:"headline" yaml:"headline"`
	Subheadline     string `json:"subheadline,omitempty" yaml:"subheadline,omitempty"`
	Body            string `json:"body,omitempty" yaml:"body,omitempty"`
	CTA             string `json:"cta,omitempty" yaml:"cta,omitempty"`
	BrandColor      string `json:"brand_color,omitempty" yaml:"brand_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty" yaml:"background_color,omitempty"`
	TextColor       string `json:"text_color,omitempty" yaml:"text_color,omitempty"`
	LogoURL         string `json:"logo_url,omitempty" yaml:"logo_url,omitempty"`
	ImageURL        string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Width           int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height          int    `json:"height,omitempty" yaml:"height,omitempty"`
}

// WithVariant returns a copy of the template with the variant's non-empty
// text fields applied on top.
func (t AdTemplate) WithVariant(v CopyVariant) AdTemplate {
	if v.Headline != "" {
		t.Headline = v.Headline
	}
	if v.Subheadline != "" {
		t.Subheadline = v.Subheadline
	}
	if v.Body != "" {
		t.Body = v.Body
	}
	if v.CTA != "" {
		t.CTA = v.CTA
	}
	return t
}

// WithSize returns a copy of the template resized to the given dimensions
func (t AdTemplate) WithSize(width, height int) AdTemplate {
	t.Width = width
	t.Height = height
	return t
}
