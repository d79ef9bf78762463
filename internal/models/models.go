package models

// Figure is a plotly-shaped chart payload. Every figure endpoint returns
// one, including failures (see engine.Placeholder).
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

type Trace struct {
	Type      string      `json:"type"`
	X         any         `json:"x,omitempty"`
	Y         any         `json:"y,omitempty"`
	Z         [][]float64 `json:"z,omitempty"`
	ShowScale *bool       `json:"showscale,omitempty"`
	Header    *TableBlock `json:"header,omitempty"`
	Cells     *TableBlock `json:"cells,omitempty"`
}

// TableBlock holds column-major values for a table trace.
type TableBlock struct {
	Values [][]string `json:"values"`
}

type Layout struct {
	Title       string       `json:"title,omitempty"`
	YTitle      string       `json:"yTitle,omitempty"`
	Height      int          `json:"height,omitempty"`
	YAxis       *Axis        `json:"yaxis,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

type Axis struct {
	Range [2]float64 `json:"range"`
}

type Annotation struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ShowArrow bool    `json:"showarrow"`
	Text      string  `json:"text"`
}

// Option is one entry of a dropdown.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// OptionSet is a multi-select population: the options plus the values
// selected by default.
type OptionSet struct {
	Options  []Option `json:"options"`
	Selected []string `json:"selected"`
}

// BookLink is an example volume for a heatmap cell.
type BookLink struct {
	Href  string `json:"href"`
	Title string `json:"title"`
	Year  string `json:"year"`
}
