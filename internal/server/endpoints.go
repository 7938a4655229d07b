package server

// Param describes one request parameter.
type Param struct {
	Name        string `json:"name"`
	In          string `json:"in"` // query, form, file or path
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Endpoint describes one API route.
type Endpoint struct {
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	Description string  `json:"description"`
	Params      []Param `json:"params,omitempty"`
}

var templateParam = Param{
	Name:        "template",
	In:          "file",
	Type:        "file",
	Description: "Template page: PDF (first page is used), PNG, JPEG or GIF",
	Required:    true,
}

func detectionParams() []Param {
	return []Param{
		{Name: "white_threshold", In: "form", Type: "integer", Description: "Brightness (0-255) a pixel must exceed to count as white", Default: 245},
		{Name: "min_area_ratio", In: "form", Type: "number", Description: "Smallest zone bounding box as a fraction of the page", Default: 0.001},
		{Name: "max_area_ratio", In: "form", Type: "number", Description: "Largest zone bounding box as a fraction of the page", Default: 0.9},
		{Name: "min_aspect", In: "form", Type: "number", Description: "Smallest accepted width/height ratio", Default: 0.5},
		{Name: "max_aspect", In: "form", Type: "number", Description: "Largest accepted width/height ratio", Default: 2.0},
	}
}

func placementParams() []Param {
	return []Param{
		{Name: "mode", In: "form", Type: "string", Description: "auto, zone or manual", Default: "auto"},
		{Name: "size", In: "form", Type: "number", Description: "Preferred QR edge in points", Default: 100},
		{Name: "min_size", In: "form", Type: "number", Description: "Smallest QR edge accepted after shrinking", Default: 40},
		{Name: "margin", In: "form", Type: "number", Description: "Clearance inside the zone in points", Default: 8},
		{Name: "align", In: "form", Type: "string", Description: "center, top-left, top-right, bottom-left or bottom-right", Default: "center"},
		{Name: "zone_index", In: "form", Type: "integer", Description: "Zone used in zone mode, 0 is the largest"},
		{Name: "fallback", In: "form", Type: "string", Description: "corner or none", Default: "corner"},
		{Name: "x", In: "form", Type: "number", Description: "Left edge in points for manual mode"},
		{Name: "y", In: "form", Type: "number", Description: "Top edge in points for manual mode"},
	}
}

func withParams(groups ...[]Param) []Param {
	var out []Param
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Endpoints returns the API catalog served at GET /api.
func Endpoints() []Endpoint {
	return []Endpoint{
		{
			Method:      "POST",
			Path:        "/api/detect",
			Description: "Find white zones on the template and report where the QR code would go.",
			Params: withParams([]Param{templateParam}, detectionParams(), placementParams(), []Param{
				{Name: "crops", In: "form", Type: "boolean", Description: "Include a base64 PNG crop of every zone"},
				{Name: "crop_scale", In: "form", Type: "number", Description: "Scale factor applied to zone crops", Default: 1.0},
			}),
		},
		{
			Method:      "POST",
			Path:        "/api/preview",
			Description: "Render the template with zones outlined and the chosen placement highlighted as PNG.",
			Params: withParams([]Param{templateParam}, detectionParams(), placementParams(), []Param{
				{Name: "max_width", In: "form", Type: "integer", Description: "Downscale the preview to this width", Default: 1200},
			}),
		},
		{
			Method:      "GET",
			Path:        "/api/qr",
			Description: "Render a QR code PNG for one link.",
			Params: []Param{
				{Name: "url", In: "query", Type: "string", Description: "Link to encode; https is assumed when no scheme is given", Required: true},
				{Name: "size", In: "query", Type: "integer", Description: "Image edge in pixels (max 2048)", Default: 256},
			},
		},
		{
			Method:      "POST",
			Path:        "/api/jobs",
			Description: "Start a batch job producing one PDF per link. Returns 202 with the job ID.",
			Params: withParams([]Param{
				templateParam,
				{Name: "links_file", In: "file", Type: "file", Description: "Links as .txt (one per line), .csv or .xlsx"},
				{Name: "links", In: "form", Type: "string", Description: "Links pasted one per line"},
			}, detectionParams(), placementParams()),
		},
		{
			Method:      "GET",
			Path:        "/api/jobs",
			Description: "List recent jobs, newest first.",
			Params: []Param{
				{Name: "limit", In: "query", Type: "integer", Description: "Maximum number of jobs", Default: 50},
			},
		},
		{
			Method:      "GET",
			Path:        "/api/jobs/:id",
			Description: "Get the status and counters of one job.",
			Params:      []Param{{Name: "id", In: "path", Type: "string", Description: "Job ID", Required: true}},
		},
		{
			Method:      "DELETE",
			Path:        "/api/jobs/:id",
			Description: "Cancel a running job.",
			Params:      []Param{{Name: "id", In: "path", Type: "string", Description: "Job ID", Required: true}},
		},
		{
			Method:      "GET",
			Path:        "/api/jobs/:id/archive",
			Description: "Download the zip archive of a finished job, including report.csv. Jobs where every link failed serve an archive holding only the report.",
			Params:      []Param{{Name: "id", In: "path", Type: "string", Description: "Job ID", Required: true}},
		},
		{
			Method:      "GET",
			Path:        "/healthz",
			Description: "Liveness check.",
		},
	}
}
