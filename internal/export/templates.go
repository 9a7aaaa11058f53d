package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Name          string
	AllocatorFirm string
	ManagerFirm   string
	Status        string
	GeneratedAt   time.Time
	Completion    float64
	Questions     []TemplateQuestion
}

// TemplateQuestion holds question data for the template
type TemplateQuestion struct {
	Section  string
	Text     string
	Type     string
	Answer   string
	Branches []TemplateBranch
}

// TemplateBranch holds branch data for the template
type TemplateBranch struct {
	Question  string
	Status    string
	Answer    string
	CreatedBy string
	Reasoning string
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .branch { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <div class="meta">{{.AllocatorFirm}} | {{.ManagerFirm}} | {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Questions}}
  <h2>{{.Text}}</h2>
  {{if .Answer}}<p>{{.Answer}}</p>{{end}}
  {{range .Branches}}<div class="branch">{{.Question}}{{if .Answer}} | {{.Answer}}{{end}}</div>{{end}}
  {{end}}
</body>
</html>`
