package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"dripline/models"
)

// TemplateData is what template subjects and bodies are rendered against.
//
//	Hi {{.FirstName}}, about {{.Company}}: {{index .Custom "offer"}}
type TemplateData struct {
	FirstName string
	LastName  string
	FullName  string
	Email     string
	Company   string
	Title     string
	Lead      models.Lead
	// Custom merges the lead's custom fields with the step's custom data; the step wins.
	Custom map[string]any
}

func newTemplateData(lead models.Lead, stepData map[string]any) TemplateData {
	custom := make(map[string]any, len(lead.CustomFields)+len(stepData))
	for k, v := range lead.CustomFields {
		custom[k] = v
	}
	for k, v := range stepData {
		custom[k] = v
	}

	return TemplateData{
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		FullName:  strings.TrimSpace(lead.FirstName + " " + lead.LastName),
		Email:     lead.Email,
		Company:   lead.Company,
		Title:     lead.Title,
		Lead:      lead,
		Custom:    custom,
	}
}

// Render produces the subject (plain text) and HTML body of tmpl for data.
func Render(tmpl models.Template, data TemplateData) (subject, body string, err error) {
	st, err := texttemplate.New("subject").Option("missingkey=zero").Parse(tmpl.Subject)
	if err != nil {
		return "", "", fmt.Errorf("parse subject of template %d: %w", tmpl.ID, err)
	}
	bt, err := htmltemplate.New("body").Option("missingkey=zero").Parse(tmpl.Body)
	if err != nil {
		return "", "", fmt.Errorf("parse body of template %d: %w", tmpl.ID, err)
	}

	var sb, bb bytes.Buffer
	if err := st.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject of template %d: %w", tmpl.ID, err)
	}
	if err := bt.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body of template %d: %w", tmpl.ID, err)
	}

	return strings.TrimSpace(sb.String()), bb.String(), nil
}
