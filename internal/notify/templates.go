package notify

import (
	"fmt"
	"strings"
	txttemplate "text/template"

	htmltemplate "html/template"
)

var emailHTMLTemplate = htmltemplate.Must(htmltemplate.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, 'Segoe UI', Helvetica, Arial, sans-serif; color: #24292e;">
  <h2 style="margin-bottom: 4px;">{{.TaskName}}</h2>
  <p style="margin-top: 0; color: #586069;">
    Updates detected on <a href="{{.SiteURL}}">{{.SiteName}}</a>
    at {{.GeneratedAt.Format "2006-01-02 15:04"}}
  </p>
  <table cellpadding="0" cellspacing="0" style="border-collapse: collapse; width: 100%;">
  {{range .Items}}
    <tr style="border-bottom: 1px solid #e1e4e8;">
      {{if .ImageURL}}<td style="padding: 10px 8px; width: 96px;">
        <img src="{{.ImageURL}}" alt="" width="88" style="border-radius: 4px;">
      </td>{{end}}
      <td style="padding: 10px 8px;">
        <a href="{{.URL}}" style="font-weight: 600; text-decoration: none;">{{.Title}}</a>
        {{if .Summary}}<div style="font-size: 13px; margin-top: 4px;">{{.Summary}}</div>{{end}}
        <div style="color: #586069; font-size: 13px; margin-top: 2px;">
          matched: {{range $i, $p := .Phrases}}{{if $i}}, {{end}}{{$p}}{{end}}
          (score {{printf "%.2f" .Score}})
        </div>
      </td>
    </tr>
  {{end}}
  </table>
</body>
</html>
`))

var emailTextTemplate = txttemplate.Must(txttemplate.New("digest").Parse(`{{.TaskName}}

Updates detected on {{.SiteName}} ({{.SiteURL}}) at {{.GeneratedAt.Format "2006-01-02 15:04"}}:
{{range .Items}}
* {{.Title}}
  {{.URL}}
{{- if .Summary}}
  {{.Summary}}
{{- end}}
  matched: {{range $i, $p := .Phrases}}{{if $i}}, {{end}}{{$p}}{{end}} (score {{printf "%.2f" .Score}})
{{end}}`))

// Subject builds the one-line email subject for a digest.
func Subject(d Digest) string {
	return fmt.Sprintf("[%s] %d update(s) on %s", d.TaskName, len(d.Items), d.SiteName)
}

// RenderEmailHTML renders the rich email body.
func RenderEmailHTML(d Digest) (string, error) {
	var buf strings.Builder
	if err := emailHTMLTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render html digest: %w", err)
	}
	return buf.String(), nil
}

// RenderEmailText renders the plain-text alternative body.
func RenderEmailText(d Digest) (string, error) {
	var buf strings.Builder
	if err := emailTextTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render text digest: %w", err)
	}
	return buf.String(), nil
}
