package steps

import (
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const (
	leftDelim  = "${{"
	rightDelim = "}}"
)

// TemplateData is what ${{ }} templates can reference. Each section is
// reachable both as a function (matrix.target) and as data (.matrix.target).
type TemplateData struct {
	Matrix map[string]string
	Env    map[string]string
	Event  map[string]string
	// Needs maps a job ID to its fields, currently only "result".
	Needs map[string]map[string]string
}

func (d TemplateData) asMap() map[string]any {
	return map[string]any{
		"matrix": d.Matrix,
		"env":    d.Env,
		"event":  d.Event,
		"needs":  d.Needs,
	}
}

func (d TemplateData) funcs() template.FuncMap {
	fm := sprig.TxtFuncMap()
	maps.Copy(fm, template.FuncMap{
		"matrix": func() map[string]string { return d.Matrix },
		"env":    func() map[string]string { return d.Env },
		"event":  func() map[string]string { return d.Event },
		"needs":  func() map[string]map[string]string { return d.Needs },
	})
	return fm
}

// Render expands ${{ }} templates in text. A reference to anything that is
// not defined fails with ErrUnresolvedTemplate.
func Render(name, text string, data TemplateData) (string, error) {
	if !strings.Contains(text, leftDelim) {
		return text, nil
	}

	tmpl, err := template.New(name).
		Delims(leftDelim, rightDelim).
		Option("missingkey=error").
		Funcs(data.funcs()).
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: parsing %s: %v", ErrUnresolvedTemplate, name, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data.asMap()); err != nil {
		return "", fmt.Errorf("%w: rendering %s: %v", ErrUnresolvedTemplate, name, err)
	}
	return buf.String(), nil
}
