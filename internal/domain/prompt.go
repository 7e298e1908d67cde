package domain

import (
	"strings"
	"text/template"
)

const promptText = `Write Go unit tests for package {{.Package}} (directory {{.PackageDir}}).
The test file must start with "package {{.Package}}" and use only the standard "testing" package
plus imports the code below already uses. Test functions must be named TestXxx(t *testing.T).
Cover the lines marked ">>", which no existing test executes. Do not modify production code.
Return up to {{.Candidates}} alternative test files, each in its own ` + "```go" + ` block.

Code to cover:
{{range .Snippets}}
// {{.File}}{{if .Scope}} ({{.Scope}}){{end}}, lines {{.StartLine}}-{{.EndLine}}
{{.Code}}{{end}}
{{- if .ExistingTests}}
Existing tests in this package (do not duplicate their function names):
{{range .ExistingTests}}
// {{.Name}}
{{.Content}}
{{end}}{{end}}
{{- if .Summary}}
Project layout:
{{range .Summary}}- {{.Path}}{{if .Functions}}: {{join .Functions}}{{end}}
{{end}}{{end}}`

var promptTemplate = template.Must(template.New("prompt").
	Funcs(template.FuncMap{"join": func(s []string) string { return strings.Join(s, ", ") }}).
	Parse(promptText))

type promptData struct {
	CodeContext
	Candidates int
}

// BuildPrompt renders the generation prompt for a target's context.
func BuildPrompt(cc CodeContext, candidates int) (string, error) {
	var sb strings.Builder

	if err := promptTemplate.Execute(&sb, promptData{CodeContext: cc, Candidates: candidates}); err != nil {
		return "", err
	}

	return sb.String(), nil
}
