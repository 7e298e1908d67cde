package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouse-blink/autocov/internal/adapter"
	m "github.com/mouse-blink/autocov/internal/model"
)

const shopSource = `package shop

var total int

func Add(n int) {
	if n < 0 {
		return
	}
	total += n
}
`

func TestContextBuilder_Build(t *testing.T) {
	root := writeProject(t, map[string]string{
		"go.mod":             "module example.com/shop\n",
		"shop/shop.go":       shopSource,
		"shop/shop_test.go":  "package shop\n\nfunc TestAdd(t *testing.T) { Add(1) }\n",
		"shop/other_test.go": strings.Repeat("// filler\n", 5),
	})

	fs := adapter.NewLocalSourceFSAdapter()
	index, err := adapter.NewLocalGoFileAdapter(fs).Index(root, []m.Path{"shop/shop.go"})
	require.NoError(t, err)

	region := m.Region{ID: "shop/shop.go:7-7", File: "shop/shop.go", Scope: "Add", StartLine: 7, EndLine: 7, Lines: []int{7}}
	target := m.NewTarget([]m.Region{region}, false)

	cc, err := NewContextBuilder(fs).Build(root, index, target)
	require.NoError(t, err)

	assert.Equal(t, "shop", cc.Package)
	assert.Equal(t, m.Path("shop"), cc.PackageDir)

	require.Len(t, cc.Snippets, 1)
	snippet := cc.Snippets[0]
	assert.Equal(t, 5, snippet.StartLine)
	assert.Equal(t, 10, snippet.EndLine)
	assert.Contains(t, snippet.Code, ">>    7 | \t\treturn")
	assert.Contains(t, snippet.Code, "      9 | \ttotal += n")

	require.Len(t, cc.ExistingTests, 2)
	assert.Equal(t, "shop/other_test.go", cc.ExistingTests[0].Name)
	assert.Equal(t, "shop/shop_test.go", cc.ExistingTests[1].Name)

	require.Len(t, cc.Summary, 1)
	assert.Equal(t, []string{"Add"}, cc.Summary[0].Functions)
}

func TestContextBuilder_MissingFile(t *testing.T) {
	fs := adapter.NewLocalSourceFSAdapter()
	target := m.NewTarget([]m.Region{{ID: "gone.go:1-1", File: "gone.go", StartLine: 1, EndLine: 1, Lines: []int{1}}}, false)

	_, err := NewContextBuilder(fs).Build(m.Path(t.TempDir()), m.SourceIndex{}, target)

	require.Error(t, err)
}

func TestRenderSnippet_PadsWithoutScope(t *testing.T) {
	lines := strings.Split("a\nb\nc\nd\ne\nf\ng\nh\ni\nj", "\n")
	region := m.Region{File: "x.go", StartLine: 2, EndLine: 2, Lines: []int{2}}

	s := renderSnippet(region, m.FileSource{}, lines)

	assert.Equal(t, 1, s.StartLine)
	assert.Equal(t, 5, s.EndLine)
	assert.Equal(t, "      1 | a\n>>    2 | b\n      3 | c\n      4 | d\n      5 | e\n", s.Code)
}

func TestBuildPrompt(t *testing.T) {
	cc := CodeContext{
		Package:    "shop",
		PackageDir: "shop",
		Snippets: []Snippet{
			{File: "shop/shop.go", Scope: "Add", StartLine: 5, EndLine: 10, Code: ">>    7 | \t\treturn\n"},
		},
		ExistingTests: []TestFile{{Name: "shop_test.go", Content: "package shop\n"}},
		Summary:       []FileSummary{{Path: "shop/shop.go", Functions: []string{"Add", "Remove"}}},
	}

	prompt, err := BuildPrompt(cc, 3)
	require.NoError(t, err)

	assert.Contains(t, prompt, "package shop")
	assert.Contains(t, prompt, "Return up to 3 alternative test files")
	assert.Contains(t, prompt, "// shop/shop.go (Add), lines 5-10")
	assert.Contains(t, prompt, ">>    7 |")
	assert.Contains(t, prompt, "// shop_test.go")
	assert.Contains(t, prompt, "- shop/shop.go: Add, Remove")
}

func TestBuildPrompt_Minimal(t *testing.T) {
	prompt, err := BuildPrompt(CodeContext{Package: "p", PackageDir: "."}, 1)

	require.NoError(t, err)
	assert.NotContains(t, prompt, "Existing tests")
	assert.NotContains(t, prompt, "Project layout")
}
