package domain

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/mouse-blink/autocov/internal/adapter"
)

// Errors a raw completion can be discarded for.
var (
	ErrNotGo       = errors.New("completion is not parsable Go")
	ErrNoTestFunc  = errors.New("completion declares no TestXxx(*testing.T) function")
	ErrHasTestMain = errors.New("completion declares TestMain")
)

// processedTest is a completion turned into a mergeable test file.
type processedTest struct {
	Source    []byte
	TestNames []string
}

// postProcess normalizes one raw completion: it strips code fences, forces
// the package clause (keeping pkg_test), checks for at least one test function, suffixes every
// top-level declaration so candidates never collide, and formats the file.
func postProcess(raw, pkg, suffix string) (processedTest, error) {
	code := raw
	if blocks := adapter.SplitCodeBlocks(raw); len(blocks) > 0 {
		code = blocks[0]
	}

	fset := token.NewFileSet()

	file, err := parser.ParseFile(fset, "candidate_test.go", code, parser.ParseComments)
	if err != nil && !strings.HasPrefix(strings.TrimSpace(code), "package ") {
		file, err = parser.ParseFile(fset, "candidate_test.go", "package "+pkg+"\n\n"+code, parser.ParseComments)
	}

	if err != nil {
		return processedTest{}, fmt.Errorf("%w: %w", ErrNotGo, err)
	}

	// an external test package of pkg stays external
	if file.Name.Name != pkg+"_test" {
		file.Name.Name = pkg
	}

	renames, tests, err := topLevelRenames(file, suffix)
	if err != nil {
		return processedTest{}, err
	}

	if len(tests) == 0 {
		return processedTest{}, ErrNoTestFunc
	}

	astutil.Apply(file, func(c *astutil.Cursor) bool {
		ident, ok := c.Node().(*ast.Ident)
		if !ok {
			return true
		}

		if _, isSel := c.Parent().(*ast.SelectorExpr); isSel && c.Name() == "Sel" {
			return true
		}

		if renamed, ok := renames[ident.Name]; ok {
			ident.Name = renamed
		}

		return true
	}, nil)

	astutil.AddImport(fset, file, "testing")

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return processedTest{}, fmt.Errorf("%w: %w", ErrNotGo, err)
	}

	return processedTest{Source: buf.Bytes(), TestNames: tests}, nil
}

// topLevelRenames maps every top-level name to its suffixed form and lists
// the renamed test functions.
func topLevelRenames(file *ast.File, suffix string) (map[string]string, []string, error) {
	renames := make(map[string]string)

	var tests []string

	add := func(name string) {
		if name == "_" || name == "init" {
			return
		}

		renames[name] = name + "_" + suffix
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv != nil {
				continue
			}

			if d.Name.Name == "TestMain" {
				return nil, nil, ErrHasTestMain
			}

			add(d.Name.Name)

			if isTestFunc(d) {
				tests = append(tests, renames[d.Name.Name])
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					add(s.Name.Name)
				case *ast.ValueSpec:
					for _, name := range s.Names {
						add(name.Name)
					}
				}
			}
		}
	}

	return renames, tests, nil
}

// isTestFunc reports whether fd has the go test shape TestXxx(t *testing.T).
func isTestFunc(fd *ast.FuncDecl) bool {
	name := fd.Name.Name
	if !strings.HasPrefix(name, "Test") {
		return false
	}

	if rest := name[len("Test"):]; rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if unicode.IsLower(r) {
			return false
		}
	}

	params := fd.Type.Params.List
	if len(params) != 1 || len(params[0].Names) > 1 || fd.Type.Results != nil {
		return false
	}

	star, ok := params[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}

	sel, ok := star.X.(*ast.SelectorExpr)

	return ok && sel.Sel.Name == "T"
}
