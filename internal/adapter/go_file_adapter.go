package adapter

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"path/filepath"
	"sort"

	m "github.com/mouse-blink/autocov/internal/model"
)

// GoFileAdapter encapsulates Go-specific parsing and scope detection so the
// domain layer can focus on coverage rules while delegating compilation
// details to an infrastructure component.
type GoFileAdapter interface {
	// Parse builds an AST using the provided file set and optional source bytes.
	Parse(fileSet *token.FileSet, filename string, src []byte) (*ast.File, error)

	// Index parses every file (project-relative) under root and extracts
	// scopes, call names and package-level references.
	Index(root m.Path, files []m.Path) (m.SourceIndex, error)
}

// LocalGoFileAdapter provides a concrete GoFileAdapter backed by go/parser.
type LocalGoFileAdapter struct {
	fs SourceFSAdapter
}

// NewLocalGoFileAdapter constructs a LocalGoFileAdapter.
func NewLocalGoFileAdapter(fs SourceFSAdapter) *LocalGoFileAdapter {
	return &LocalGoFileAdapter{fs: fs}
}

// Parse builds an AST for the provided filename/source pair.
func (a *LocalGoFileAdapter) Parse(fileSet *token.FileSet, filename string, src []byte) (*ast.File, error) {
	return parser.ParseFile(fileSet, filename, src, parser.ParseComments)
}

type parsedFile struct {
	rel  m.Path
	file *ast.File
}

// Index parses files in two passes: the first collects package-level value
// names per package directory, the second extracts scopes against them.
// Unreadable or unparsable files are indexed without scopes.
func (a *LocalGoFileAdapter) Index(root m.Path, files []m.Path) (m.SourceIndex, error) {
	fset := token.NewFileSet()
	index := make(m.SourceIndex, len(files))
	values := make(map[m.Path]map[string]struct{})

	var parsed []parsedFile

	for _, rel := range files {
		dir := m.Path(path.Dir(string(rel)))
		index[rel] = m.FileSource{Path: rel, PackageDir: dir}

		src, err := a.fs.ReadFile(m.Path(filepath.Join(string(root), filepath.FromSlash(string(rel)))))
		if err != nil {
			continue
		}

		file, err := a.Parse(fset, string(rel), src)
		if err != nil || file.Name == nil {
			continue
		}

		if values[dir] == nil {
			values[dir] = make(map[string]struct{})
		}

		collectValueNames(file, values[dir])

		parsed = append(parsed, parsedFile{rel: rel, file: file})
	}

	for _, pf := range parsed {
		fs := index[pf.rel]
		fs.Package = pf.file.Name.Name
		fs.Scopes = ExtractScopes(fset, pf.file, values[fs.PackageDir])
		index[pf.rel] = fs
	}

	return index, nil
}

// collectValueNames records package-level var and const names.
func collectValueNames(file *ast.File, into map[string]struct{}) {
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || (gd.Tok != token.VAR && gd.Tok != token.CONST) {
			continue
		}

		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}

			for _, name := range vs.Names {
				if name.Name != "_" {
					into[name.Name] = struct{}{}
				}
			}
		}
	}
}

// ExtractScopes returns one scope per package-level declaration. values holds
// the package-level var/const names used to compute Refs.
func ExtractScopes(fset *token.FileSet, file *ast.File, values map[string]struct{}) []m.CodeScope {
	imports := importNames(file)
	ignoreAll := fileIgnored(file)

	var scopes []m.CodeScope

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				continue
			}

			scopes = append(scopes, m.CodeScope{
				Type:      m.ScopeGlobal,
				StartLine: fset.Position(d.Pos()).Line,
				EndLine:   fset.Position(d.End()).Line,
				Name:      genDeclName(d),
				Ignored:   ignoreAll,
			})
		case *ast.FuncDecl:
			scopeType := m.ScopeFunction
			if d.Recv == nil && d.Name.Name == "init" {
				scopeType = m.ScopeInit
			}

			scopes = append(scopes, m.CodeScope{
				Type:      scopeType,
				StartLine: fset.Position(d.Pos()).Line,
				EndLine:   fset.Position(d.End()).Line,
				Name:      funcName(d),
				Calls:     callNames(d.Body, imports),
				Refs:      refNames(d.Body, values),
				Ignored:   ignoreAll || funcIgnored(d),
			})
		}
	}

	return scopes
}

func funcName(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return fd.Name.Name
	}

	return receiverTypeName(fd.Recv.List[0].Type) + "." + fd.Name.Name
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return "?"
	}
}

func genDeclName(gd *ast.GenDecl) string {
	if len(gd.Specs) == 0 {
		return gd.Tok.String()
	}

	switch s := gd.Specs[0].(type) {
	case *ast.ValueSpec:
		if len(s.Names) > 0 {
			return s.Names[0].Name
		}
	case *ast.TypeSpec:
		return s.Name.Name
	}

	return gd.Tok.String()
}

// importNames returns the local names of the file's imports.
func importNames(file *ast.File) map[string]struct{} {
	names := make(map[string]struct{}, len(file.Imports))

	for _, imp := range file.Imports {
		if imp.Name != nil {
			names[imp.Name.Name] = struct{}{}
			continue
		}

		p := imp.Path.Value
		if len(p) >= 2 {
			p = p[1 : len(p)-1]
		}

		names[path.Base(p)] = struct{}{}
	}

	return names
}

// callNames lists callee names in body, skipping calls qualified by an
// imported package.
func callNames(body *ast.BlockStmt, imports map[string]struct{}) []string {
	if body == nil {
		return nil
	}

	set := make(map[string]struct{})

	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}

		switch fn := call.Fun.(type) {
		case *ast.Ident:
			set[fn.Name] = struct{}{}
		case *ast.SelectorExpr:
			if x, ok := fn.X.(*ast.Ident); ok {
				if _, isPkg := imports[x.Name]; isPkg {
					return true
				}
			}

			set[fn.Sel.Name] = struct{}{}
		}

		return true
	})

	return sortedSet(set)
}

// refNames lists package-level values referenced in body.
func refNames(body *ast.BlockStmt, values map[string]struct{}) []string {
	if body == nil || len(values) == 0 {
		return nil
	}

	set := make(map[string]struct{})
	selectors := make(map[*ast.Ident]struct{})

	ast.Inspect(body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.SelectorExpr:
			selectors[x.Sel] = struct{}{}
		case *ast.Ident:
			if _, isSel := selectors[x]; isSel {
				return true
			}

			if _, ok := values[x.Name]; ok {
				set[x.Name] = struct{}{}
			}
		}

		return true
	})

	return sortedSet(set)
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
