package adapter

import (
	"go/ast"
	"strings"
)

const ignoreDirective = "autocov:ignore"

// isIgnoreDirective reports whether a comment is an //autocov:ignore marker.
func isIgnoreDirective(commentText string) bool {
	s := strings.TrimSpace(commentText)
	if strings.HasPrefix(s, "//") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "//"))
	} else if strings.HasPrefix(s, "/*") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "/*"))
		s = strings.TrimSpace(strings.TrimSuffix(s, "*/"))
	}

	return strings.HasPrefix(s, ignoreDirective)
}

func groupHasDirective(group *ast.CommentGroup) bool {
	if group == nil {
		return false
	}

	for _, c := range group.List {
		if isIgnoreDirective(c.Text) {
			return true
		}
	}

	return false
}

// fileIgnored reports whether a directive precedes the package clause.
func fileIgnored(file *ast.File) bool {
	for _, group := range file.Comments {
		if group.End() >= file.Package {
			continue
		}

		if groupHasDirective(group) {
			return true
		}
	}

	return false
}

// funcIgnored reports whether the function's doc comment carries a directive.
func funcIgnored(fd *ast.FuncDecl) bool {
	return groupHasDirective(fd.Doc)
}
