package tools

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DescribeKind returns a human readable label for an error kind, such as
// "Unknown Procedure" for KindUnknownProcedure.
func DescribeKind(kind ErrorKind) string {
	if kind == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(kind), "_", " "))
}

// Summary returns a one-line description of a result suitable for progress
// output.
func (r ToolCallResult) Summary() string {
	if r.OK() {
		return "ok"
	}
	if r.Error == nil {
		return "error"
	}
	return DescribeKind(r.Error.Kind) + ": " + r.Error.Message
}
