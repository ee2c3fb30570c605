package expr

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

//nolint:govet // Participle DSL uses unkeyed fields
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{"Whitespace", `[ \t\r\n]+`},
	{"String", `'[^']*'|"[^"]*"`},
	{"Number", `[0-9]+(\.[0-9]+)?`},
	{"Ident", `[A-Za-z_][A-Za-z0-9_]*`},
	{"Operator", `\|\||&&|==|!=|<=|>=|[<>!+]`},
	{"Punct", `[().]`},
})

// Boolean captures true/false keyword tokens.
type Boolean bool

// Capture implements participle's Capture interface.
func (b *Boolean) Capture(values []string) error {
	*b = values[0] == "true"
	return nil
}

// StringLit captures a quoted string literal, stripping the surrounding
// quotes. Both 'single' and "double" quoting are accepted; escape sequences
// are not supported.
type StringLit string

// Capture implements participle's Capture interface.
func (s *StringLit) Capture(values []string) error {
	raw := values[0]
	*s = StringLit(raw[1 : len(raw)-1])
	return nil
}

// Grammar, highest node first. Precedence from loosest to tightest:
// || then && then ! then comparison then + then primary.

//nolint:govet // Participle struct tags are DSL, not reflect tags
type expression struct {
	Left *conjunction   `@@`
	Rest []*conjunction `( "||" @@ )*`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type conjunction struct {
	Left *unary   `@@`
	Rest []*unary `( "&&" @@ )*`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type unary struct {
	Not  *unary      `  "!" @@`
	Comp *comparison `| @@`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type comparison struct {
	Left  *additive `@@`
	Op    string    `[ @("==" | "!=" | "<=" | ">=" | "<" | ">")`
	Right *additive `  @@ ]`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type additive struct {
	Left *primary   `@@`
	Rest []*primary `( "+" @@ )*`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type primary struct {
	String   *StringLit  `  @String`
	Number   *float64    `| @Number`
	Bool     *Boolean    `| @("true" | "false")`
	Null     bool        `| @"null"`
	Sub      *expression `| "(" @@ ")"`
	Selector *selector   `| @@`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type selector struct {
	Root string   `@Ident`
	Path []string `( "." @Ident )*`
}

var parser = mustBuildParser()

func mustBuildParser() *participle.Parser[expression] {
	p, err := participle.Build[expression](
		participle.Lexer(exprLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to build expression parser: %v", err))
	}
	return p
}
