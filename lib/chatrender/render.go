// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatrender turns assistant replies and project files into
// styled terminal text. Markdown is parsed with goldmark (GitHub
// flavor) and code is highlighted with chroma. Output always uses the
// 256-color ANSI profile; callers that want plain text strip it with
// ansi.Strip.
package chatrender

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/huddle-dev/huddle/lib/tui"
)

const (
	chromaFormatter = "terminal256"
	chromaStyle     = "monokai"

	// wrapBreakpoints are the characters besides spaces where long
	// lines may break.
	wrapBreakpoints = " -/,."

	minWidth = 16
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func parser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// Renderer renders at a fixed width with one theme. It is safe for
// concurrent use.
type Renderer struct {
	theme  tui.Theme
	width  int
	styles *lipgloss.Renderer
}

// New returns a Renderer wrapping text at width columns.
func New(theme tui.Theme, width int) *Renderer {
	styles := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(termenv.ANSI256))
	styles.SetColorProfile(termenv.ANSI256)
	return &Renderer{theme: theme, width: max(width, minWidth), styles: styles}
}

// Width returns the wrap width.
func (r *Renderer) Width() int { return r.width }

// Markdown renders Markdown source. Soft line breaks reflow; code
// fences are highlighted by their info string.
func (r *Renderer) Markdown(source string) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	data := []byte(source)
	document := parser().Parser().Parse(text.NewReader(data))
	state := &blockWriter{renderer: r, source: data}
	ast.Walk(document, state.visit)
	return strings.TrimRight(state.out.String(), "\n")
}

// Code renders a whole file, picking the lexer from path and falling
// back to content analysis, then to plain text.
func (r *Renderer) Code(path, contents string) string {
	lexer := lexers.Match(path)
	if lexer == nil {
		lexer = lexers.Analyse(contents)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	highlighted, err := r.highlight(chroma.Coalesce(lexer), contents)
	if err != nil {
		return r.style(r.theme.NormalText).Render(contents)
	}
	return highlighted
}

// Plain renders ordinary chat text wrapped to width.
func (r *Renderer) Plain(body string) string {
	return ansi.Wrap(r.style(r.theme.NormalText).Render(body), r.width, wrapBreakpoints)
}

func (r *Renderer) highlight(lexer chroma.Lexer, code string) (string, error) {
	formatter := formatters.Get(chromaFormatter)
	style := styles.Get(chromaStyle)
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("tokenising: %w", err)
	}
	var out strings.Builder
	if err := formatter.Format(&out, style, iterator); err != nil {
		return "", fmt.Errorf("formatting: %w", err)
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

func (r *Renderer) style(color lipgloss.Color) lipgloss.Style {
	return r.styles.NewStyle().Foreground(color)
}

// blockWriter accumulates output for one Markdown document. Inline
// content collects in line until its block closes and is then wrapped
// to the width left after the indent.
type blockWriter struct {
	renderer *Renderer
	source   []byte

	out    strings.Builder
	line   strings.Builder
	indent []string
	bullet string
	lists  []listLevel

	strong, emphasis, strike int
}

type listLevel struct {
	ordered bool
	next    int
	tight   bool
}

func (w *blockWriter) prefix() string { return strings.Join(w.indent, "") }

func (w *blockWriter) width() int {
	return max(w.renderer.width-ansi.StringWidth(w.prefix()), minWidth/2)
}

// emit writes lines of already styled text under the current indent.
// The first line takes the pending list bullet, if any.
func (w *blockWriter) emit(block string) {
	prefix := w.prefix()
	for index, line := range strings.Split(block, "\n") {
		if index == 0 && w.bullet != "" {
			w.out.WriteString(w.bullet)
			w.bullet = ""
		} else {
			w.out.WriteString(prefix)
		}
		w.out.WriteString(line)
		w.out.WriteByte('\n')
	}
}

// separate ends the previous block with a blank line unless it sits in
// a tight list.
func (w *blockWriter) separate() {
	if w.out.Len() == 0 || w.inTightList() {
		return
	}
	if !strings.HasSuffix(w.out.String(), "\n\n") {
		w.out.WriteByte('\n')
	}
}

func (w *blockWriter) inTightList() bool {
	return len(w.lists) > 0 && w.lists[len(w.lists)-1].tight
}

func (w *blockWriter) flush() {
	content := w.line.String()
	w.line.Reset()
	if strings.TrimSpace(ansi.Strip(content)) == "" {
		return
	}
	w.separate()
	w.emit(ansi.Wrap(content, w.width(), wrapBreakpoints))
}

func (w *blockWriter) inline(content string) {
	style := w.renderer.style(w.renderer.theme.NormalText)
	if w.strong > 0 {
		style = style.Bold(true)
	}
	if w.emphasis > 0 {
		style = style.Italic(true)
	}
	if w.strike > 0 {
		style = style.Strikethrough(true)
	}
	w.line.WriteString(style.Render(content))
}

func (w *blockWriter) lines(node ast.Node) string {
	var out strings.Builder
	segments := node.Lines()
	for index := 0; index < segments.Len(); index++ {
		segment := segments.At(index)
		out.Write(segment.Value(w.source))
	}
	return out.String()
}

func (w *blockWriter) visit(node ast.Node, entering bool) (ast.WalkStatus, error) {
	theme := w.renderer.theme
	switch node := node.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		if !entering {
			w.flush()
		}

	case *ast.Heading:
		if entering {
			return ast.WalkContinue, nil
		}
		content := ansi.Strip(w.line.String())
		w.line.Reset()
		style := w.renderer.style(theme.HeaderForeground).Bold(true)
		if node.Level <= 2 {
			style = style.Underline(true)
		}
		w.separate()
		w.emit(ansi.Wrap(style.Render(content), w.width(), wrapBreakpoints))

	case *ast.FencedCodeBlock:
		language := string(node.Language(w.source))
		w.codeBlock(language, w.lines(node))
		return ast.WalkSkipChildren, nil

	case *ast.CodeBlock:
		w.codeBlock("", w.lines(node))
		return ast.WalkSkipChildren, nil

	case *ast.Blockquote:
		if entering {
			w.indent = append(w.indent, w.renderer.style(theme.BorderColor).Render("│ "))
		} else {
			w.indent = w.indent[:len(w.indent)-1]
		}

	case *ast.List:
		if entering {
			w.separate()
			w.lists = append(w.lists, listLevel{ordered: node.IsOrdered(), next: node.Start, tight: node.IsTight})
		} else {
			w.lists = w.lists[:len(w.lists)-1]
		}

	case *ast.ListItem:
		if entering {
			level := &w.lists[len(w.lists)-1]
			marker := "• "
			if level.ordered {
				marker = fmt.Sprintf("%d. ", level.next)
				level.next++
			}
			w.bullet = w.prefix() + w.renderer.style(theme.FaintText).Render(marker)
			w.indent = append(w.indent, strings.Repeat(" ", ansi.StringWidth(marker)))
		} else {
			w.indent = w.indent[:len(w.indent)-1]
		}

	case *ast.ThematicBreak:
		if entering {
			w.separate()
			w.emit(w.renderer.style(theme.BorderColor).Render(strings.Repeat("─", w.width())))
		}

	case *ast.HTMLBlock:
		if entering {
			raw := strings.TrimSpace(w.lines(node))
			if raw != "" {
				w.separate()
				w.emit(w.renderer.style(theme.FaintText).Render(raw))
			}
		}
		return ast.WalkSkipChildren, nil

	case *ast.Text:
		if entering {
			w.inline(string(node.Segment.Value(w.source)))
			switch {
			case node.HardLineBreak():
				w.line.WriteByte('\n')
			case node.SoftLineBreak():
				w.line.WriteByte(' ')
			}
		}

	case *ast.String:
		if entering {
			w.inline(string(node.Value))
		}

	case *ast.Emphasis:
		delta := 1
		if !entering {
			delta = -1
		}
		if node.Level >= 2 {
			w.strong += delta
		} else {
			w.emphasis += delta
		}

	case *extast.Strikethrough:
		if entering {
			w.strike++
		} else {
			w.strike--
		}

	case *ast.CodeSpan:
		if entering {
			var code strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if leaf, ok := child.(*ast.Text); ok {
					code.Write(leaf.Segment.Value(w.source))
				}
			}
			w.line.WriteString(w.renderer.style(theme.CodeForeground).Render(code.String()))
		}
		return ast.WalkSkipChildren, nil

	case *ast.Link:
		if !entering {
			w.line.WriteString(" " + w.renderer.style(theme.LinkForeground).Render("("+string(node.Destination)+")"))
		}

	case *ast.AutoLink:
		if entering {
			w.line.WriteString(w.renderer.style(theme.LinkForeground).Underline(true).Render(string(node.URL(w.source))))
		}
		return ast.WalkSkipChildren, nil

	case *ast.Image:
		if entering {
			w.line.WriteString(w.renderer.style(theme.FaintText).Render("[image " + string(node.Destination) + "]"))
		}
		return ast.WalkSkipChildren, nil

	case *ast.RawHTML:
		if entering {
			var raw strings.Builder
			for index := 0; index < node.Segments.Len(); index++ {
				segment := node.Segments.At(index)
				raw.Write(segment.Value(w.source))
			}
			w.line.WriteString(w.renderer.style(theme.FaintText).Render(raw.String()))
		}

	case *extast.TaskCheckBox:
		if entering {
			box := "[ ] "
			if node.IsChecked {
				box = "[x] "
			}
			w.line.WriteString(w.renderer.style(theme.FaintText).Render(box))
		}

	case *extast.Table:
		if entering {
			w.table(node)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (w *blockWriter) codeBlock(language, code string) {
	code = strings.TrimRight(code, "\n")
	var highlighted string
	if language != "" {
		var out strings.Builder
		if err := quick.Highlight(&out, code, language, chromaFormatter, chromaStyle); err == nil {
			highlighted = strings.TrimRight(out.String(), "\n")
		}
	}
	if highlighted == "" {
		highlighted = w.renderer.style(w.renderer.theme.CodeForeground).Render(code)
	}
	gutter := w.renderer.style(w.renderer.theme.BorderColor).Render("▏")
	var out strings.Builder
	for index, line := range strings.Split(highlighted, "\n") {
		if index > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(gutter + " " + line)
	}
	w.separate()
	w.emit(out.String())
}

// table renders cells separated by a faint bar. Columns are padded to
// their widest cell; rows wider than the view are truncated.
func (w *blockWriter) table(table *extast.Table) {
	var rows [][]string
	header := -1
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		if _, ok := row.(*extast.TableHeader); ok {
			header = len(rows)
		}
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, ansi.Strip(w.cellText(cell)))
		}
		rows = append(rows, cells)
	}

	var widths []int
	for _, cells := range rows {
		for index, cell := range cells {
			if index == len(widths) {
				widths = append(widths, 0)
			}
			widths[index] = max(widths[index], ansi.StringWidth(cell))
		}
	}

	bar := w.renderer.style(w.renderer.theme.BorderColor).Render(" │ ")
	var out strings.Builder
	for rowIndex, cells := range rows {
		style := w.renderer.style(w.renderer.theme.NormalText)
		if rowIndex == header {
			style = style.Bold(true)
		}
		var parts []string
		for index, cell := range cells {
			parts = append(parts, style.Render(cell+strings.Repeat(" ", widths[index]-ansi.StringWidth(cell))))
		}
		if rowIndex > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(ansi.Truncate(strings.Join(parts, bar), w.width(), "…"))
	}
	w.separate()
	w.emit(out.String())
}

func (w *blockWriter) cellText(cell ast.Node) string {
	saved := w.line.String()
	w.line.Reset()
	for child := cell.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, w.visit)
	}
	content := w.line.String()
	w.line.Reset()
	w.line.WriteString(saved)
	return content
}
