package jira

import (
	"encoding/json"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ADF node shapes are plain maps; Jira only cares about the JSON structure.
type adfNode = map[string]any

// MarkdownToADF converts agent-produced markdown into an Atlassian Document
// Format document for issue descriptions and comments. Unsupported markdown
// constructs degrade to plain paragraphs rather than failing.
func MarkdownToADF(markdown string) adfNode {
	source := []byte(markdown)
	parser := goldmark.New().Parser()
	doc := parser.Parse(text.NewReader(source))

	var content []adfNode
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if block := blockToADF(node, source); block != nil {
			content = append(content, block)
		}
	}
	if len(content) == 0 {
		content = []adfNode{{
			"type":    "paragraph",
			"content": []adfNode{textNode(markdown, nil)},
		}}
	}

	return adfNode{
		"version": 1,
		"type":    "doc",
		"content": content,
	}
}

func blockToADF(node ast.Node, source []byte) adfNode {
	switch n := node.(type) {
	case *ast.Heading:
		level := n.Level
		if level > 6 {
			level = 6
		}
		return adfNode{
			"type":    "heading",
			"attrs":   adfNode{"level": level},
			"content": inlineContent(n, source, nil),
		}
	case *ast.Paragraph, *ast.TextBlock:
		content := inlineContent(node, source, nil)
		if len(content) == 0 {
			return nil
		}
		return adfNode{"type": "paragraph", "content": content}
	case *ast.List:
		listType := "bulletList"
		if n.IsOrdered() {
			listType = "orderedList"
		}
		var items []adfNode
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			var itemContent []adfNode
			for child := item.FirstChild(); child != nil; child = child.NextSibling() {
				if block := blockToADF(child, source); block != nil {
					itemContent = append(itemContent, block)
				}
			}
			if len(itemContent) == 0 {
				continue
			}
			items = append(items, adfNode{"type": "listItem", "content": itemContent})
		}
		if len(items) == 0 {
			return nil
		}
		return adfNode{"type": listType, "content": items}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var buf strings.Builder
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(source))
		}
		block := adfNode{
			"type":    "codeBlock",
			"content": []adfNode{textNode(strings.TrimRight(buf.String(), "\n"), nil)},
		}
		if fenced, ok := node.(*ast.FencedCodeBlock); ok && fenced.Info != nil {
			if lang := string(fenced.Info.Text(source)); lang != "" {
				block["attrs"] = adfNode{"language": lang}
			}
		}
		return block
	case *ast.Blockquote:
		var inner []adfNode
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			if block := blockToADF(child, source); block != nil {
				inner = append(inner, block)
			}
		}
		if len(inner) == 0 {
			return nil
		}
		return adfNode{"type": "blockquote", "content": inner}
	case *ast.ThematicBreak:
		return adfNode{"type": "rule"}
	default:
		return nil
	}
}

// inlineContent flattens a block's inline children into ADF text nodes,
// carrying the accumulated marks (strong, em, code, link) down the tree.
func inlineContent(block ast.Node, source []byte, marks []adfNode) []adfNode {
	var content []adfNode
	for node := block.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Text:
			value := string(n.Segment.Value(source))
			if value != "" {
				content = append(content, textNode(value, marks))
			}
			if n.SoftLineBreak() || n.HardLineBreak() {
				content = append(content, textNode(" ", marks))
			}
		case *ast.String:
			if len(n.Value) > 0 {
				content = append(content, textNode(string(n.Value), marks))
			}
		case *ast.Emphasis:
			mark := adfNode{"type": "em"}
			if n.Level >= 2 {
				mark = adfNode{"type": "strong"}
			}
			content = append(content, inlineContent(n, source, appendMark(marks, mark))...)
		case *ast.CodeSpan:
			value := string(n.Text(source))
			if value != "" {
				content = append(content, textNode(value, appendMark(marks, adfNode{"type": "code"})))
			}
		case *ast.Link:
			mark := adfNode{"type": "link", "attrs": adfNode{"href": string(n.Destination)}}
			content = append(content, inlineContent(n, source, appendMark(marks, mark))...)
		case *ast.AutoLink:
			url := string(n.URL(source))
			mark := adfNode{"type": "link", "attrs": adfNode{"href": url}}
			content = append(content, textNode(url, appendMark(marks, mark)))
		default:
			content = append(content, inlineContent(node, source, marks)...)
		}
	}
	return content
}

func appendMark(marks []adfNode, mark adfNode) []adfNode {
	return append(append([]adfNode(nil), marks...), mark)
}

func textNode(value string, marks []adfNode) adfNode {
	node := adfNode{"type": "text", "text": value}
	if len(marks) > 0 {
		node["marks"] = marks
	}
	return node
}

// adfToText extracts plain text from an ADF document, one line per block.
// Jira returns descriptions and comments as ADF; the prompts want text.
func adfToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Jira Cloud always sends ADF, but tolerate plain strings.
		var plain string
		if json.Unmarshal(raw, &plain) == nil {
			return plain
		}
		return ""
	}

	var lines []string
	for _, block := range doc.Content {
		if line := collectText(block); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func collectText(raw json.RawMessage) string {
	var node struct {
		Type    string            `json:"type"`
		Text    string            `json:"text"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	if node.Type == "text" {
		return node.Text
	}
	var parts []string
	for _, child := range node.Content {
		if part := collectText(child); part != "" {
			parts = append(parts, part)
		}
	}
	separator := ""
	if node.Type == "bulletList" || node.Type == "orderedList" {
		separator = "\n"
	}
	return strings.Join(parts, separator)
}
