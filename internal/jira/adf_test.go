package jira

import (
	"encoding/json"
	"strings"
	"testing"
)

func docContent(t *testing.T, doc map[string]any) []map[string]any {
	t.Helper()
	raw, ok := doc["content"].([]adfNode)
	if !ok {
		t.Fatalf("doc content has unexpected type %T", doc["content"])
	}
	blocks := make([]map[string]any, len(raw))
	for i, b := range raw {
		blocks[i] = b
	}
	return blocks
}

func TestMarkdownToADFHeadingAndParagraph(t *testing.T) {
	doc := MarkdownToADF("## Release notes\n\nShipped the importer.")

	blocks := docContent(t, doc)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0]["type"] != "heading" {
		t.Fatalf("expected heading, got %v", blocks[0]["type"])
	}
	attrs := blocks[0]["attrs"].(adfNode)
	if attrs["level"] != 2 {
		t.Fatalf("expected level 2, got %v", attrs["level"])
	}
	if blocks[1]["type"] != "paragraph" {
		t.Fatalf("expected paragraph, got %v", blocks[1]["type"])
	}
}

func TestMarkdownToADFBulletList(t *testing.T) {
	doc := MarkdownToADF("- first\n- second\n")

	blocks := docContent(t, doc)
	if len(blocks) != 1 || blocks[0]["type"] != "bulletList" {
		t.Fatalf("expected single bulletList, got %v", blocks)
	}
	items := blocks[0]["content"].([]adfNode)
	if len(items) != 2 {
		t.Fatalf("expected 2 list items, got %d", len(items))
	}
}

func TestMarkdownToADFStrongMark(t *testing.T) {
	doc := MarkdownToADF("this is **important** work")

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatal("ADF doc must serialize to valid JSON")
	}
	text := string(raw)
	if want := `"type":"strong"`; !strings.Contains(text, want) {
		t.Fatalf("expected strong mark in %s", text)
	}
}

func TestMarkdownToADFEmptyInput(t *testing.T) {
	doc := MarkdownToADF("")
	blocks := docContent(t, doc)
	if len(blocks) != 1 || blocks[0]["type"] != "paragraph" {
		t.Fatalf("empty input should yield one paragraph, got %v", blocks)
	}
}

func TestADFToTextRoundTrip(t *testing.T) {
	doc := MarkdownToADF("First line.\n\n- alpha\n- beta\n")
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}

	text := adfToText(raw)
	for _, want := range []string{"First line.", "alpha", "beta"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in extracted text %q", want, text)
		}
	}
}
