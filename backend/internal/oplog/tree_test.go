package oplog

import (
	"reflect"
	"testing"
)

func TestSetPath_CreatesIntermediateNodes(t *testing.T) {
	tree := map[string]any{}
	setPath(tree, "a.b.c", 42)

	got, ok := getPath(tree, "a.b.c")
	if !ok || got != 42 {
		t.Fatalf("getPath = %v, %t; want 42, true", got, ok)
	}
}

func TestDeletePath_MissingIsNoop(t *testing.T) {
	tree := map[string]any{"a": map[string]any{"b": 1}}
	deletePath(tree, "a.x.y")
	deletePath(tree, "a.b")

	if _, ok := getPath(tree, "a.b"); ok {
		t.Fatalf("a.b survived delete: %v", tree)
	}
}

func TestFlatten(t *testing.T) {
	tree := map[string]any{
		"title": "model",
		"assumptions": map[string]any{
			"wacc":   0.08,
			"growth": map[string]any{"terminal": 0.02},
		},
		"empty": map[string]any{},
	}
	got := Flatten(tree)
	want := map[string]any{
		"title":                       "model",
		"assumptions.wacc":            0.08,
		"assumptions.growth.terminal": 0.02,
		// 空 map 当叶子保留
		"empty": map[string]any{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Flatten = %v, want %v", got, want)
	}
}

func TestDeepCopyMap_Isolated(t *testing.T) {
	src := map[string]any{"list": []any{1, 2}, "nested": map[string]any{"x": 1}}
	dup := deepCopyMap(src)

	dup["nested"].(map[string]any)["x"] = 99
	dup["list"].([]any)[0] = 99

	if src["nested"].(map[string]any)["x"] != 1 || src["list"].([]any)[0] != 1 {
		t.Fatalf("copy leaked into source: %v", src)
	}
}
