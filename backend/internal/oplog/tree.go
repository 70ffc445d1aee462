package oplog

import (
	"collabCore/backend/internal/op"
)

// 文档树：map 节点按键寻址，[]any 节点按下标寻址（insert 支持按位置拼接）

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopyMap(x)
	case []any:
		dup := make([]any, len(x))
		for i, e := range x {
			dup[i] = deepCopyValue(e)
		}
		return dup
	default:
		return x
	}
}

func getPath(tree map[string]any, path string) (any, bool) {
	parts := op.SplitPath(path)
	cur := any(tree)
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// descend 走到 path 的父节点，中间缺失的节点补成 map
func descend(tree map[string]any, parts []string) map[string]any {
	cur := tree
	for _, p := range parts {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	return cur
}

func setPath(tree map[string]any, path string, value any) {
	parts := op.SplitPath(path)
	parent := descend(tree, parts[:len(parts)-1])
	parent[parts[len(parts)-1]] = value
}

// insertPath：叶子是 []any 时按 index 拼入，保持兄弟顺序；否则等同于 setPath
func insertPath(tree map[string]any, path string, index int, value any) {
	parts := op.SplitPath(path)
	parent := descend(tree, parts[:len(parts)-1])
	leaf := parts[len(parts)-1]

	if list, ok := parent[leaf].([]any); ok {
		if index < 0 || index > len(list) {
			index = len(list)
		}
		list = append(list, nil)
		copy(list[index+1:], list[index:])
		list[index] = value
		parent[leaf] = list
		return
	}
	parent[leaf] = value
}

func deletePath(tree map[string]any, path string) {
	parts := op.SplitPath(path)
	cur := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// Flatten 把树压成 点分路径 -> 叶子值，供版本仓库做差异比较
func Flatten(tree map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out map[string]any, prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok && len(child) > 0 {
			flattenInto(out, key, child)
			continue
		}
		out[key] = v
	}
}
