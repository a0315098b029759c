package store

import (
	"fmt"
	"regexp"
	"strings"
)

// Tool sub-segments are cut out of the parent document before compression
// and stored in their own namespace. The marker left behind carries
// everything needed to rehydrate the segment at its original path.

const toolRefMarker = "__tool_ref__"

var toolNameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// sanitizeToolName maps a tool name onto the [a-z0-9_]+ namespace used for
// the per-tool payload tables.
func sanitizeToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = toolNameSanitizer.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "unknown_tool"
	}
	return name
}

type extractedSegment struct {
	Tool string
	Path string
	Body map[string]any
}

// extractToolSegments removes every tool-shaped sub-segment from the
// document, replacing each with a reference marker, and returns the
// segments. A node qualifies when it carries a tool_name field, or when it
// is a direct child of a tools / tool_metrics container (the child key
// then names the tool).
func extractToolSegments(doc map[string]any) []extractedSegment {
	var segments []extractedSegment
	walkExtract(doc, "", &segments)
	return segments
}

func walkExtract(node map[string]any, path string, segments *[]extractedSegment) {
	for key, value := range node {
		childPath := path + "/" + escapePointer(key)

		child, isMap := value.(map[string]any)
		if !isMap {
			if list, isList := value.([]any); isList {
				for i, elem := range list {
					if elemMap, ok := elem.(map[string]any); ok {
						elemPath := fmt.Sprintf("%s/%d", childPath, i)
						if tool := toolNameField(elemMap); tool != "" {
							list[i] = marker(tool, elemPath)
							*segments = append(*segments, extractedSegment{Tool: tool, Path: elemPath, Body: elemMap})
							continue
						}
						walkExtract(elemMap, elemPath, segments)
					}
				}
			}
			continue
		}

		if isToolContainer(key) {
			for toolKey, toolValue := range child {
				toolBody, ok := toolValue.(map[string]any)
				if !ok {
					continue
				}
				toolPath := childPath + "/" + escapePointer(toolKey)
				child[toolKey] = marker(toolKey, toolPath)
				*segments = append(*segments, extractedSegment{Tool: toolKey, Path: toolPath, Body: toolBody})
			}
			continue
		}

		if tool := toolNameField(child); tool != "" {
			node[key] = marker(tool, childPath)
			*segments = append(*segments, extractedSegment{Tool: tool, Path: childPath, Body: child})
			continue
		}

		walkExtract(child, childPath, segments)
	}
}

func isToolContainer(key string) bool {
	return key == "tools" || key == "tool_metrics"
}

func toolNameField(node map[string]any) string {
	tool, _ := node["tool_name"].(string)
	return tool
}

func marker(tool, path string) map[string]any {
	return map[string]any{
		toolRefMarker: true,
		"tool":        tool,
		"path":        path,
	}
}

// rehydrate walks the document and replaces every reference marker with
// the payload the resolver returns for its path.
func rehydrate(node any, resolve func(path string) (map[string]any, error)) (any, error) {
	switch typed := node.(type) {
	case map[string]any:
		if isRef, _ := typed[toolRefMarker].(bool); isRef {
			path, _ := typed["path"].(string)
			return resolve(path)
		}
		for key, value := range typed {
			replaced, err := rehydrate(value, resolve)
			if err != nil {
				return nil, err
			}
			typed[key] = replaced
		}
		return typed, nil
	case []any:
		for i, elem := range typed {
			replaced, err := rehydrate(elem, resolve)
			if err != nil {
				return nil, err
			}
			typed[i] = replaced
		}
		return typed, nil
	default:
		return node, nil
	}
}

// escapePointer escapes a key for use in a JSON-pointer style path.
func escapePointer(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	return strings.ReplaceAll(key, "/", "~1")
}
