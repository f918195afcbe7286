package entity

import "strings"

// retiredToolNames maps a retired tool name to the name it was
// replaced by. The resolver applies this before filtering an entity's
// tool list, so an entity config written against an old name keeps
// working after a tool is renamed.
var retiredToolNames = map[string]string{
	"generateimage":   "createmedia",
	"generatevideo":   "createmedia",
	"searchweb":       "websearch",
	"readfile":        "fileread",
	"writefile":       "filewrite",
	"sendmessage":     "messagesend",
	"scheduletask":    "taskschedule",
}

// migrateToolName resolves a (lowercased) tool name through the
// retirement table, returning it unchanged if it was never retired.
func migrateToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if current, ok := retiredToolNames[name]; ok {
		return current
	}
	return name
}

// MigrateToolNames applies the retired-tool-name table across a list,
// exported for the migrate-entities CLI command to run the same
// migration the resolver applies at request time as a one-off batch
// rewrite over persisted entities.
func MigrateToolNames(names []string) []string {
	return migrateToolNames(names)
}

// migrateToolNames applies migrateToolName across a list and coalesces
// duplicates that result from two retired names converging on one
// current name, preserving first-seen order.
func migrateToolNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		migrated := migrateToolName(n)
		if migrated == "" {
			continue
		}
		if _, ok := seen[migrated]; ok {
			continue
		}
		seen[migrated] = struct{}{}
		out = append(out, migrated)
	}
	return out
}
