package migrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pders01/ctxsnap/internal/models"
)

// Timestamps written before v2 had no zone and were local wall time.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// conflictNamespace seeds deterministic ids for conflicts recorded before
// they carried one.
var conflictNamespace = uuid.MustParse("3b0f5c1e-8a5d-4f57-9a44-0c7a2f1d6e21")

// DefaultChains returns the built-in migration chains.
func DefaultChains() map[models.Kind]Chain {
	return map[models.Kind]Chain{
		models.KindSnapshot: {
			Current: models.SnapshotSchemaVersion,
			Steps:   map[int]Step{1: snapshotV2},
		},
		models.KindIndex: {
			Current: models.IndexSchemaVersion,
			Steps:   map[int]Step{1: indexV2},
		},
		models.KindSettings: {
			Current: models.SettingsSchemaVersion,
			Steps:   map[int]Step{1: settingsV2},
		},
		models.KindSyncState: {
			Current: models.SyncStateSchemaVersion,
			Steps:   map[int]Step{1: syncStateV2},
		},
		models.KindSyncConflicts: {
			Current: models.SyncConflictsSchemaVersion,
			Steps:   map[int]Step{1: syncConflictsV2},
		},
		models.KindRestoreHistory: {
			Current: models.RestoreHistorySchemaVersion,
			Steps:   map[int]Step{},
		},
	}
}

func snapshotV2(doc map[string]any) (map[string]any, error) {
	if s, _ := doc["id"].(string); strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("snapshot has no id")
	}

	normalizeTime(doc, "created_at")
	if s, _ := doc["updated_at"].(string); s == "" {
		doc["updated_at"] = doc["created_at"]
	}
	normalizeTime(doc, "updated_at")

	if rev, ok := doc["rev"].(float64); !ok || rev < 1 {
		doc["rev"] = float64(1)
	}
	setDefault(doc, "vscode_workspace", "")
	setDefault(doc, "note", "")
	setDefault(doc, "pinned", false)
	setDefault(doc, "archived", false)
	setDefault(doc, "source", models.SourceUser)
	for _, key := range []string{"tags", "recent_files", "processes", "running_apps"} {
		if _, ok := doc[key].([]any); !ok {
			doc[key] = []any{}
		}
	}

	todos, _ := doc["todos"].([]any)
	fixed := make([]any, models.TodoCount)
	for i := range fixed {
		fixed[i] = ""
		if i < len(todos) {
			if s, ok := todos[i].(string); ok {
				fixed[i] = s
			}
		}
	}
	doc["todos"] = fixed

	for _, key := range []string{"processes", "running_apps"} {
		for _, item := range doc[key].([]any) {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if exe, ok := m["exe"]; ok {
				if _, has := m["path"]; !has {
					m["path"] = exe
				}
				delete(m, "exe")
			}
			if title, ok := m["title"]; ok && key == "running_apps" {
				if _, has := m["window_title"]; !has {
					m["window_title"] = title
				}
				delete(m, "title")
			}
		}
	}

	git, ok := doc["git_state"].(map[string]any)
	if !ok {
		git = map[string]any{}
	}
	moveKey(doc, git, "git_branch", "branch")
	moveKey(doc, git, "git_sha", "sha")
	moveKey(doc, git, "git_dirty", "dirty")
	setDefault(git, "branch", "")
	setDefault(git, "sha", "")
	setDefault(git, "dirty", false)
	setDefault(git, "changed", float64(0))
	setDefault(git, "staged", float64(0))
	setDefault(git, "untracked", float64(0))
	doc["git_state"] = git

	doc["schema_version"] = float64(2)
	return doc, nil
}

func indexV2(doc map[string]any) (map[string]any, error) {
	if rev, ok := doc["rev"].(float64); !ok || rev < 1 {
		doc["rev"] = float64(1)
	}
	normalizeTime(doc, "updated_at")

	meta, ok := doc["search_meta"].(map[string]any)
	if !ok {
		meta = map[string]any{"engine": "blob", "version": float64(1)}
	}
	tokens, ok := meta["tokens"].(map[string]any)
	if !ok {
		tokens = map[string]any{}
	}

	entries, _ := doc["snapshots"].([]any)
	kept := make([]any, 0, len(entries))
	for _, item := range entries {
		e, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := e["id"].(string)
		if id == "" {
			continue
		}
		if blob, ok := e["search_blob"].(string); ok {
			tokens[id] = blob
		}
		delete(e, "search_blob")
		delete(e, "search_blob_mtime")
		if git, ok := e["git_state"].(map[string]any); ok {
			if branch, ok := git["branch"].(string); ok && branch != "" {
				e["git_branch"] = branch
			}
			delete(e, "git_state")
		}
		normalizeTime(e, "created_at")
		if s, _ := e["updated_at"].(string); s == "" {
			e["updated_at"] = e["created_at"]
		}
		normalizeTime(e, "updated_at")
		if rev, ok := e["rev"].(float64); !ok || rev < 1 {
			e["rev"] = float64(1)
		}
		kept = append(kept, e)
	}

	meta["tokens"] = tokens
	doc["search_meta"] = meta
	doc["snapshots"] = kept
	doc["schema_version"] = float64(2)
	return doc, nil
}

func settingsV2(doc map[string]any) (map[string]any, error) {
	setDefault(doc, "default_root", "")
	setDefault(doc, "recent_files_limit", float64(30))
	if _, ok := doc["tags"].([]any); !ok {
		tags := make([]any, len(models.DefaultTags))
		for i, t := range models.DefaultTags {
			tags[i] = t
		}
		doc["tags"] = tags
	}

	flags := subMap(doc, "dev_flags")
	setDefault(flags, "sync_enabled", false)
	setDefault(flags, "security_enabled", false)
	setDefault(flags, "restore_profiles_enabled", false)
	setDefault(flags, "advanced_search_enabled", false)

	sync := subMap(doc, "sync")
	setDefault(sync, "provider", models.ProviderLocal)
	setDefault(sync, "local_root", "")
	setDefault(sync, "auto_interval_min", float64(0))
	setDefault(sync, "last_cursor", "")

	restore := subMap(doc, "restore")
	moveKey(restore, restore, "show_post_restore_checklist", "show_checklist")
	for _, key := range []string{"open_folder", "open_terminal", "open_vscode", "open_running_apps", "show_checklist"} {
		setDefault(restore, key, true)
	}

	if _, ok := doc["restore_profiles"].([]any); !ok {
		doc["restore_profiles"] = []any{}
	}
	security := subMap(doc, "security")
	setDefault(security, "dpapi_enabled", false)
	search := subMap(doc, "search")
	setDefault(search, "enable_field_query", true)
	setDefault(doc, "capture_enforce_todos", true)

	doc["schema_version"] = float64(2)
	return doc, nil
}

// v1 sync state used last_cursor and synced_at.
func syncStateV2(doc map[string]any) (map[string]any, error) {
	moveKey(doc, doc, "last_cursor", "cursor")
	moveKey(doc, doc, "synced_at", "last_sync_at")
	setDefault(doc, "provider", "")
	setDefault(doc, "cursor", "")
	normalizeTime(doc, "last_sync_at")
	if _, ok := doc["synced"].(map[string]any); !ok {
		doc["synced"] = map[string]any{}
	}
	doc["schema_version"] = float64(2)
	return doc, nil
}

// v1 conflict entries were flat (local_rev, remote_updated_at, ...) and had
// neither an id nor a status.
func syncConflictsV2(doc map[string]any) (map[string]any, error) {
	items, _ := doc["conflicts"].([]any)
	kept := make([]any, 0, len(items))
	for _, item := range items {
		c, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if sid, _ := c["snapshot_id"].(string); sid == "" {
			continue
		}
		for _, side := range []string{models.SideLocal, models.SideRemote} {
			m := subMap(c, side)
			moveKey(c, m, side+"_rev", "rev")
			moveKey(c, m, side+"_updated_at", "updated_at")
			normalizeTime(m, "updated_at")
			setDefault(m, "hash", "")
		}
		normalizeTime(c, "at")
		setDefault(c, "status", models.ConflictPending)
		setDefault(c, "reason", "diverged")
		setDefault(c, "visible", models.SideLocal)
		if id, _ := c["id"].(string); id == "" {
			c["id"] = legacyConflictID(c)
		}
		kept = append(kept, c)
	}
	doc["conflicts"] = kept
	doc["schema_version"] = float64(2)
	return doc, nil
}

func legacyConflictID(c map[string]any) string {
	local, _ := c[models.SideLocal].(map[string]any)
	remote, _ := c[models.SideRemote].(map[string]any)
	name := fmt.Sprintf("%v|%v|%v|%v", c["snapshot_id"], c["at"], local["rev"], remote["rev"])
	return uuid.NewSHA1(conflictNamespace, []byte(name)).String()
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func moveKey(from, to map[string]any, oldKey, newKey string) {
	v, ok := from[oldKey]
	if !ok {
		return
	}
	if _, exists := to[newKey]; !exists {
		to[newKey] = v
	}
	delete(from, oldKey)
}

func subMap(doc map[string]any, key string) map[string]any {
	m, ok := doc[key].(map[string]any)
	if !ok {
		m = map[string]any{}
		doc[key] = m
	}
	return m
}

// normalizeTime rewrites a zone-less or unparseable timestamp into RFC 3339.
// Unparseable values are dropped so the typed decode sees a zero time.
func normalizeTime(m map[string]any, key string) {
	raw, ok := m[key]
	if !ok {
		return
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		delete(m, key)
		return
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			m[key] = t.UTC().Format(time.RFC3339Nano)
			return
		}
	}
	delete(m, key)
}
