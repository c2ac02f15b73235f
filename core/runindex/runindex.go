// Package runindex maintains a sqlite catalog of runs for `loomctl list-runs`. It is a
// rebuildable secondary cache: the manifest.json inside each run folder is always the source of
// truth, and Rebuild can reconstruct the entire index by rescanning runs/ on disk.
package runindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/core/models"
)

// Index is a sqlite-backed catalog of run manifests.
type Index struct {
	db    *sqlx.DB
	clock clock.Clock
}

// Open opens (creating if necessary) the sqlite database at path and brings its schema up to
// date.
func Open(path string, clk clock.Clock) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, gerror.NewErrIO(fmt.Sprintf("error creating run index directory %q", dir), err)
		}
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, gerror.NewErrIO(fmt.Sprintf("error opening run index %q", path), err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time keeps this simple and avoids SQLITE_BUSY

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, gerror.NewErrIO(fmt.Sprintf("error pinging run index %q", path), err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, gerror.NewErrIO("error migrating run index schema", err)
	}
	return &Index{db: db, clock: clk}, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// Upsert inserts or replaces the catalog row for a manifest's job id.
func (idx *Index) Upsert(m models.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return gerror.NewErrIO("error marshalling manifest for run index", err)
	}

	var completedAt interface{}
	if m.CompletedAt != nil {
		completedAt = m.CompletedAt.Format(time.RFC3339Nano)
	}
	var durationS interface{}
	if m.DurationS != nil {
		durationS = *m.DurationS
	}

	query, args, err := goqu.Dialect("sqlite3").
		Insert("runs").
		Cols("job_id", "project", "task_description", "provider", "status", "started_at", "completed_at", "duration_s", "manifest", "indexed_at").
		Vals(goqu.Vals{
			m.JobID, m.Project, m.TaskDescription, m.Provider, m.Status.String(),
			m.StartedAt.Format(time.RFC3339Nano), completedAt, durationS, string(data),
			idx.clock.Now().Format(time.RFC3339Nano),
		}).
		OnConflict(goqu.DoUpdate("job_id", goqu.Record{
			"project":          goqu.I("excluded.project"),
			"task_description": goqu.I("excluded.task_description"),
			"provider":         goqu.I("excluded.provider"),
			"status":           goqu.I("excluded.status"),
			"started_at":       goqu.I("excluded.started_at"),
			"completed_at":     goqu.I("excluded.completed_at"),
			"duration_s":       goqu.I("excluded.duration_s"),
			"manifest":         goqu.I("excluded.manifest"),
			"indexed_at":       goqu.I("excluded.indexed_at"),
		})).
		ToSQL()
	if err != nil {
		return gerror.NewErrIO("error building run index upsert query", err)
	}

	if _, err := idx.db.ExecContext(context.Background(), query, args...); err != nil {
		return gerror.NewErrIO("error upserting run index row", err)
	}
	return nil
}

// Get returns the stored manifest for jobID, or gerror not-found if it isn't catalogued.
func (idx *Index) Get(jobID string) (models.Manifest, error) {
	query, args, err := goqu.Dialect("sqlite3").From("runs").Select("manifest").Where(goqu.Ex{"job_id": jobID}).ToSQL()
	if err != nil {
		return models.Manifest{}, gerror.NewErrIO("error building run index get query", err)
	}
	var raw string
	if err := idx.db.GetContext(context.Background(), &raw, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return models.Manifest{}, gerror.NewErrNotFound(fmt.Sprintf("run %q not found in index", jobID))
		}
		return models.Manifest{}, gerror.NewErrIO("error reading run index row", err)
	}
	var m models.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return models.Manifest{}, gerror.NewErrIO("error parsing catalogued manifest", err)
	}
	return m, nil
}

// List returns up to limit runs, most recently started first. A limit <= 0 means unlimited.
func (idx *Index) List(limit int) ([]models.Manifest, error) {
	ds := goqu.Dialect("sqlite3").From("runs").Select("manifest").Order(goqu.I("started_at").Desc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, gerror.NewErrIO("error building run index list query", err)
	}

	var rows []string
	if err := idx.db.SelectContext(context.Background(), &rows, query, args...); err != nil {
		return nil, gerror.NewErrIO("error listing run index rows", err)
	}
	manifests := make([]models.Manifest, 0, len(rows))
	for _, raw := range rows {
		var m models.Manifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue // a corrupt row shouldn't break the whole listing; Rebuild can repair it
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Rebuild repopulates the index from scratch by scanning every runs/<job_id>/manifest.json
// under runsRoot, the recovery path when the sqlite file is missing, deleted, or out of sync.
func (idx *Index) Rebuild(runsRoot string) (int, error) {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, gerror.NewErrIO(fmt.Sprintf("error scanning runs directory %q", runsRoot), err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(runsRoot, entry.Name(), "manifest.json")
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			continue // no manifest yet (run still being created) or unreadable; skip it
		}
		var m models.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if err := idx.Upsert(m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
