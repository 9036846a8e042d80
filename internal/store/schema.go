package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

var schemaNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validSchemaName reports whether name is safe to interpolate into SQL.
func validSchemaName(name string) bool {
	return schemaNameRe.MatchString(name)
}

// SanitizeSchemaName derives a schema name from a repo name: lowercase,
// non-alphanumerics become underscores, runs collapse, and the result
// starts with a letter. The prefix must itself satisfy the schema name
// pattern.
func SanitizeSchemaName(prefix, repoName string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(repoName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "repo"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "r" + name
	}
	// The control schema is reserved.
	if name == "control" {
		name = "control_repo"
	}
	return prefix + name
}

// RepoRef identifies a registered repository.
type RepoRef struct {
	ID         uuid.UUID
	Name       string
	SchemaName string
	RootPath   string
	Enabled    bool
	AutoIndex  bool
	AutoEmbed  bool
	AutoWatch  bool
}

// registerAction is what Register does about an existing registry row
// for the target schema.
type registerAction int

const (
	registerCreate registerAction = iota
	registerReuse
	registerReplace
)

// resolveRegisterAction decides the fate of an existing registration.
// Re-registering the same name and root is idempotent and never touches
// data; anything that would drop the schema requires force.
func resolveRegisterAction(found bool, schema, existingName, existingRoot,
	repoName, rootPath string, force bool) (registerAction, error) {
	switch {
	case !found:
		return registerCreate, nil
	case force:
		return registerReplace, nil
	case existingName == repoName && existingRoot == rootPath:
		return registerReuse, nil
	default:
		return 0, rmerr.New(rmerr.KindSchemaConflict,
			"schema %s already registered as %s for %s", schema, existingName, existingRoot)
	}
}

// Register creates the registry row and the per-repo schema for a new
// repository. Registering an existing repo again with the same root
// returns the existing ref with its data intact. A root or name
// mismatch on the same schema fails with SchemaConflict unless force
// is set, in which case the schema is dropped and recreated.
func (p *Pool) Register(ctx context.Context, repoName, rootPath string, force bool) (*RepoRef, error) {
	schema := SanitizeSchemaName(p.schemaPrefix, repoName)

	var existingName, existingRoot string
	err := p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT name, root_path FROM %s.repo_registry WHERE schema_name = $1`, p.controlSchema),
		schema).Scan(&existingName, &existingRoot)
	if err != nil && err != pgx.ErrNoRows {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "registry lookup")
	}

	action, err := resolveRegisterAction(err == nil, schema,
		existingName, existingRoot, repoName, rootPath, force)
	if err != nil {
		return nil, err
	}
	switch action {
	case registerReuse:
		if err := p.TouchRepo(ctx, repoName); err != nil {
			return nil, err
		}
		return p.ResolveRepo(ctx, repoName)
	case registerReplace:
		if err := p.DropSchema(ctx, existingName); err != nil {
			return nil, err
		}
	}

	exists, err := p.schemaExists(ctx, schema)
	if err != nil {
		return nil, err
	}
	if exists {
		if !force {
			return nil, rmerr.New(rmerr.KindSchemaConflict, "schema %s already exists", schema)
		}
		if err := p.exec(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)); err != nil {
			return nil, err
		}
	}

	if err := p.applyRepoDDL(ctx, schema); err != nil {
		return nil, err
	}

	repoID := uuid.New()
	if err := p.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.repo_registry (name, schema_name, root_path)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			schema_name = EXCLUDED.schema_name,
			root_path   = EXCLUDED.root_path,
			updated_at  = now()`, p.controlSchema),
		repoName, schema, rootPath); err != nil {
		return nil, err
	}

	// Seed the repo row inside its own schema.
	if err := p.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.repo (id, name, root_path) VALUES ($1, $2, $3)`, schema),
		repoID, repoName, rootPath); err != nil {
		return nil, err
	}
	if err := p.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.repo_index_state (repo_id) VALUES ($1)`, schema), repoID); err != nil {
		return nil, err
	}

	return &RepoRef{
		ID: repoID, Name: repoName, SchemaName: schema, RootPath: rootPath,
		Enabled: true, AutoIndex: true, AutoEmbed: true,
	}, nil
}

func (p *Pool) schemaExists(ctx context.Context, schema string) (bool, error) {
	var found bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema).Scan(&found)
	if err != nil {
		return false, rmerr.Wrap(rmerr.KindTransientIO, err, "schema existence check")
	}
	return found, nil
}

// DropSchema removes a repository's schema and registry row.
func (p *Pool) DropSchema(ctx context.Context, repoName string) error {
	ref, err := p.ResolveRepo(ctx, repoName)
	if err != nil {
		if rmerr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := p.exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", ref.SchemaName)); err != nil {
		return err
	}
	return p.exec(ctx,
		fmt.Sprintf(`DELETE FROM %s.repo_registry WHERE name = $1`, p.controlSchema), repoName)
}

// ResolveRepo looks up a repository by name and returns its identity and
// schema. Fails with NotFound for unknown repos.
func (p *Pool) ResolveRepo(ctx context.Context, repoName string) (*RepoRef, error) {
	ref := &RepoRef{}
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT name, schema_name, root_path, enabled, auto_index, auto_embed, auto_watch
		FROM %s.repo_registry WHERE name = $1`, p.controlSchema),
		repoName).Scan(&ref.Name, &ref.SchemaName, &ref.RootPath,
		&ref.Enabled, &ref.AutoIndex, &ref.AutoEmbed, &ref.AutoWatch)
	if err == pgx.ErrNoRows {
		return nil, rmerr.NotFound("repo", repoName)
	}
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "resolve repo %s", repoName)
	}

	// The repo uuid lives inside the repo's own schema.
	err = p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s.repo WHERE name = $1`, ref.SchemaName),
		repoName).Scan(&ref.ID)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "resolve repo id for %s", repoName)
	}
	return ref, nil
}

// ListRepos returns all registered repositories ordered by name.
func (p *Pool) ListRepos(ctx context.Context) ([]RepoRef, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT name, schema_name, root_path, enabled, auto_index, auto_embed, auto_watch
		FROM %s.repo_registry ORDER BY name`, p.controlSchema))
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list repos")
	}
	defer rows.Close()

	var out []RepoRef
	for rows.Next() {
		var ref RepoRef
		if err := rows.Scan(&ref.Name, &ref.SchemaName, &ref.RootPath,
			&ref.Enabled, &ref.AutoIndex, &ref.AutoEmbed, &ref.AutoWatch); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan repo row")
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// TouchRepo updates the registry last_seen timestamp.
func (p *Pool) TouchRepo(ctx context.Context, repoName string) error {
	return p.exec(ctx, fmt.Sprintf(
		`UPDATE %s.repo_registry SET last_seen_at = now() WHERE name = $1`, p.controlSchema),
		repoName)
}
