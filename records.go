package assetdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Asset kinds recognized by the store. Anything else is stored as
// KindOther.
const (
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
	KindModel = "model"
	KindOther = "other"
)

// DefaultListLimit caps listings when the caller does not set one
const DefaultListLimit = 100

// assetColumns is the canonical select list for asset rows
const assetColumns = "id, path, name, ext, kind, size, mtime, hash, metadata, rating, notes, created_at, updated_at"

// assetColumnsPrefixed disambiguates the select list when assets is
// joined against the search index
const assetColumnsPrefixed = "assets.id, assets.path, assets.name, assets.ext, assets.kind, assets.size, assets.mtime, assets.hash, assets.metadata, assets.rating, assets.notes, assets.created_at, assets.updated_at"

// assetSortColumns are the columns ListAssets accepts for ordering
var assetSortColumns = map[string]struct{}{
	"name":       {},
	"path":       {},
	"kind":       {},
	"size":       {},
	"mtime":      {},
	"rating":     {},
	"created_at": {},
	"updated_at": {},
}

// AssetRecord is one tracked asset
type AssetRecord struct {
	ID        string                 `json:"id"`
	Path      string                 `json:"path"`
	Name      string                 `json:"name"`
	Ext       string                 `json:"ext"`
	Kind      string                 `json:"kind"`
	Size      int64                  `json:"size"`
	MTime     int64                  `json:"mtime"`
	Hash      string                 `json:"hash"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Rating    int                    `json:"rating"`
	Notes     string                 `json:"notes"`
	Tags      []string               `json:"tags,omitempty"`
	CreatedAt int64                  `json:"createdAt"`
	UpdatedAt int64                  `json:"updatedAt"`
}

// ListOptions filters and orders asset listings
type ListOptions struct {
	Kinds  []string // empty means every kind
	Tag    string   // require this tag when set
	SortBy string   // assets column, validated; default updated_at
	Desc   bool
	Limit  int // <=0 means DefaultListLimit
	Offset int
}

// AssetRepository provides typed asset CRUD over the store API
type AssetRepository struct {
	store *Manager
}

// Assets returns the typed asset repository
func (m *Manager) Assets() *AssetRepository {
	return &AssetRepository{store: m}
}

// UpsertAsset inserts or refreshes the record keyed by path and syncs
// its tags, all inside one transaction. The per-asset lock serializes
// concurrent indexing of the same path. On return rec.ID holds the
// stored id, which is the existing one when the path was already
// tracked.
func (r *AssetRepository) UpsertAsset(ctx context.Context, rec *AssetRecord) error {
	if rec == nil {
		return WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "record",
			"reason": "nil record",
		})
	}
	if strings.TrimSpace(rec.Path) == "" {
		return WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "path",
			"reason": "asset path is required",
		})
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Name == "" {
		rec.Name = filepath.Base(rec.Path)
	}
	if rec.Ext == "" {
		rec.Ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(rec.Path), "."))
	}
	if rec.Kind == "" {
		rec.Kind = KindOther
	}

	meta := "{}"
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return WithContext(ErrInvalidInput, map[string]interface{}{
				"field":  "metadata",
				"reason": err.Error(),
			})
		}
		meta = string(b)
	}

	lock := r.store.AssetLock(rec.Path)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	now := time.Now().Unix()
	res := r.store.WithTransaction(ctx, TxImmediate, func(txCtx context.Context) error {
		ins := r.store.Execute(txCtx, `
			INSERT INTO assets (id, path, name, ext, kind, size, mtime, hash, metadata, rating, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				name       = excluded.name,
				ext        = excluded.ext,
				kind       = excluded.kind,
				size       = excluded.size,
				mtime      = excluded.mtime,
				hash       = excluded.hash,
				metadata   = excluded.metadata,
				rating     = excluded.rating,
				notes      = excluded.notes,
				updated_at = excluded.updated_at`,
			rec.ID, rec.Path, rec.Name, rec.Ext, rec.Kind, rec.Size, rec.MTime,
			rec.Hash, meta, rec.Rating, rec.Notes, now, now)
		if !ins.OK {
			return errFromResult(ins)
		}

		// Conflict keeps the original id; read back the stored one.
		got := r.store.QueryOne(txCtx, "SELECT id FROM assets WHERE path = ?", rec.Path)
		if !got.OK {
			return errFromResult(got)
		}
		if row, ok := got.Data.(map[string]interface{}); ok {
			if id := asString(row["id"]); id != "" {
				rec.ID = id
			}
		}

		return r.syncTags(txCtx, rec.ID, rec.Tags)
	})
	if !res.OK {
		return errFromResult(res)
	}
	rec.UpdatedAt = now
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	return nil
}

// syncTags replaces the asset's tag set inside the caller's transaction
func (r *AssetRepository) syncTags(ctx context.Context, assetID string, tags []string) error {
	if res := r.store.Execute(ctx, "DELETE FROM asset_tags WHERE asset_id = ?", assetID); !res.OK {
		return errFromResult(res)
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if res := r.store.Execute(ctx, "INSERT OR IGNORE INTO tags (name) VALUES (?)", tag); !res.OK {
			return errFromResult(res)
		}
		if res := r.store.Execute(ctx,
			"INSERT OR IGNORE INTO asset_tags (asset_id, tag_id) SELECT ?, id FROM tags WHERE name = ?",
			assetID, tag); !res.OK {
			return errFromResult(res)
		}
	}
	return nil
}

// GetAsset loads one record by id, or nil when absent
func (r *AssetRepository) GetAsset(ctx context.Context, id string) (*AssetRecord, error) {
	return r.getOne(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ?", id)
}

// GetAssetByPath loads one record by path, or nil when absent
func (r *AssetRepository) GetAssetByPath(ctx context.Context, path string) (*AssetRecord, error) {
	return r.getOne(ctx, "SELECT "+assetColumns+" FROM assets WHERE path = ?", path)
}

func (r *AssetRepository) getOne(ctx context.Context, sqlText string, arg interface{}) (*AssetRecord, error) {
	res := r.store.QueryOne(ctx, sqlText, arg)
	if !res.OK {
		return nil, errFromResult(res)
	}
	row, ok := res.Data.(map[string]interface{})
	if !ok || row == nil {
		return nil, nil
	}
	rec := r.recordFromRow(row)
	if err := r.attachTags(ctx, []*AssetRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteAsset removes a record by id and reports whether a row existed.
// Tag links and the search index follow through cascade and triggers.
func (r *AssetRepository) DeleteAsset(ctx context.Context, id string) (bool, error) {
	res := r.store.Execute(ctx, "DELETE FROM assets WHERE id = ?", id)
	if !res.OK {
		return false, errFromResult(res)
	}
	return res.Meta != nil && res.Meta.RowsAffected > 0, nil
}

// ListAssets returns records matching opts, tags attached
func (r *AssetRepository) ListAssets(ctx context.Context, opts ListOptions) ([]*AssetRecord, error) {
	filter, args, err := buildListFilter(opts)
	if err != nil {
		return nil, err
	}

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "updated_at"
	}
	if err := ValidateIdentifier(sortBy); err != nil {
		return nil, err
	}
	if _, ok := assetSortColumns[sortBy]; !ok {
		return nil, WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "sortBy",
			"value":  sortBy,
			"reason": "unknown sort column",
		})
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	sqlText := fmt.Sprintf("SELECT %s FROM assets%s ORDER BY %s %s LIMIT ? OFFSET ?",
		assetColumns, filter, quoteIdent(sortBy), dir)
	args = append(args, limit, offset)

	res := r.store.Query(ctx, sqlText, args...)
	if !res.OK {
		return nil, errFromResult(res)
	}
	recs := r.recordsFromResult(res)
	if err := r.attachTags(ctx, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// CountAssets counts records matching the filter in opts; sort and
// paging fields are ignored
func (r *AssetRepository) CountAssets(ctx context.Context, opts ListOptions) (int64, error) {
	filter, args, err := buildListFilter(opts)
	if err != nil {
		return 0, err
	}
	res := r.store.QueryOne(ctx, "SELECT COUNT(*) AS n FROM assets"+filter, args...)
	if !res.OK {
		return 0, errFromResult(res)
	}
	row, _ := res.Data.(map[string]interface{})
	return asInt64(row["n"]), nil
}

// SearchAssets matches query against name, path, and notes, best rank
// first. Input tokens are quoted so search operators lose their
// meaning.
func (r *AssetRepository) SearchAssets(ctx context.Context, query string, limit int) ([]*AssetRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "query",
			"reason": "empty search query",
		})
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	sqlText := fmt.Sprintf(
		"SELECT %s FROM assets JOIN %s ON %s.rowid = assets.rowid WHERE %s MATCH ? ORDER BY bm25(%s) LIMIT ?",
		assetColumnsPrefixed, FTSTableName, FTSTableName, FTSTableName, FTSTableName)

	res := r.store.Query(ctx, sqlText, ftsQuote(query), limit)
	if !res.OK {
		return nil, errFromResult(res)
	}
	recs := r.recordsFromResult(res)
	if err := r.attachTags(ctx, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// buildListFilter renders the WHERE clause shared by ListAssets and
// CountAssets
func buildListFilter(opts ListOptions) (string, []interface{}, error) {
	where := make([]string, 0, 2)
	args := make([]interface{}, 0, len(opts.Kinds)+1)

	if len(opts.Kinds) > 0 {
		clause, err := BuildInClause("kind IN (%s)", len(opts.Kinds))
		if err != nil {
			return "", nil, err
		}
		where = append(where, clause)
		for _, k := range opts.Kinds {
			args = append(args, k)
		}
	}
	if opts.Tag != "" {
		where = append(where,
			"id IN (SELECT asset_id FROM asset_tags JOIN tags ON tags.id = asset_tags.tag_id WHERE tags.name = ?)")
		args = append(args, opts.Tag)
	}

	if len(where) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(where, " AND "), args, nil
}

// attachTags loads tag names for the batch with one grouped query
func (r *AssetRepository) attachTags(ctx context.Context, recs []*AssetRecord) error {
	if len(recs) == 0 {
		return nil
	}

	clause, err := BuildInClause("asset_tags.asset_id IN (%s)", len(recs))
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, len(recs))
	byID := make(map[string]*AssetRecord, len(recs))
	for _, rec := range recs {
		args = append(args, rec.ID)
		byID[rec.ID] = rec
		rec.Tags = nil
	}

	res := r.store.Query(ctx,
		"SELECT asset_tags.asset_id AS asset_id, tags.name AS name FROM asset_tags JOIN tags ON tags.id = asset_tags.tag_id WHERE "+clause+" ORDER BY tags.name",
		args...)
	if !res.OK {
		return errFromResult(res)
	}
	rows, _ := res.Data.([]map[string]interface{})
	for _, row := range rows {
		if rec, ok := byID[asString(row["asset_id"])]; ok {
			rec.Tags = append(rec.Tags, asString(row["name"]))
		}
	}
	return nil
}

func (r *AssetRepository) recordsFromResult(res Result) []*AssetRecord {
	rows, _ := res.Data.([]map[string]interface{})
	recs := make([]*AssetRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, r.recordFromRow(row))
	}
	return recs
}

func (r *AssetRepository) recordFromRow(row map[string]interface{}) *AssetRecord {
	rec := &AssetRecord{
		ID:        asString(row["id"]),
		Path:      asString(row["path"]),
		Name:      asString(row["name"]),
		Ext:       asString(row["ext"]),
		Kind:      asString(row["kind"]),
		Size:      asInt64(row["size"]),
		MTime:     asInt64(row["mtime"]),
		Hash:      asString(row["hash"]),
		Rating:    int(asInt64(row["rating"])),
		Notes:     asString(row["notes"]),
		CreatedAt: asInt64(row["created_at"]),
		UpdatedAt: asInt64(row["updated_at"]),
	}
	if raw := asString(row["metadata"]); raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			// A corrupt metadata cell must not poison the whole listing.
			r.store.logger.Warnw("asset metadata unreadable", "id", rec.ID, "error", err)
			rec.Metadata = nil
		}
	}
	return rec
}

// ftsQuote turns raw input into per-token quoted phrases so operators
// like NEAR, -, or * are matched literally
func ftsQuote(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// errFromResult rebuilds an error from a failed Result so nested calls
// inside transaction bodies propagate without losing the error code
func errFromResult(res Result) error {
	if res.OK {
		return nil
	}
	if res.Err == nil {
		return errors.New("operation failed")
	}
	switch res.Err.Code {
	case CodeTimeout:
		return WithContext(ErrTimeout, res.Err.Context)
	case CodeInvalidInput:
		return WithContext(ErrInvalidInput, res.Err.Context)
	case CodeResetFailed:
		return WithContext(ErrResetFailed, res.Err.Context)
	default:
		return errors.New(res.Err.Message)
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
