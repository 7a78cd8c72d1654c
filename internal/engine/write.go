package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/strata-db/strata/internal/query"
	"github.com/strata-db/strata/internal/schema"
	"github.com/strata-db/strata/internal/write"
)

// WriteOptions carries the per-batch write parameters.
type WriteOptions struct {
	SetID int64
	Audit write.Audit

	// IgnoreDuplicates turns identity conflicts on non-versioned models
	// into keep-existing inserts.
	IgnoreDuplicates bool

	// SquashedFrom overrides the lineage marker carried into fresh
	// versioned rows. Zero keeps the superseded row's lineage, or starts a
	// new one for new identities.
	SquashedFrom int64
}

// Upsert writes a batch of objects of one model inside a single
// transaction: one audit version is allocated, every row mutation and its
// derived part and side rows happen under it, and one change record is
// appended per affected row.
func (e *Engine) Upsert(ctx context.Context, model string, objs []Object, opts WriteOptions) ([]write.ChangeRecord, error) {
	m, err := e.registry.MustGet(model)
	if err != nil {
		return nil, err
	}
	if err := e.writes.CheckWritable(m); err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning write: %w", err)
	}
	defer tx.Rollback()

	version, err := e.newVersion(ctx, tx, opts.Audit)
	if err != nil {
		return nil, err
	}

	var records []write.ChangeRecord
	for _, obj := range objs {
		recs, err := e.upsertOne(ctx, tx, m, obj, version, opts)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	for _, r := range records {
		if _, err := execNamed(ctx, tx, write.ChangeStatement(r)); err != nil {
			return nil, fmt.Errorf("recording change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing write: %w", err)
	}

	e.logger.Info("upsert",
		zap.String("model", model),
		zap.Int64("version", version),
		zap.Int("objects", len(objs)),
		zap.Int("changes", len(records)))
	return records, nil
}

func (e *Engine) upsertOne(ctx context.Context, tx *sqlx.Tx, m *schema.Model, obj Object, version int64, opts WriteOptions) ([]write.ChangeRecord, error) {
	var records []write.ChangeRecord

	// Shared sub-objects are written first, deduplicated by their content
	// identity, and replaced in the owner's document by bare ids.
	extracted, err := e.resolver.ExtractAll(m, obj, true)
	if err != nil {
		return nil, err
	}
	for _, ext := range extracted {
		st, err := e.writes.UpsertPlain(ext.Model, ext.Object, opts.SetID, true)
		if err != nil {
			return nil, err
		}
		res, err := execNamed(ctx, tx, st)
		if err != nil {
			return nil, fmt.Errorf("writing shared %s: %w", ext.Model.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			rowID, _ := res.LastInsertId()
			records = append(records, write.ChangeRecord{
				Version:     version,
				DataVersion: version,
				Op:          write.OpInserted,
				Table:       ext.Model.TableName,
				SetID:       opts.SetID,
				RowID:       rowID,
				ModelID:     ext.Model.ModelID(ext.Object),
			})
		}
	}

	var rowID int64
	op := write.OpInserted

	if m.Versioned {
		cur, err := e.selectCurrent(ctx, tx, m, obj, opts.SetID)
		if err != nil {
			return nil, err
		}

		squash := version
		if opts.SquashedFrom > 0 {
			squash = opts.SquashedFrom
		}
		if cur != nil {
			if _, err := execNamed(ctx, tx, e.writes.CloseInterval(m, cur.rowID, version)); err != nil {
				return nil, fmt.Errorf("closing interval: %w", err)
			}
			if opts.SquashedFrom == 0 {
				squash = cur.squashedFrom
			}
			op = write.OpUpserted
		}

		st, err := e.writes.InsertVersioned(m, obj, opts.SetID, version, squash)
		if err != nil {
			return nil, err
		}
		res, err := execNamed(ctx, tx, st)
		if err != nil {
			return nil, fmt.Errorf("inserting %s: %w", m.Name, err)
		}
		rowID, _ = res.LastInsertId()
	} else {
		st, err := e.writes.UpsertPlain(m, obj, opts.SetID, opts.IgnoreDuplicates)
		if err != nil {
			return nil, err
		}
		res, err := execNamed(ctx, tx, st)
		if err != nil {
			return nil, fmt.Errorf("upserting %s: %w", m.Name, err)
		}
		// MySQL reports 2 affected rows for a conflict-update.
		if n, _ := res.RowsAffected(); n != 1 {
			op = write.OpUpserted
		}

		cur, err := e.selectCurrent(ctx, tx, m, obj, opts.SetID)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			// INSERT IGNORE on an existing identity affects nothing; the
			// existing row stands.
			cur = &currentRow{}
		}
		rowID = cur.rowID
	}

	if err := e.syncDerived(ctx, tx, m, rowID); err != nil {
		return nil, err
	}

	records = append(records, write.ChangeRecord{
		Version:     version,
		DataVersion: version,
		Op:          op,
		Table:       m.TableName,
		SetID:       opts.SetID,
		RowID:       rowID,
		ModelID:     m.ModelID(obj),
	})
	return records, nil
}

// Delete removes the rows matching the filters: versioned models close
// the rows' validity intervals, non-versioned models delete the rows
// physically together with their derived rows.
func (e *Engine) Delete(ctx context.Context, model string, filters []query.Filter, opts WriteOptions) ([]write.ChangeRecord, error) {
	return e.remove(ctx, model, filters, opts, false)
}

// Purge removes matching rows physically, history included, together
// with their part and side rows.
func (e *Engine) Purge(ctx context.Context, model string, filters []query.Filter, opts WriteOptions) ([]write.ChangeRecord, error) {
	return e.remove(ctx, model, filters, opts, true)
}

func (e *Engine) remove(ctx context.Context, model string, filters []query.Filter, opts WriteOptions, purge bool) ([]write.ChangeRecord, error) {
	m, err := e.registry.MustGet(model)
	if err != nil {
		return nil, err
	}
	if err := e.writes.CheckDeletable(m); err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	version, err := e.newVersion(ctx, tx, opts.Audit)
	if err != nil {
		return nil, err
	}

	st, err := e.writes.SelectAffected(m, filters, opts.SetID, !purge)
	if err != nil {
		return nil, err
	}
	rows, err := queryNamed(ctx, tx, st)
	if err != nil {
		return nil, fmt.Errorf("selecting affected rows: %w", err)
	}
	affected, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, tx.Commit()
	}

	rowIDs := make([]int64, len(affected))
	for i, row := range affected {
		rowIDs[i] = toInt64(row["row_id"])
	}

	op := write.OpDeleted
	if purge || !m.Versioned {
		if purge {
			op = write.OpPurged
		}
		if _, err := execNamed(ctx, tx, e.writes.DeleteRows(m, rowIDs)); err != nil {
			return nil, fmt.Errorf("deleting rows: %w", err)
		}
		for _, rowID := range rowIDs {
			if err := e.dropDerived(ctx, tx, m, rowID); err != nil {
				return nil, err
			}
		}
	} else {
		if _, err := execNamed(ctx, tx, e.writes.CloseIntervals(m, rowIDs, version)); err != nil {
			return nil, fmt.Errorf("closing intervals: %w", err)
		}
	}

	records := make([]write.ChangeRecord, 0, len(affected))
	for i, row := range affected {
		r := write.ChangeRecord{
			Version:     version,
			DataVersion: version,
			Op:          op,
			Table:       m.TableName,
			SetID:       opts.SetID,
			RowID:       rowIDs[i],
			ModelID:     modelIDFromRow(m, row),
		}
		if _, err := execNamed(ctx, tx, write.ChangeStatement(r)); err != nil {
			return nil, fmt.Errorf("recording change: %w", err)
		}
		records = append(records, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}

	e.logger.Info("remove",
		zap.String("model", model),
		zap.Int64("version", version),
		zap.Bool("purge", purge),
		zap.Int("rows", len(rowIDs)))
	return records, nil
}

// CopyBetweenTenants replicates the current versions of matching rows
// from one tenant into another, preserving lineage. The copied row's
// valid_start is the later of the two tenants' current values so history
// reads stay consistent on both sides.
func (e *Engine) CopyBetweenTenants(ctx context.Context, model string, filters []query.Filter, srcSet, destSet int64, audit write.Audit) ([]write.ChangeRecord, error) {
	m, err := e.registry.MustGet(model)
	if err != nil {
		return nil, err
	}
	if err := e.writes.CheckWritable(m); err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning copy: %w", err)
	}
	defer tx.Rollback()

	version, err := e.newVersion(ctx, tx, audit)
	if err != nil {
		return nil, err
	}

	st, err := e.writes.SelectAffected(m, filters, srcSet, true)
	if err != nil {
		return nil, err
	}
	rows, err := queryNamed(ctx, tx, st)
	if err != nil {
		return nil, fmt.Errorf("selecting source rows: %w", err)
	}
	affected, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}

	var records []write.ChangeRecord
	for _, row := range affected {
		srcRowID := toInt64(row["row_id"])

		docRows, err := queryNamed(ctx, tx, e.writes.SelectDoc(m, srcRowID))
		if err != nil {
			return nil, fmt.Errorf("reading source document: %w", err)
		}
		docs, err := scanMaps(docRows)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			continue
		}
		doc, _ := docs[0]["doc"].(string)

		obj := Object{}
		if err := json.Unmarshal([]byte(doc), &obj); err != nil {
			return nil, fmt.Errorf("decoding source document: %w", err)
		}

		validStart := version
		squash := version
		if m.Versioned {
			validStart = toInt64(row["valid_start"])
			squash = toInt64(row["squashed_from"])

			destCur, err := e.selectCurrent(ctx, tx, m, obj, destSet)
			if err != nil {
				return nil, err
			}
			if destCur != nil {
				if destCur.validStart > validStart {
					validStart = destCur.validStart
				}
				if _, err := execNamed(ctx, tx, e.writes.CloseInterval(m, destCur.rowID, validStart)); err != nil {
					return nil, fmt.Errorf("closing destination interval: %w", err)
				}
			}
		}

		idVals := make(map[string]interface{}, len(m.Identifying()))
		for _, f := range m.Identifying() {
			idVals[f.Column()] = row[f.Column()]
		}

		res, err := execNamed(ctx, tx, e.writes.InsertCopy(m, doc, idVals, destSet, validStart, squash))
		if err != nil {
			return nil, fmt.Errorf("copying row: %w", err)
		}
		newRowID, _ := res.LastInsertId()

		if err := e.syncDerived(ctx, tx, m, newRowID); err != nil {
			return nil, err
		}

		r := write.ChangeRecord{
			Version:     version,
			DataVersion: version,
			Op:          write.OpMerged,
			Table:       m.TableName,
			SetID:       destSet,
			RowID:       newRowID,
			ModelID:     modelIDFromRow(m, row),
		}
		if _, err := execNamed(ctx, tx, write.ChangeStatement(r)); err != nil {
			return nil, fmt.Errorf("recording change: %w", err)
		}
		records = append(records, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing copy: %w", err)
	}
	return records, nil
}

// newVersion allocates the batch's audit version. The engine session
// identifies the writer when the caller supplies no audit metadata.
func (e *Engine) newVersion(ctx context.Context, tx *sqlx.Tx, a write.Audit) (int64, error) {
	if a.Who == "" {
		a.Who = "session:" + e.session.String()
	}
	res, err := execNamed(ctx, tx, write.NewVersionStatement(a))
	if err != nil {
		return 0, fmt.Errorf("allocating version: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading allocated version: %w", err)
	}
	return version, nil
}

// currentRow is the locked current-version row of one identity.
type currentRow struct {
	rowID        int64
	validStart   int64
	squashedFrom int64
}

func (e *Engine) selectCurrent(ctx context.Context, tx *sqlx.Tx, m *schema.Model, obj Object, setID int64) (*currentRow, error) {
	st, err := e.writes.SelectCurrent(m, obj, setID)
	if err != nil {
		return nil, err
	}
	rows, err := queryNamed(ctx, tx, st)
	if err != nil {
		return nil, fmt.Errorf("selecting current row: %w", err)
	}
	maps, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, nil
	}

	cur := &currentRow{rowID: toInt64(maps[0]["row_id"])}
	if m.Versioned {
		cur.validStart = toInt64(maps[0]["valid_start"])
		cur.squashedFrom = toInt64(maps[0]["squashed_from"])
	}
	return cur, nil
}

// syncDerived refreshes the rows derived from one stored row: part rows
// per containment level and side-table rows per array-indexed field.
func (e *Engine) syncDerived(ctx context.Context, tx *sqlx.Tx, m *schema.Model, rowID int64) error {
	if len(m.Parts) > 0 {
		stmts, err := e.parts.SyncStatements(m, rowID)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := execNamed(ctx, tx, s); err != nil {
				return fmt.Errorf("syncing parts of %s: %w", m.Name, err)
			}
		}
	}

	for _, f := range m.ArrayIndexed() {
		if _, err := execNamed(ctx, tx, e.writes.DeleteSideRows(m, f, rowID)); err != nil {
			return fmt.Errorf("clearing side rows of %s.%s: %w", m.Name, f.Name, err)
		}
		if _, err := execNamed(ctx, tx, e.writes.InsertSideRows(m, f, rowID)); err != nil {
			return fmt.Errorf("inserting side rows of %s.%s: %w", m.Name, f.Name, err)
		}
	}
	return nil
}

// dropDerived removes the derived rows of one stored row on purge.
func (e *Engine) dropDerived(ctx context.Context, tx *sqlx.Tx, m *schema.Model, rowID int64) error {
	if len(m.Parts) > 0 {
		stmts, err := e.parts.DeleteStatements(m, rowID)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := execNamed(ctx, tx, s); err != nil {
				return fmt.Errorf("deleting parts of %s: %w", m.Name, err)
			}
		}
	}

	for _, f := range m.ArrayIndexed() {
		if _, err := execNamed(ctx, tx, e.writes.DeleteSideRows(m, f, rowID)); err != nil {
			return fmt.Errorf("deleting side rows of %s.%s: %w", m.Name, f.Name, err)
		}
	}
	return nil
}

// modelIDFromRow rebuilds the composite model id from an affected row's
// identifying columns.
func modelIDFromRow(m *schema.Model, row map[string]interface{}) string {
	obj := Object{}
	for _, f := range m.Identifying() {
		obj[f.Name] = row[f.Column()]
	}
	return m.ModelID(obj)
}

// toInt64 normalizes the driver's integer representations.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
