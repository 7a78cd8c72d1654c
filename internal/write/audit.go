package write

import "github.com/strata-db/strata/internal/stmt"

// Audit carries the metadata recorded for one write batch. A new audit
// version is allocated per batch; every affected row appends one change
// record under that version.
type Audit struct {
	Who   string
	Why   string
	Where string
	Tag   string
}

// OpKind is the operation recorded in a change-log entry.
type OpKind string

const (
	OpUpserted OpKind = "upserted"
	OpInserted OpKind = "inserted"
	OpDeleted  OpKind = "deleted"
	OpPurged   OpKind = "purged"
	OpMerged   OpKind = "merged"
)

// ChangeRecord is one change-log entry: which row of which table changed,
// under which audit version, and the composite model id built from the
// row's identifying-field values.
type ChangeRecord struct {
	Version     int64  `db:"version"`
	DataVersion int64  `db:"data_version"`
	Op          OpKind `db:"op"`
	Table       string `db:"table_name"`
	SetID       int64  `db:"set_id"`
	RowID       int64  `db:"row_id"`
	ModelID     string `db:"model_id"`
}

// NewVersionStatement allocates the next audit version. The caller reads
// the assigned id via LAST_INSERT_ID within the same transaction.
func NewVersionStatement(a Audit) *stmt.Statement {
	return &stmt.Statement{
		SQL: "INSERT INTO `version_info` (`who`, `where`, `why`, `tag`) " +
			"VALUES (:who, :where, :why, :tag)",
		Args: map[string]interface{}{
			"who":   a.Who,
			"where": a.Where,
			"why":   a.Why,
			"tag":   a.Tag,
		},
	}
}

// ChangeStatement appends one change-log entry.
func ChangeStatement(r ChangeRecord) *stmt.Statement {
	return &stmt.Statement{
		SQL: "INSERT INTO `model_changes` " +
			"(`version`, `data_version`, `op`, `table_name`, `set_id`, `row_id`, `model_id`) " +
			"VALUES (:version, :data_version, :op, :table_name, :set_id, :row_id, :model_id)",
		Args: map[string]interface{}{
			"version":      r.Version,
			"data_version": r.DataVersion,
			"op":           string(r.Op),
			"table_name":   r.Table,
			"set_id":       r.SetID,
			"row_id":       r.RowID,
			"model_id":     r.ModelID,
		},
	}
}
