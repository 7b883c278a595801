package config

// Static table registry. Every identifier the pipeline interpolates into
// SQL comes from this file, never from user input; the schema package
// validates identifiers against it before building statements.

// TableOrder is the fixed load and sync order. It respects foreign-key
// dependencies: dimensions before the facts that reference them.
var TableOrder = []string{
	"cpne",
	"cerfa_param",
	"degree_level",
	"degree",
	"company",
	"city",
	"institution",
	"component",
	"billing",
	"billing_payment",
	"sector",
	"training",
	"training_course",
	"training_group",
	"training_option",
	"apprentice",
	"opco_address",
	"registration",
	"deadline",
	"billing_line",
}

// ConflictKeys maps every synchronizable table to the single column whose
// equality defines "same logical row" for upserts. A table absent from
// this map cannot be synchronized and is skipped with a warning.
var ConflictKeys = map[string]string{
	"cpne":            "id",
	"cerfa_param":     "id",
	"degree_level":    "id",
	"degree":          "id",
	"company":         "id",
	"city":            "code",
	"institution":     "id",
	"component":       "id",
	"billing":         "id",
	"billing_payment": "id",
	"sector":          "id",
	"training":        "id",
	"training_course": "id",
	"training_group":  "id",
	"training_option": "id",
	"apprentice":      "id",
	"opco_address":    "id",
	"registration":    "id",
	"deadline":        "id",
	"billing_line":    "id",
}

// ProtectedTables are exempt from delete-if-absent pruning during sync.
// degree_level is reference data; company rows carry enrichment-owned
// attributes the raw source never supplies and go through the SIRET path.
var ProtectedTables = map[string]bool{
	"degree_level": true,
	"company":      true,
}

// NameNormalizedTable is the one entity whose person names are normalized
// during transfer (first name title-cased, last name upper-cased).
const NameNormalizedTable = "apprentice"

// Ref names a referencing (table, column) pair.
type Ref struct {
	Table  string
	Column string
}

// DimensionRule declares which columns keep a dimension row alive: a row
// is kept iff its key appears in the union of all referencing columns.
type DimensionRule struct {
	Table      string
	Key        string
	References []Ref
}

// DimensionRules drives the generic dimension prune, in execution order.
var DimensionRules = []DimensionRule{
	{Table: "company", Key: "id", References: []Ref{
		{Table: "registration", Column: "host_company_id"},
		{Table: "billing", Column: "company_id"},
	}},
	{Table: "apprentice", Key: "id", References: []Ref{
		{Table: "registration", Column: "apprentice_id"},
	}},
	{Table: "sector", Key: "id", References: []Ref{
		{Table: "training", Column: "sector_id"},
	}},
	{Table: "training_option", Key: "id", References: []Ref{
		{Table: "registration", Column: "option_id"},
	}},
	{Table: "training_group", Key: "id", References: []Ref{
		{Table: "training_option", Column: "group_id"},
	}},
	{Table: "training_course", Key: "id", References: []Ref{
		{Table: "training_group", Column: "course_id"},
	}},
	{Table: "training", Key: "id", References: []Ref{
		{Table: "training_course", Column: "training_id"},
	}},
}

// CompanyReferences are the staging-side foreign keys repointed by both the
// duplicate-SIRET merge and the company id-mapping step of the sync.
var CompanyReferences = []Ref{
	{Table: "registration", Column: "host_company_id"},
	{Table: "billing", Column: "company_id"},
}

// RegistrationMinStartDate bounds the accepted registration window; rows
// starting earlier are historic noise from the operational store.
const RegistrationMinStartDate = "2022-06-01"

// SoftDeleteTables carry a deleted_at column whose non-NULL rows are
// dropped during cleanup.
var SoftDeleteTables = []string{"deadline", "billing", "billing_line"}

// DiscriminatorTables hold transient rows marked by discr LIKE '%temp%'.
var DiscriminatorTables = []string{"apprentice", "company"}

// DeleteBatchSize bounds every unbounded deletion: at most this many rows
// are deleted and committed per statement.
const DeleteBatchSize = 5000

// MaxReadBatch caps the adaptive read-side page so peak memory stays
// bounded no matter how large the table is.
const MaxReadBatch = 10000

// Audit table names, all living in the production schema.
const (
	MigrationAuditTable = "migration_table_log"
	SyncAuditTable      = "update_log"
	RunLogTable         = "migration_logs"
)

// IndexSpec declares an index the sync phase ensures before company sync.
type IndexSpec struct {
	Table  string
	Column string
}

// CompanyIndexes speed up SIRET lookups and the cleanup NOT EXISTS checks.
var CompanyIndexes = []IndexSpec{
	{Table: "company", Column: "siret"},
	{Table: "registration", Column: "host_company_id"},
	{Table: "billing", Column: "company_id"},
}
