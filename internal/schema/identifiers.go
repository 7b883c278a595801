package schema

import (
	"regexp"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/errs"
)

// SQL identifiers cannot be parameterized, so everything interpolated into
// a statement is validated here first. Table names must come from the
// static registry; schema and column names must at least be plain
// lower-case identifiers (they originate from configuration and from
// introspecting the destination, never from user input).

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdent checks that s is a plain SQL identifier.
func ValidateIdent(s string) error {
	if !identRe.MatchString(s) {
		return errs.Newf(errs.ErrKindQueryFailed, "invalid SQL identifier %q", s)
	}
	return nil
}

// ValidateTable checks that table is part of the static registry (the
// migrated set or one of the audit tables).
func ValidateTable(table string) error {
	if _, ok := config.ConflictKeys[table]; ok {
		return nil
	}
	switch table {
	case config.MigrationAuditTable, config.SyncAuditTable, config.RunLogTable:
		return nil
	}
	return errs.Newf(errs.ErrKindQueryFailed, "table %q is not in the registry", table)
}

// Qualify returns "schema.table" after validating both parts. It panics on
// a registry violation: identifiers are static, so a failure here is a
// programming error, not a runtime condition.
func Qualify(schemaName, table string) string {
	if err := ValidateIdent(schemaName); err != nil {
		panic(err)
	}
	if err := ValidateTable(table); err != nil {
		panic(err)
	}
	return schemaName + "." + table
}
