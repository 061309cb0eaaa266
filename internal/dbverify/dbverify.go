// Package dbverify checks whether the Robust grid database has finished
// creating its schema. Robust builds its tables lazily on first startup, so
// "the service is running" says nothing about whether the grid is usable;
// the table listing does.
package dbverify

import (
	"context"
	"strings"
)

// CoreTables are the tables a working Robust grid cannot run without. The
// check fails while any of these is missing.
var CoreTables = []string{
	"assets",
	"auth",
	"avatars",
	"friends",
	"griduser",
	"inventoryfolders",
	"inventoryitems",
	"presence",
	"regions",
	"tokens",
	"useraccounts",
}

// OptionalTables are created by some Robust configurations but not others.
// Their absence is reported, never fatal.
var OptionalTables = []string{
	"agentprefs",
	"migrations",
	"mutelist",
}

// Outcome is the verdict of one schema check.
type Outcome int

const (
	// SchemaComplete means every core table exists.
	SchemaComplete Outcome = iota
	// SchemaIncomplete means the database answered but core tables are
	// still missing, normal while Robust is mid-migration.
	SchemaIncomplete
	// ConnectionFailed means the database could not be reached or queried
	// at all.
	ConnectionFailed
)

func (o Outcome) String() string {
	switch o {
	case SchemaComplete:
		return "complete"
	case SchemaIncomplete:
		return "incomplete"
	case ConnectionFailed:
		return "connection_error"
	default:
		return "unknown"
	}
}

// Result is the detailed verdict of one schema check.
type Result struct {
	Outcome         Outcome
	Tables          int      // total tables present
	MissingCore     []string // core tables not found
	MissingOptional []string // optional tables not found
	Users           int64    // useraccounts row count, -1 when not counted
	Regions         int64    // regions row count, -1 when not counted
	Err             error    // underlying failure for ConnectionFailed
}

// Checker runs one schema check. The bootstrap verifier polls one of these
// between liveness checks on the launched process.
type Checker interface {
	Check(ctx context.Context) *Result
}

// Classify grades a raw table listing against the core and optional sets.
// Comparison is case-insensitive because MySQL table name casing depends on
// the host filesystem.
func Classify(tables []string) *Result {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[strings.ToLower(t)] = true
	}

	res := &Result{
		Outcome: SchemaComplete,
		Tables:  len(tables),
		Users:   -1,
		Regions: -1,
	}
	for _, want := range CoreTables {
		if !present[want] {
			res.MissingCore = append(res.MissingCore, want)
		}
	}
	for _, want := range OptionalTables {
		if !present[want] {
			res.MissingOptional = append(res.MissingOptional, want)
		}
	}
	if len(res.MissingCore) > 0 {
		res.Outcome = SchemaIncomplete
	}
	return res
}
