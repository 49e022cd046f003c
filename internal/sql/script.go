// Package sql splits raw SQL scripts into statements and classifies them.
// Uses xwb1989/sqlparser so quoted semicolons and comments are handled the
// same way a MySQL-family tokenizer would handle them. Pieces cut inside a
// PostgreSQL dollar-quoted body or a SQLite trigger's BEGIN ... END body are
// joined back into one statement.
package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Kind is the coarse category of a statement.
type Kind string

const (
	KindDDL         Kind = "DDL"
	KindDML         Kind = "DML"
	KindQuery       Kind = "QUERY"
	KindTransaction Kind = "TRANSACTION"
	KindOther       Kind = "OTHER"
)

// Statement is one statement of a script.
type Statement struct {
	Text string
	Kind Kind
}

// Split breaks a script into its statements. Empty pieces are dropped.
// Transaction control statements are rejected: a migration script always
// runs inside the transaction of its migration.
func Split(script string) ([]Statement, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("sql script is empty")
	}

	pieces, err := sqlparser.SplitStatementToPieces(script)
	if err != nil {
		return nil, fmt.Errorf("split sql script: %w", err)
	}

	stmts := make([]Statement, 0, len(pieces))
	for _, piece := range joinBlocks(pieces) {
		text := strings.TrimSpace(piece)
		if text == "" {
			continue
		}
		kind := Classify(text)
		if kind == KindTransaction {
			return nil, fmt.Errorf("transaction control is not allowed in a migration: %q", text)
		}
		stmts = append(stmts, Statement{Text: text, Kind: kind})
	}
	if len(stmts) == 0 {
		return nil, fmt.Errorf("sql script has no statements")
	}
	return stmts, nil
}

// Classify returns the category of a single statement.
func Classify(stmt string) Kind {
	switch sqlparser.Preview(stmt) {
	case sqlparser.StmtDDL:
		return KindDDL
	case sqlparser.StmtInsert, sqlparser.StmtReplace, sqlparser.StmtUpdate, sqlparser.StmtDelete:
		return KindDML
	case sqlparser.StmtSelect, sqlparser.StmtShow:
		return KindQuery
	case sqlparser.StmtBegin, sqlparser.StmtCommit, sqlparser.StmtRollback:
		return KindTransaction
	default:
		return KindOther
	}
}

var (
	dollarTag     = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)?\$`)
	triggerPrefix = regexp.MustCompile(`(?i)^\s*CREATE\s+(TEMP\s+|TEMPORARY\s+)?TRIGGER\b`)
	blockWord     = regexp.MustCompile(`(?i)\b(BEGIN|CASE|END)\b`)
	literalOrNote = regexp.MustCompile(`(?s)'(?:[^']|'')*'|--[^\n]*|/\*.*?\*/`)
)

// joinBlocks rejoins pieces while the statement built so far still has an
// open block. The splitter drops the separating semicolons, so they are put
// back. An unterminated block at the end is returned as is for the store to
// reject.
func joinBlocks(pieces []string) []string {
	out := make([]string, 0, len(pieces))
	var current string
	open := false
	for _, piece := range pieces {
		if open {
			current += ";" + piece
		} else {
			current = piece
		}
		open = hasOpenBlock(current)
		if !open {
			out = append(out, current)
		}
	}
	if open {
		out = append(out, current)
	}
	return out
}

func hasOpenBlock(stmt string) bool {
	return hasOpenDollarQuote(stmt) || hasOpenTriggerBody(stmt)
}

// hasOpenDollarQuote reports whether a $$ or $tag$ body is not closed.
func hasOpenDollarQuote(stmt string) bool {
	rest := stmt
	for {
		loc := dollarTag.FindStringIndex(rest)
		if loc == nil {
			return false
		}
		tag := rest[loc[0]:loc[1]]
		rest = rest[loc[1]:]
		end := strings.Index(rest, tag)
		if end < 0 {
			return true
		}
		rest = rest[end+len(tag):]
	}
}

// hasOpenTriggerBody reports whether a CREATE TRIGGER statement has seen
// fewer ENDs than the BEGIN and CASE keywords that need one.
func hasOpenTriggerBody(stmt string) bool {
	code := literalOrNote.ReplaceAllString(stmt, " ")
	if !triggerPrefix.MatchString(code) {
		return false
	}
	opened, closed := 0, 0
	for _, word := range blockWord.FindAllString(code, -1) {
		if strings.EqualFold(word, "END") {
			closed++
		} else {
			opened++
		}
	}
	return closed < opened
}
