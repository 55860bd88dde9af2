package driver

import (
	"regexp"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" // required to register TiDB parser driver implementations
)

// Statements the AST parser does not understand are classified by their
// leading keywords. Longer prefixes come first.
var keywordKinds = []struct {
	prefix      string
	destructive string
}{
	{prefix: "CREATE OR REPLACE FUNCTION"},
	{prefix: "CREATE FUNCTION"},
	{prefix: "CREATE TRIGGER"},
	{prefix: "CREATE TYPE"},
	{prefix: "CREATE TABLE"},
	{prefix: "CREATE SCHEMA"},
	{prefix: "CREATE INDEX"},
	{prefix: "ALTER FUNCTION"},
	{prefix: "ALTER TRIGGER"},
	{prefix: "ALTER TYPE"},
	{prefix: "ALTER TABLE"},
	{prefix: "COMMENT ON"},
	{prefix: "DROP FUNCTION"},
	{prefix: "DROP TRIGGER"},
	{prefix: "DROP TYPE"},
	{prefix: "DROP TABLE", destructive: "DROP TABLE will permanently delete the table and all its data"},
	{prefix: "DROP SCHEMA", destructive: "DROP SCHEMA will permanently delete every object in the schema"},
	{prefix: "TRUNCATE", destructive: "TRUNCATE will delete all rows from the table"},
	{prefix: "DELETE", destructive: "DELETE will remove rows from the table"},
	{prefix: "INSERT"},
	{prefix: "UPDATE"},
	{prefix: "SELECT"},
	{prefix: "WITH"},
	{prefix: "DO"},
}

var dropColumnRe = regexp.MustCompile(`(?i)\bDROP\s+COLUMN\b`)

// StatementAnalysis is the classification of one statement.
type StatementAnalysis struct {
	StatementType     string
	IsDestructive     bool
	DestructiveReason string
}

// StatementAnalyzer uses TiDB's AST parser in ANSI_QUOTES mode so that
// double-quoted PostgreSQL identifiers parse, and falls back to keywords for
// PostgreSQL-only syntax.
type StatementAnalyzer struct {
	parser *parser.Parser
}

// NewStatementAnalyzer creates a new AST-based statement analyzer.
func NewStatementAnalyzer() *StatementAnalyzer {
	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes)
	return &StatementAnalyzer{parser: p}
}

// AnalyzeStatement classifies a single SQL statement.
func (a *StatementAnalyzer) AnalyzeStatement(sql string) *StatementAnalysis {
	stmtNodes, _, err := a.parser.Parse(sql, "", "")
	if err != nil || len(stmtNodes) == 0 {
		return a.analyzeKeywords(sql)
	}
	analysis := a.analyzeNode(stmtNodes[0])
	if analysis == nil {
		return a.analyzeKeywords(sql)
	}
	return analysis
}

func (a *StatementAnalyzer) analyzeNode(node ast.StmtNode) *StatementAnalysis {
	switch stmt := node.(type) {
	case *ast.DropTableStmt:
		return &StatementAnalysis{
			StatementType:     "DROP TABLE",
			IsDestructive:     true,
			DestructiveReason: "DROP TABLE will permanently delete the table and all its data",
		}
	case *ast.TruncateTableStmt:
		return &StatementAnalysis{
			StatementType:     "TRUNCATE TABLE",
			IsDestructive:     true,
			DestructiveReason: "TRUNCATE TABLE will delete all rows from the table",
		}
	case *ast.DeleteStmt:
		return &StatementAnalysis{
			StatementType:     "DELETE",
			IsDestructive:     true,
			DestructiveReason: "DELETE will remove rows from the table",
		}
	case *ast.CreateTableStmt:
		return &StatementAnalysis{StatementType: "CREATE TABLE"}
	case *ast.InsertStmt:
		return &StatementAnalysis{StatementType: "INSERT"}
	case *ast.UpdateStmt:
		return &StatementAnalysis{StatementType: "UPDATE"}
	case *ast.SelectStmt:
		return &StatementAnalysis{StatementType: "SELECT"}
	case *ast.AlterTableStmt:
		analysis := &StatementAnalysis{StatementType: "ALTER TABLE"}
		for _, spec := range stmt.Specs {
			if spec.Tp == ast.AlterTableDropColumn {
				analysis.IsDestructive = true
				analysis.DestructiveReason = "DROP COLUMN will permanently delete the column and its data"
			}
		}
		return analysis
	default:
		return nil
	}
}

func (a *StatementAnalyzer) analyzeKeywords(sql string) *StatementAnalysis {
	upper := strings.ToUpper(strings.Join(strings.Fields(sql), " "))
	analysis := &StatementAnalysis{StatementType: "OTHER"}
	for _, k := range keywordKinds {
		if strings.HasPrefix(upper, k.prefix) {
			analysis.StatementType = k.prefix
			if k.destructive != "" {
				analysis.IsDestructive = true
				analysis.DestructiveReason = k.destructive
			}
			break
		}
	}
	if analysis.StatementType == "ALTER TABLE" && dropColumnRe.MatchString(sql) {
		analysis.IsDestructive = true
		analysis.DestructiveReason = "DROP COLUMN will permanently delete the column and its data"
	}
	return analysis
}
