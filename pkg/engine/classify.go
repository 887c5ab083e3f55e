package engine

import (
	"strings"
	"unicode"
)

// StatementType represents the type of SQL statement.
type StatementType int

const (
	StatementTypeDDL     StatementType = iota // CREATE, DROP, ALTER
	StatementTypeDML                          // INSERT, UPDATE, DELETE, COPY
	StatementTypeDQL                          // SELECT, WITH, VALUES, FROM
	StatementTypeTCL                          // BEGIN, COMMIT, ROLLBACK
	StatementTypeUtility                      // SHOW, DESCRIBE, EXPLAIN, SET, USE, PRAGMA
	StatementTypeOther
)

// String returns the string representation of the statement type.
func (st StatementType) String() string {
	switch st {
	case StatementTypeDDL:
		return "DDL"
	case StatementTypeDML:
		return "DML"
	case StatementTypeDQL:
		return "DQL"
	case StatementTypeTCL:
		return "TCL"
	case StatementTypeUtility:
		return "UTILITY"
	case StatementTypeOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// StatementInfo describes how a statement has to be executed.
type StatementInfo struct {
	Type             StatementType
	Keyword          string
	ExpectsResultSet bool
}

var leadingKeywords = map[string]StatementInfo{
	"CREATE":   {Type: StatementTypeDDL},
	"DROP":     {Type: StatementTypeDDL},
	"ALTER":    {Type: StatementTypeDDL},
	"TRUNCATE": {Type: StatementTypeDDL},
	"COMMENT":  {Type: StatementTypeDDL},

	"INSERT": {Type: StatementTypeDML},
	"UPDATE": {Type: StatementTypeDML},
	"DELETE": {Type: StatementTypeDML},
	"MERGE":  {Type: StatementTypeDML},
	"COPY":   {Type: StatementTypeDML},

	"SELECT":    {Type: StatementTypeDQL, ExpectsResultSet: true},
	"WITH":      {Type: StatementTypeDQL, ExpectsResultSet: true},
	"VALUES":    {Type: StatementTypeDQL, ExpectsResultSet: true},
	"TABLE":     {Type: StatementTypeDQL, ExpectsResultSet: true},
	"FROM":      {Type: StatementTypeDQL, ExpectsResultSet: true},
	"PIVOT":     {Type: StatementTypeDQL, ExpectsResultSet: true},
	"UNPIVOT":   {Type: StatementTypeDQL, ExpectsResultSet: true},
	"SUMMARIZE": {Type: StatementTypeDQL, ExpectsResultSet: true},

	"BEGIN":    {Type: StatementTypeTCL},
	"START":    {Type: StatementTypeTCL},
	"COMMIT":   {Type: StatementTypeTCL},
	"END":      {Type: StatementTypeTCL},
	"ROLLBACK": {Type: StatementTypeTCL},
	"ABORT":    {Type: StatementTypeTCL},

	"SHOW":       {Type: StatementTypeUtility, ExpectsResultSet: true},
	"DESCRIBE":   {Type: StatementTypeUtility, ExpectsResultSet: true},
	"DESC":       {Type: StatementTypeUtility, ExpectsResultSet: true},
	"EXPLAIN":    {Type: StatementTypeUtility, ExpectsResultSet: true},
	"PRAGMA":     {Type: StatementTypeUtility, ExpectsResultSet: true},
	"CALL":       {Type: StatementTypeUtility, ExpectsResultSet: true},
	"SET":        {Type: StatementTypeUtility},
	"RESET":      {Type: StatementTypeUtility},
	"USE":        {Type: StatementTypeUtility},
	"ATTACH":     {Type: StatementTypeUtility},
	"DETACH":     {Type: StatementTypeUtility},
	"CHECKPOINT": {Type: StatementTypeUtility},
	"VACUUM":     {Type: StatementTypeUtility},
	"ANALYZE":    {Type: StatementTypeUtility},
	"INSTALL":    {Type: StatementTypeUtility},
	"LOAD":       {Type: StatementTypeUtility},
	"EXPORT":     {Type: StatementTypeUtility},
	"IMPORT":     {Type: StatementTypeUtility},
}

// Classify inspects the leading keyword of stmt. Unknown statements are sent
// as updates; a RETURNING clause turns DML into a result set.
func Classify(stmt string) StatementInfo {
	body := stripLeading(stmt)
	keyword := strings.ToUpper(firstWord(body))

	info, ok := leadingKeywords[keyword]
	if !ok {
		info = StatementInfo{Type: StatementTypeOther}
	}
	info.Keyword = keyword

	if info.Type == StatementTypeDML && containsWord(body, "RETURNING") {
		info.ExpectsResultSet = true
	}

	return info
}

// stripLeading removes whitespace, comments and opening parentheses in front of
// the first keyword.
func stripLeading(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
			} else {
				return ""
			}
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
			} else {
				return ""
			}
		case strings.HasPrefix(s, "("):
			s = s[1:]
		default:
			return s
		}
	}
}

func firstWord(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	}) {
		if f == word {
			return true
		}
	}
	return false
}
