package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/siteinspect/apiserver/types"
)

// userRefColumns selects the redacted user columns for a joined alias.
// Password and reset-token columns are deliberately absent.
func userRefColumns(alias string) string {
	return fmt.Sprintf("%[1]s.id, %[1]s.user_id, %[1]s.first_name, %[1]s.last_name, %[1]s.email, %[1]s.role", alias)
}

// userRefJoin left-joins users under alias on the given foreign key column.
func userRefJoin(alias, foreignKey string) string {
	return fmt.Sprintf("LEFT JOIN users %[1]s ON %[1]s.id = %[2]s", alias, foreignKey)
}

// userRefScan receives the columns produced by userRefColumns.
type userRefScan struct {
	id        sql.NullString
	userID    sql.NullString
	firstName sql.NullString
	lastName  sql.NullString
	email     sql.NullString
	role      sql.NullInt64
}

func (s *userRefScan) dest() []any {
	return []any{&s.id, &s.userID, &s.firstName, &s.lastName, &s.email, &s.role}
}

// ref decorates the scanned row as a UserRef with its role label. It returns
// nil when the join matched no user.
func (s *userRefScan) ref() *types.UserRef {
	if !s.id.Valid {
		return nil
	}
	return &types.UserRef{
		ID:        s.id.String,
		UserID:    s.userID.String,
		FirstName: s.firstName.String,
		LastName:  s.lastName.String,
		Email:     s.email.String,
		Role:      types.RoleLabelFromCode(s.role.Int64, s.role.Valid),
	}
}

// filter accumulates WHERE conditions and their positional arguments.
type filter struct {
	conds []string
	args  []any
}

// arg binds v and returns its placeholder.
func (f *filter) arg(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

func (f *filter) where(cond string) {
	f.conds = append(f.conds, cond)
}

// search adds a case-insensitive substring match of term across fields.
// The term is quoted so regex metacharacters only match literally.
func (f *filter) search(term string, fields ...string) {
	term = strings.TrimSpace(term)
	if term == "" || len(fields) == 0 {
		return
	}
	placeholder := f.arg(escapePattern(term))
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s ~* %s", field, placeholder))
	}
	f.where("(" + strings.Join(parts, " OR ") + ")")
}

func (f *filter) clause() string {
	if len(f.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(f.conds, " AND ")
}

// page appends OFFSET/LIMIT placeholders for q and returns the SQL suffix.
func (f *filter) page(q types.PageQuery) string {
	q = q.Normalize()
	offset := f.arg(q.Offset())
	limit := f.arg(q.Limit)
	return fmt.Sprintf("OFFSET %s LIMIT %s", offset, limit)
}

// escapePattern quotes every regex metacharacter in term.
func escapePattern(term string) string {
	return regexp.QuoteMeta(term)
}

// fullName is the SQL expression matching "first last" of a joined user.
func fullName(alias string) string {
	return fmt.Sprintf("COALESCE(%[1]s.first_name, '') || ' ' || COALESCE(%[1]s.last_name, '')", alias)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullUUID is like nullString but also drops malformed ids.
func nullUUID(id string) sql.NullString {
	id, ok := normalizeID(id)
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}
