package utils

import (
	"database/sql"
	"time"
)

// ToSQLStr creates new sql str instance
func ToSQLStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FromSQLStr returns string from sql.NullString
func FromSQLStr(sqlStr sql.NullString) string {
	if sqlStr.Valid {
		return sqlStr.String
	}
	return ""
}

// ToSQLTime creates new sql time instance
func ToSQLTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// FromSQLTime returns time from sql.NullTime or zero time
func FromSQLTime(sqlData sql.NullTime) time.Time {
	if sqlData.Valid {
		return sqlData.Time
	}
	return time.Time{}
}
