package database

// convert.go maps extracted record values to pgtype values and back.
//
// Missing values (invalid NullDecimal, DateTime or Quantity, empty strings)
// become SQL NULL so the database never stores a made-up zero.

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/orderimport/internal/extract"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// FromPgText returns the string, or "" for NULL.
func FromPgText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// ToPgNumeric converts a decimal to pgtype.Numeric without going through
// float or string.
func ToPgNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{Valid: false}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

// ToPgDecimal converts a non-null decimal.
func ToPgDecimal(d decimal.Decimal) pgtype.Numeric {
	return ToPgNumeric(decimal.NullDecimal{Decimal: d, Valid: true})
}

// FromPgNumeric converts pgtype.Numeric to a decimal. NULL, NaN and
// infinities are invalid.
func FromPgNumeric(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.NullDecimal{}
	}
	coef := n.Int
	if coef == nil {
		coef = new(big.Int)
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromBigInt(coef, n.Exp), Valid: true}
}

// ToPgTimestamp converts a spreadsheet date-time. The value carries no zone
// and is stored as a TIMESTAMP.
func ToPgTimestamp(dt extract.DateTime) pgtype.Timestamp {
	if !dt.Valid {
		return pgtype.Timestamp{Valid: false}
	}
	return pgtype.Timestamp{Time: dt.Time, Valid: true}
}

// FromPgTimestamp converts a TIMESTAMP back to a spreadsheet date-time.
func FromPgTimestamp(ts pgtype.Timestamp) extract.DateTime {
	if !ts.Valid {
		return extract.DateTime{}
	}
	return extract.DateTime{Time: ts.Time, Valid: true}
}

// ToPgTimestamptz converts an instant. The zero time is NULL.
func ToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// ToPgInt8 converts an item quantity.
func ToPgInt8(q extract.Quantity) pgtype.Int8 {
	return pgtype.Int8{Int64: q.N, Valid: q.Valid}
}

// FromPgInt8 converts a stored quantity.
func FromPgInt8(i pgtype.Int8) extract.Quantity {
	return extract.Quantity{N: i.Int64, Valid: i.Valid}
}

// ToPgUUID converts a UUID. The nil UUID is NULL.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// FromPgUUID converts pgtype.UUID, returning uuid.Nil for NULL.
func FromPgUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return uuid.UUID(u.Bytes)
}
