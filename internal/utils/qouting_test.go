package utils

import (
	"testing"
	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	testCases := []struct {
		name     string
		inputName string
		dialect  string
		expected string
	}{
		{"MySQL Basic", "my_table", "mysql", "`my_table`"},
		{"MySQL With Backtick", "my`table", "mysql", "`my``table`"},
		{"PostgreSQL Basic", "MyTable", "postgres", `"MyTable"`},
		{"PostgreSQL With Quote", `My"Table`, "postgres", `"My""Table"`},
		{"SQLite Basic", "some_column", "sqlite", `"some_column"`},
		{"SQLite With Quote", `another"column`, "sqlite", `"another""column"`},
		{"Unknown Dialect Fallback", "fallback_id", "unknown", `"fallback_id"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual := QuoteIdentifier(tc.inputName, tc.dialect)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestUnquoteIdentifier(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		dialect  string
		expected string
	}{
		{"MySQL Basic", "`my_table`", "mysql", "my_table"},
		{"MySQL With Escaped Backtick", "`my``table`", "mysql", "my`table"},
		{"PostgreSQL Basic", `"MyTable"`, "postgres", "MyTable"},
		{"PostgreSQL With Escaped Quote", `"My""Table"`, "postgres", `My"Table`},
		{"Unquoted Passthrough", "plain_name", "postgres", "plain_name"},
		{"Wrong Quote Style Passthrough", `"quoted"`, "mysql", `"quoted"`},
		{"Too Short", "x", "mysql", "x"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual := UnquoteIdentifier(tc.input, tc.dialect)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestQuoteStringLiteral(t *testing.T) {
	assert.Equal(t, "'hello'", QuoteStringLiteral("hello"))
	assert.Equal(t, "'it''s'", QuoteStringLiteral("it's"))
	assert.Equal(t, "''", QuoteStringLiteral(""))
	assert.Equal(t, "'a''''b'", QuoteStringLiteral("a''b"))
}
