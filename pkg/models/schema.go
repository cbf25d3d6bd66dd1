// Package models defines the domain types shared across services and
// repositories.
package models

// Column describes one column of a warehouse table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description,omitempty"`
}

// ForeignKey describes one outgoing reference from a table.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencesTable  string `json:"references_table"`
	ReferencesColumn string `json:"references_column"`
}

// Table describes a warehouse table: ordered columns, primary keys and
// outgoing foreign keys.
type Table struct {
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Description string       `json:"description,omitempty"`
}

// Schema is the hierarchical view of the warehouse built from the flat
// column-level dump. TableNames is sorted; Tables preserves original
// name casing while lookups are case-insensitive at the service layer.
type Schema struct {
	Tables     map[string]*Table `json:"tables"`
	TableNames []string          `json:"table_names"`
}

// SchemaRow is one record of the flat column-level schema dump.
type SchemaRow struct {
	TableName         string `json:"table_name"`
	ColumnName        string `json:"column_name"`
	DataType          string `json:"data_type"`
	IsNullable        bool   `json:"is_nullable"`
	IsPrimaryKey      string `json:"is_primary_key"` // "YES" marks a primary key column
	TargetTable       string `json:"target_table,omitempty"`
	TargetColumn      string `json:"target_column,omitempty"`
	TableDescription  string `json:"table_description,omitempty"`
	ColumnDescription string `json:"column_description,omitempty"`
}
