// Package services contains the engine's business logic. Services are
// constructed once at startup and wired together in main.
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/models"
)

// SchemaCatalog loads the warehouse schema dump and serves it to the
// generation pipeline. The full table list feeds stage 1; the filtered,
// formatted subset feeds stage 2.
type SchemaCatalog interface {
	// Schema returns the current schema snapshot.
	Schema() (*models.Schema, error)

	// TableNames returns all table names sorted alphabetically.
	TableNames() ([]string, error)

	// FilterByTables returns a schema containing only the named tables.
	// Unknown names are dropped with a warning, never an error.
	FilterByTables(tableNames []string) (*models.Schema, error)

	// FormatForLLM renders a schema as readable text for prompt context.
	FormatForLLM(schema *models.Schema, opts FormatOptions) string

	// TableInfo returns one table's definition, or nil if absent.
	TableInfo(tableName string) (*models.Table, error)

	// SearchTables returns table names containing the keyword.
	SearchTables(keyword string) ([]string, error)

	// Refresh reloads the schema dump from disk and swaps the snapshot.
	Refresh() (*models.Schema, error)
}

// FormatOptions controls schema rendering.
type FormatOptions struct {
	IncludeDescriptions bool
	IncludeForeignKeys  bool
}

// DefaultFormatOptions includes everything.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{IncludeDescriptions: true, IncludeForeignKeys: true}
}

type schemaCatalog struct {
	schemaFile string
	logger     *zap.Logger
	snapshot   atomic.Pointer[models.Schema]
}

// NewSchemaCatalog creates a catalog reading from schemaFile. Loading is
// lazy; the first call that needs the schema loads it.
func NewSchemaCatalog(schemaFile string, logger *zap.Logger) SchemaCatalog {
	return &schemaCatalog{
		schemaFile: schemaFile,
		logger:     logger.Named("schema_catalog"),
	}
}

var _ SchemaCatalog = (*schemaCatalog)(nil)

func (c *schemaCatalog) Schema() (*models.Schema, error) {
	if snap := c.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return c.Refresh()
}

func (c *schemaCatalog) Refresh() (*models.Schema, error) {
	data, err := os.ReadFile(c.schemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", c.schemaFile, err)
	}

	var rows []models.SchemaRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", c.schemaFile, err)
	}

	schema := transformSchema(rows)
	c.snapshot.Store(schema)

	c.logger.Info("Loaded schema",
		zap.Int("tables", len(schema.TableNames)),
		zap.Int("rows", len(rows)),
	)

	return schema, nil
}

func (c *schemaCatalog) TableNames() ([]string, error) {
	schema, err := c.Schema()
	if err != nil {
		return nil, err
	}
	return schema.TableNames, nil
}

func (c *schemaCatalog) FilterByTables(tableNames []string) (*models.Schema, error) {
	schema, err := c.Schema()
	if err != nil {
		return nil, err
	}

	filtered := &models.Schema{Tables: make(map[string]*models.Table)}
	var missing []string
	for _, name := range tableNames {
		if table, ok := schema.Tables[name]; ok {
			filtered.Tables[name] = table
		} else {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		c.logger.Warn("Requested tables not in schema", zap.Strings("tables", missing))
	}

	filtered.TableNames = make([]string, 0, len(filtered.Tables))
	for name := range filtered.Tables {
		filtered.TableNames = append(filtered.TableNames, name)
	}
	sort.Strings(filtered.TableNames)

	c.logger.Debug("Filtered schema",
		zap.Int("selected", len(filtered.TableNames)),
		zap.Int("total", len(schema.TableNames)),
	)

	return filtered, nil
}

func (c *schemaCatalog) FormatForLLM(schema *models.Schema, opts FormatOptions) string {
	var lines []string

	for _, tableName := range schema.TableNames {
		table := schema.Tables[tableName]

		lines = append(lines, fmt.Sprintf("\nTable: %s", tableName))

		if opts.IncludeDescriptions && table.Description != "" {
			lines = append(lines, fmt.Sprintf("  Description: %s", table.Description))
		}

		lines = append(lines, "  Columns:")
		pks := make(map[string]bool, len(table.PrimaryKeys))
		for _, pk := range table.PrimaryKeys {
			pks[pk] = true
		}
		for _, col := range table.Columns {
			parts := []string{col.Name, "(" + col.Type}
			if col.Nullable {
				parts = append(parts, "NULL")
			} else {
				parts = append(parts, "NOT NULL")
			}
			if pks[col.Name] {
				parts = append(parts, "PRIMARY KEY")
			}
			parts = append(parts, ")")

			line := "    - " + strings.Join(parts, " ")
			if opts.IncludeDescriptions && col.Description != "" {
				line += " -- " + col.Description
			}
			lines = append(lines, line)
		}

		if opts.IncludeForeignKeys && len(table.ForeignKeys) > 0 {
			lines = append(lines, "  Foreign Keys:")
			for _, fk := range table.ForeignKeys {
				lines = append(lines, fmt.Sprintf("    - %s -> %s.%s",
					fk.Column, fk.ReferencesTable, fk.ReferencesColumn))
			}
		}
	}

	return strings.Join(lines, "\n")
}

func (c *schemaCatalog) TableInfo(tableName string) (*models.Table, error) {
	schema, err := c.Schema()
	if err != nil {
		return nil, err
	}
	return schema.Tables[tableName], nil
}

func (c *schemaCatalog) SearchTables(keyword string) ([]string, error) {
	schema, err := c.Schema()
	if err != nil {
		return nil, err
	}

	keywordLower := strings.ToLower(keyword)
	var matches []string
	for _, name := range schema.TableNames {
		if strings.Contains(strings.ToLower(name), keywordLower) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// transformSchema converts the flat column dump into the hierarchical
// form the pipeline works with. Rows without a table name are skipped;
// duplicate foreign key rows collapse to one entry.
func transformSchema(rows []models.SchemaRow) *models.Schema {
	tables := make(map[string]*models.Table)

	for _, row := range rows {
		if row.TableName == "" {
			continue
		}

		table, ok := tables[row.TableName]
		if !ok {
			table = &models.Table{Description: row.TableDescription}
			tables[row.TableName] = table
		}

		table.Columns = append(table.Columns, models.Column{
			Name:        row.ColumnName,
			Type:        row.DataType,
			Nullable:    row.IsNullable,
			Description: row.ColumnDescription,
		})

		if row.IsPrimaryKey == "YES" {
			table.PrimaryKeys = append(table.PrimaryKeys, row.ColumnName)
		}

		if row.TargetTable != "" && row.TargetColumn != "" {
			fk := models.ForeignKey{
				Column:           row.ColumnName,
				ReferencesTable:  row.TargetTable,
				ReferencesColumn: row.TargetColumn,
			}
			duplicate := false
			for _, existing := range table.ForeignKeys {
				if existing == fk {
					duplicate = true
					break
				}
			}
			if !duplicate {
				table.ForeignKeys = append(table.ForeignKeys, fk)
			}
		}
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	return &models.Schema{Tables: tables, TableNames: names}
}
