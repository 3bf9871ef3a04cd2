package relational

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/aretw0/silo/internal/ui"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

func (b *Builder) namespace(base string) string {
	if b.opts.Name == "" {
		return base
	}
	return base + "-" + b.opts.Name
}

func (b *Builder) commands() []*cobra.Command {
	dbal, orm := b.namespace("dbal"), b.namespace("orm")
	return []*cobra.Command{
		b.runSQLCommand(dbal + ":run-sql"),
		b.schemaCreateCommand(orm + ":schema-tool:create"),
		b.schemaUpdateCommand(orm + ":schema-tool:update"),
		b.schemaDropCommand(orm + ":schema-tool:drop"),
		b.validateSchemaCommand(orm + ":validate-schema"),
		b.infoCommand(orm + ":info"),
		b.describeCommand(orm + ":mapping:describe"),
		b.clearMetadataCommand(orm + ":clear-cache:metadata"),
	}
}

func (b *Builder) runSQLCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <sql>",
		Short: fmt.Sprintf("Execute SQL directly on the %q connection", b.opts.Name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			em, err := b.EntityManager(cmd.Context())
			if err != nil {
				return err
			}
			db := em.DB().WithContext(cmd.Context())
			query := strings.TrimSpace(args[0])

			if !returnsRows(query) {
				res := db.Exec(query)
				if res.Error != nil {
					return res.Error
				}
				ui.Success(cmd.OutOrStdout(), "%d rows affected", res.RowsAffected)
				return nil
			}

			rows, err := db.Raw(query).Rows()
			if err != nil {
				return err
			}
			defer rows.Close()
			return printRows(cmd.OutOrStdout(), rows)
		},
	}
}

func returnsRows(query string) bool {
	first, _, _ := strings.Cut(strings.ToUpper(query), " ")
	switch first {
	case "SELECT", "PRAGMA", "WITH", "EXPLAIN", "VALUES":
		return true
	}
	return false
}

type sqlRows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func printRows(out io.Writer, rows sqlRows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, ui.Label(strings.Join(cols, "\t")))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if v == nil {
				v = "NULL"
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return tw.Flush()
}

func (b *Builder) schemaCreateCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Create the tables of every mapped entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			em, err := b.EntityManager(cmd.Context())
			if err != nil {
				return err
			}
			return em.forEachEntity(func(md *metadata.ClassMetadata) error {
				db := em.DB().WithContext(cmd.Context())
				if db.Table(md.Storage).Migrator().HasTable(md.Storage) {
					ui.Warning(cmd.OutOrStdout(), "table %s already exists", md.Storage)
					return nil
				}
				if err := em.createTable(db, md); err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "created table %s (%s)", md.Storage, md.Name)
				return nil
			})
		},
	}
}

func (b *Builder) schemaUpdateCommand(name string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   name,
		Short: "Bring the database schema in line with the mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			em, err := b.EntityManager(cmd.Context())
			if err != nil {
				return err
			}
			return em.forEachEntity(func(md *metadata.ClassMetadata) error {
				db := em.DB().WithContext(cmd.Context())
				if !force {
					missing := em.missingColumns(db, md)
					switch {
					case missing == nil:
						ui.Info(cmd.OutOrStdout(), "%s: table would be created", md.Storage)
					case len(missing) > 0:
						ui.Info(cmd.OutOrStdout(), "%s: columns would be added: %s", md.Storage, strings.Join(missing, ", "))
					default:
						ui.Info(cmd.OutOrStdout(), "%s: in sync", md.Storage)
					}
					return nil
				}
				missing := em.missingColumns(db, md)
				if missing == nil {
					if err := em.createTable(db, md); err != nil {
						return err
					}
					ui.Success(cmd.OutOrStdout(), "created table %s (%s)", md.Storage, md.Name)
					return nil
				}
				migrator := db.Table(md.Storage).Migrator()
				for _, col := range missing {
					if err := migrator.AddColumn(md.NewInstance(), col); err != nil {
						return fmt.Errorf("adding %s.%s: %w", md.Storage, col, err)
					}
				}
				if err := em.ensureIndexes(db, md); err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "updated table %s", md.Storage)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Apply the changes instead of listing them")
	return cmd
}

func (b *Builder) schemaDropCommand(name string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   name,
		Short: "Drop the tables of every mapped entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			em, err := b.EntityManager(cmd.Context())
			if err != nil {
				return err
			}
			return em.forEachEntity(func(md *metadata.ClassMetadata) error {
				if !force {
					ui.Warning(cmd.OutOrStdout(), "table %s would be dropped, use --force to drop it", md.Storage)
					return nil
				}
				db := em.DB().WithContext(cmd.Context())
				if err := db.Migrator().DropTable(md.Storage); err != nil {
					return fmt.Errorf("dropping %s: %w", md.Storage, err)
				}
				ui.Success(cmd.OutOrStdout(), "dropped table %s", md.Storage)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drop the tables")
	return cmd
}

func (b *Builder) validateSchemaCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Validate the mapping and check it against the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			all, err := b.meta.AllMetadata()
			if err != nil {
				ui.Error(out, "[Mapping] %v", err)
				return err
			}
			var problems []string
			for _, md := range all {
				if !md.Embedded && md.Identifier == "" {
					problems = append(problems, fmt.Sprintf("%s has no identifier", md.Name))
				}
			}
			if len(problems) > 0 {
				ui.Error(out, "[Mapping] %s", strings.Join(problems, "; "))
				return fmt.Errorf("mapping is invalid")
			}
			ui.Success(out, "[Mapping] OK")

			em, err := b.EntityManager(cmd.Context())
			if err != nil {
				return err
			}
			db := em.DB().WithContext(cmd.Context())
			err = em.forEachEntity(func(md *metadata.ClassMetadata) error {
				missing := em.missingColumns(db, md)
				switch {
				case missing == nil:
					problems = append(problems, fmt.Sprintf("table %s is missing", md.Storage))
				case len(missing) > 0:
					problems = append(problems, fmt.Sprintf("%s lacks %s", md.Storage, strings.Join(missing, ", ")))
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				ui.Error(out, "[Database] %s", strings.Join(problems, "; "))
				return fmt.Errorf("database schema is not in sync with the mapping")
			}
			ui.Success(out, "[Database] OK")
			return nil
		},
	}
}

func (b *Builder) infoCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "List the mapped entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			classes := b.meta.Classes()
			if len(classes) == 0 {
				ui.Warning(out, "no mapped entities in %q", b.opts.Name)
				return nil
			}
			fmt.Fprintf(out, "Found %d mapped entities:\n", len(classes))
			for _, class := range classes {
				md, err := b.meta.Metadata(class)
				if err != nil {
					ui.Error(out, "[FAIL] %s: %v", class, err)
					continue
				}
				ui.Success(out, "[OK] %s %s", md.Name, ui.DimText("("+md.Storage+")"))
			}
			return nil
		},
	}
}

func (b *Builder) describeCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <class>",
		Short: "Describe the mapping of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := b.meta.Metadata(args[0])
			if err != nil {
				return err
			}
			return describe(cmd.OutOrStdout(), md)
		},
	}
}

func (b *Builder) clearMetadataCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Clear the mapping cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b.meta.Invalidate()
			ui.Success(cmd.OutOrStdout(), "mapping cache of %q cleared", b.opts.Name)
			return nil
		},
	}
}

func describe(out io.Writer, md *metadata.ClassMetadata) error {
	ui.Header(out, md.Name)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Storage\t%s\n", md.Storage)
	fmt.Fprintf(tw, "Identifier\t%s\n", md.Identifier)
	if md.CustomRepository != "" {
		fmt.Fprintf(tw, "Repository\t%s\n", md.CustomRepository)
	}
	fmt.Fprintf(tw, "Embedded\t%t\n", md.Embedded)
	for _, n := range md.FieldNames() {
		f := md.Fields[n]
		var flags []string
		if f.ID {
			flags = append(flags, "id")
		}
		if f.Indexed {
			flags = append(flags, "index")
		}
		if f.Unique {
			flags = append(flags, "unique")
		}
		fmt.Fprintf(tw, "Field %s\t%s %s %s\n", n, f.Key, f.Type, strings.Join(flags, ","))
	}
	for _, n := range md.AssociationNames() {
		a := md.Associations[n]
		kind := "one"
		if a.Many {
			kind = "many"
		}
		fmt.Fprintf(tw, "Association %s\t%s (%s) %s\n", n, a.Target, kind, a.JoinKey)
	}
	for _, idx := range md.Indexes {
		fmt.Fprintf(tw, "Index %s\t%s unique=%t\n", idx.Name, strings.Join(idx.Fields, ","), idx.Unique)
	}
	return tw.Flush()
}

func (m *EntityManager) forEachEntity(fn func(md *metadata.ClassMetadata) error) error {
	all, err := m.meta.AllMetadata()
	if err != nil {
		return err
	}
	for _, md := range all {
		if md.Embedded {
			continue
		}
		if err := fn(md); err != nil {
			return err
		}
	}
	return nil
}

// missingColumns returns nil when the table does not exist.
func (m *EntityManager) missingColumns(db *gorm.DB, md *metadata.ClassMetadata) []string {
	migrator := db.Table(md.Storage).Migrator()
	if !migrator.HasTable(md.Storage) {
		return nil
	}
	missing := []string{}
	for _, n := range md.FieldNames() {
		f := md.Fields[n]
		if !migrator.HasColumn(md.Storage, f.Key) {
			missing = append(missing, f.Key)
		}
	}
	return missing
}

// createTable creates the table of md with its indexes. AutoMigrate cannot be
// scoped with Table() for classes with associations.
func (m *EntityManager) createTable(db *gorm.DB, md *metadata.ClassMetadata) error {
	if err := db.Table(md.Storage).Migrator().CreateTable(md.NewInstance()); err != nil {
		return fmt.Errorf("creating %s: %w", md.Storage, err)
	}
	return m.ensureIndexes(db, md)
}

// ensureIndexes creates the single field and compound indexes of the mapping.
func (m *EntityManager) ensureIndexes(db *gorm.DB, md *metadata.ClassMetadata) error {
	for _, n := range md.FieldNames() {
		f := md.Fields[n]
		if f.ID || (!f.Indexed && !f.Unique) {
			continue
		}
		if err := createIndex(db, md.Storage, fmt.Sprintf("idx_%s_%s", md.Storage, f.Key), f.Unique, f.Key); err != nil {
			return err
		}
	}
	for _, idx := range md.Indexes {
		cols := make([]string, 0, len(idx.Fields))
		for _, field := range idx.Fields {
			col, ok := md.StorageKey(field)
			if !ok {
				return fmt.Errorf("index %q of %s: %w: field %q does not exist", idx.Name, md.Name, core.ErrInvalidOption, field)
			}
			cols = append(cols, col)
		}
		name := idx.Name
		if name == "" {
			name = fmt.Sprintf("idx_%s_%s", md.Storage, strings.Join(cols, "_"))
		}
		if err := createIndex(db, md.Storage, name, idx.Unique, cols...); err != nil {
			return err
		}
	}
	return nil
}

func createIndex(db *gorm.DB, table, name string, unique bool, cols ...string) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = db.Statement.Quote(c)
	}
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, db.Statement.Quote(name), db.Statement.Quote(table), strings.Join(quoted, ", "))
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	return nil
}
