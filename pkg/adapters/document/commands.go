package document

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aretw0/silo/internal/ui"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

func (b *Builder) namespace() string {
	if b.opts.Name == "" {
		return "odm"
	}
	return "odm-" + b.opts.Name
}

func (b *Builder) commands() []*cobra.Command {
	odm := b.namespace()
	return []*cobra.Command{
		b.queryCommand(odm + ":query"),
		b.schemaCreateCommand(odm + ":schema:create"),
		b.schemaUpdateCommand(odm + ":schema:update"),
		b.schemaDropCommand(odm + ":schema:drop"),
		b.clearMetadataCommand(odm + ":clear-cache:metadata"),
	}
}

// ParseFilter parses a relaxed extended JSON filter. An empty string
// matches every document.
func ParseFilter(s string) (bson.D, error) {
	filter := bson.D{}
	if strings.TrimSpace(s) == "" {
		return filter, nil
	}
	if err := bson.UnmarshalExtJSON([]byte(s), false, &filter); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return filter, nil
}

func (b *Builder) queryCommand(name string) *cobra.Command {
	var limit, skip int64
	cmd := &cobra.Command{
		Use:   name + " <class> [filter-json]",
		Short: "Query the documents of a class",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := b.meta.Metadata(args[0])
			if err != nil {
				return err
			}
			var raw string
			if len(args) == 2 {
				raw = args[1]
			}
			filter, err := ParseFilter(raw)
			if err != nil {
				return err
			}

			dm, err := b.DocumentManager(cmd.Context())
			if err != nil {
				return err
			}
			opts := options.Find().SetLimit(limit)
			if skip > 0 {
				opts.SetSkip(skip)
			}
			cur, err := dm.Collection(md).Find(cmd.Context(), filter, opts)
			if err != nil {
				return err
			}
			defer cur.Close(cmd.Context())

			out := cmd.OutOrStdout()
			n := 0
			for cur.Next(cmd.Context()) {
				fmt.Fprintln(out, cur.Current.String())
				n++
			}
			if err := cur.Err(); err != nil {
				return err
			}
			fmt.Fprintln(out, ui.DimText(fmt.Sprintf("%d documents", n)))
			return nil
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 20, "Maximum number of documents")
	cmd.Flags().Int64Var(&skip, "skip", 0, "Number of documents to skip")
	return cmd
}

func (b *Builder) schemaCreateCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Create the collections and indexes of every mapped document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm, err := b.DocumentManager(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			existing, err := dm.collections(ctx)
			if err != nil {
				return err
			}
			return dm.forEachDocument(func(md *metadata.ClassMetadata) error {
				if existing[md.Storage] {
					ui.Warning(cmd.OutOrStdout(), "collection %s already exists", md.Storage)
				} else if err := dm.db.CreateCollection(ctx, md.Storage); err != nil {
					return fmt.Errorf("creating %s: %w", md.Storage, err)
				}
				if err := dm.ensureIndexes(ctx, md); err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "created collection %s (%s)", md.Storage, md.Name)
				return nil
			})
		},
	}
}

func (b *Builder) schemaUpdateCommand(name string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   name,
		Short: "Ensure the indexes of every mapped document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				all, err := b.meta.AllMetadata()
				if err != nil {
					return err
				}
				for _, md := range all {
					if md.Embedded {
						continue
					}
					models, err := IndexModels(md)
					if err != nil {
						return err
					}
					for _, idx := range models {
						ui.Info(cmd.OutOrStdout(), "%s: index %s would be ensured", md.Storage, *idx.Options.Name)
					}
				}
				return nil
			}
			dm, err := b.DocumentManager(cmd.Context())
			if err != nil {
				return err
			}
			return dm.forEachDocument(func(md *metadata.ClassMetadata) error {
				if err := dm.ensureIndexes(cmd.Context(), md); err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "updated indexes of %s", md.Storage)
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
		Short: "Drop the collections of every mapped document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				for _, class := range b.meta.Classes() {
					md, err := b.meta.Metadata(class)
					if err != nil {
						return err
					}
					if !md.Embedded {
						ui.Warning(cmd.OutOrStdout(), "collection %s would be dropped, use --force to drop it", md.Storage)
					}
				}
				return nil
			}
			dm, err := b.DocumentManager(cmd.Context())
			if err != nil {
				return err
			}
			return dm.forEachDocument(func(md *metadata.ClassMetadata) error {
				if err := dm.Collection(md).Drop(cmd.Context()); err != nil {
					return fmt.Errorf("dropping %s: %w", md.Storage, err)
				}
				ui.Success(cmd.OutOrStdout(), "dropped collection %s", md.Storage)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drop the collections")
	return cmd
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

// IndexModels returns the indexes of a class: one per indexed or unique
// field, then the compound indexes.
func IndexModels(md *metadata.ClassMetadata) ([]mongo.IndexModel, error) {
	var models []mongo.IndexModel
	for _, n := range md.FieldNames() {
		f := md.Fields[n]
		if f.ID || (!f.Indexed && !f.Unique) {
			continue
		}
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: f.Key, Value: 1}},
			Options: options.Index().SetName(f.Key + "_1").SetUnique(f.Unique),
		})
	}
	for _, idx := range md.Indexes {
		keys := bson.D{}
		parts := make([]string, 0, len(idx.Fields))
		for _, field := range idx.Fields {
			key, ok := md.StorageKey(field)
			if !ok {
				return nil, fmt.Errorf("index %q of %s: %w: field %q does not exist", idx.Name, md.Name, core.ErrInvalidOption, field)
			}
			keys = append(keys, bson.E{Key: key, Value: 1})
			parts = append(parts, key+"_1")
		}
		name := idx.Name
		if name == "" {
			name = strings.Join(parts, "_")
		}
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(name).SetUnique(idx.Unique),
		})
	}
	return models, nil
}

func (m *DocumentManager) ensureIndexes(ctx context.Context, md *metadata.ClassMetadata) error {
	models, err := IndexModels(md)
	if err != nil || len(models) == 0 {
		return err
	}
	if _, err := m.Collection(md).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("creating indexes of %s: %w", md.Storage, err)
	}
	return nil
}

func (m *DocumentManager) collections(ctx context.Context) (map[string]bool, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

func (m *DocumentManager) forEachDocument(fn func(md *metadata.ClassMetadata) error) error {
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
