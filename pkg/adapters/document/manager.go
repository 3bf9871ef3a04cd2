package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aretw0/silo/internal/metrics"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

// DocumentManager is a core.Manager over a mongo database.
type DocumentManager struct {
	name        string
	client      *mongo.Client
	ownsClient  bool
	db          *mongo.Database
	meta        *metadata.Factory
	repos       core.RepositoryFactory
	uow         *core.UnitOfWork
	events      *core.EventManager
	logger      *slog.Logger
	defaultRepo string
}

// Name implements core.Manager.
func (m *DocumentManager) Name() string { return m.name }

// DefaultRepository returns the repository used for classes without one.
func (m *DocumentManager) DefaultRepository() string { return m.defaultRepo }

// Client returns the mongo client.
func (m *DocumentManager) Client() *mongo.Client { return m.client }

// Database returns the default database.
func (m *DocumentManager) Database() *mongo.Database { return m.db }

// MetadataFactory returns the mapping factory.
func (m *DocumentManager) MetadataFactory() *metadata.Factory { return m.meta }

// Collection returns the collection of a class.
func (m *DocumentManager) Collection(md *metadata.ClassMetadata) *mongo.Collection {
	return m.db.Collection(md.Storage)
}

// Metadata implements core.Manager.
func (m *DocumentManager) Metadata(class any) (*metadata.ClassMetadata, error) {
	return m.meta.Metadata(class)
}

// Repository implements core.Manager.
func (m *DocumentManager) Repository(class any) (any, error) {
	name, err := m.meta.ClassName(class)
	if err != nil {
		return nil, err
	}
	return m.repos.Repository(m, name)
}

// Find implements core.Manager.
func (m *DocumentManager) Find(ctx context.Context, md *metadata.ClassMetadata, id any) (any, error) {
	if md.Identifier == "" {
		return nil, fmt.Errorf("%w: class %q has no identifier", core.ErrMissingIdentifier, md.Name)
	}
	if obj, ok := m.uow.Lookup(core.IdentityKey(md.Name, id)); ok {
		return obj, nil
	}
	return m.FindOneBy(ctx, md, core.Criteria{md.Identifier: id}, nil)
}

// FindBy implements core.Manager.
func (m *DocumentManager) FindBy(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]any, error) {
	filter, err := m.Filter(md, criteria)
	if err != nil {
		return nil, err
	}
	order, err := m.Sort(md, orderBy)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(order) > 0 {
		opts.SetSort(order)
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}

	cur, err := m.Collection(md).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", md.Name, err)
	}
	defer cur.Close(ctx)

	var out []any
	for cur.Next(ctx) {
		obj := md.NewInstance()
		if err := cur.Decode(obj); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", md.Name, err)
		}
		obj, err = m.loaded(ctx, md, obj)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", md.Name, err)
	}
	return out, nil
}

// FindOneBy implements core.Manager.
func (m *DocumentManager) FindOneBy(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria, orderBy core.Order) (any, error) {
	found, err := m.FindBy(ctx, md, criteria, orderBy, 1, 0)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Count implements core.Manager.
func (m *DocumentManager) Count(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria) (int64, error) {
	filter, err := m.Filter(md, criteria)
	if err != nil {
		return 0, err
	}
	n, err := m.Collection(md).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", md.Name, err)
	}
	return n, nil
}

// Persist implements core.Manager.
func (m *DocumentManager) Persist(obj any) error {
	if _, err := m.document(obj); err != nil {
		return err
	}
	m.uow.Schedule(core.OpSave, obj)
	return nil
}

// Remove implements core.Manager.
func (m *DocumentManager) Remove(obj any) error {
	if _, err := m.document(obj); err != nil {
		return err
	}
	m.uow.Schedule(core.OpDelete, obj)
	return nil
}

// Merge implements core.Manager. Saves replace whole documents, so merging
// schedules a save.
func (m *DocumentManager) Merge(obj any) error {
	return m.Persist(obj)
}

// Detach implements core.Manager.
func (m *DocumentManager) Detach(obj any) { m.uow.Detach(obj) }

// Contains implements core.Manager.
func (m *DocumentManager) Contains(obj any) bool { return m.uow.Contains(obj) }

// Clear implements core.Manager.
func (m *DocumentManager) Clear() { m.uow.Clear() }

// Refresh implements core.Manager.
func (m *DocumentManager) Refresh(ctx context.Context, obj any) error {
	md, err := m.document(obj)
	if err != nil {
		return err
	}
	if !md.HasIdentifierValue(obj) {
		return fmt.Errorf("%w: cannot refresh %s", core.ErrMissingIdentifier, md.Name)
	}
	id, _ := md.IdentifierValue(obj)
	key, _ := md.StorageKey(md.Identifier)

	fresh := md.NewInstance()
	err = m.Collection(md).FindOne(ctx, bson.D{{Key: key, Value: id}}).Decode(fresh)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s %v", core.ErrNotFound, md.Name, id)
	}
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", md.Name, err)
	}

	reflect.ValueOf(obj).Elem().Set(reflect.ValueOf(fresh).Elem())
	return m.events.Dispatch(ctx, core.Event{Name: core.PostLoad, Manager: m.name, Object: obj})
}

// Flush implements core.Manager. Changes are written in scheduling order;
// a failed write leaves it and the following changes scheduled.
func (m *DocumentManager) Flush(ctx context.Context) error {
	defer metrics.ObserveFlush(Kind, time.Now())

	if err := m.events.Dispatch(ctx, core.Event{Name: core.PreFlush, Manager: m.name}); err != nil {
		return err
	}

	ops := m.uow.Pending()
	for _, op := range ops {
		name := core.PrePersist
		if op.Kind == core.OpDelete {
			name = core.PreRemove
		}
		if err := m.events.Dispatch(ctx, core.Event{Name: name, Manager: m.name, Object: op.Object}); err != nil {
			return err
		}
	}

	for i, op := range ops {
		md, err := m.meta.Metadata(op.Object)
		if err != nil {
			return err
		}
		if op.Kind == core.OpSave {
			err = m.save(ctx, md, op.Object)
		} else {
			err = m.delete(ctx, md, op.Object)
		}
		if err != nil {
			m.uow.Complete(ops[:i])
			return fmt.Errorf("%s %s: %w", op.Kind, md.Name, err)
		}
		if op.Kind == core.OpSave {
			id, _ := md.IdentifierValue(op.Object)
			m.uow.Attach(core.IdentityKey(md.Name, id), op.Object)
		}
	}
	m.uow.Complete(ops)
	m.logger.Debug("flushed", "manager", m.name, "operations", len(ops))

	return m.events.Dispatch(ctx, core.Event{Name: core.PostFlush, Manager: m.name})
}

func (m *DocumentManager) save(ctx context.Context, md *metadata.ClassMetadata, obj any) error {
	if err := assignIdentifier(md, obj); err != nil {
		return err
	}
	coll := m.Collection(md)

	if md.Identifier == "" || !md.HasIdentifierValue(obj) {
		if err := generatedIdentifierFits(md); err != nil {
			return err
		}
		res, err := coll.InsertOne(ctx, obj)
		if err != nil {
			return err
		}
		if md.Identifier != "" {
			return md.SetIdentifierValue(obj, res.InsertedID)
		}
		return nil
	}

	id, _ := md.IdentifierValue(obj)
	key, _ := md.StorageKey(md.Identifier)
	_, err := coll.ReplaceOne(ctx, bson.D{{Key: key, Value: id}}, obj, options.Replace().SetUpsert(true))
	return err
}

func (m *DocumentManager) delete(ctx context.Context, md *metadata.ClassMetadata, obj any) error {
	if !md.HasIdentifierValue(obj) {
		return fmt.Errorf("%w: cannot remove %s", core.ErrMissingIdentifier, md.Name)
	}
	id, _ := md.IdentifierValue(obj)
	key, _ := md.StorageKey(md.Identifier)
	_, err := m.Collection(md).DeleteOne(ctx, bson.D{{Key: key, Value: id}})
	return err
}

// assignIdentifier gives new documents an ObjectID or a UUID depending on
// the identifier type.
func assignIdentifier(md *metadata.ClassMetadata, obj any) error {
	value, ok := md.IdentifierValue(obj)
	if !ok {
		return nil
	}
	if oid, isOID := value.(primitive.ObjectID); isOID && oid.IsZero() {
		return md.SetIdentifierValue(obj, primitive.NewObjectID())
	}
	return core.AssignIdentifier(md, obj)
}

var objectIDType = reflect.TypeOf(primitive.ObjectID{})

// generatedIdentifierFits checks that the ObjectID generated on insert can be
// written back to the identifier of md.
func generatedIdentifierFits(md *metadata.ClassMetadata) error {
	f, ok := md.IdentifierField()
	if !ok || objectIDType.AssignableTo(f.Type) {
		return nil
	}
	return fmt.Errorf("%w: %s identifier of type %s must be set before saving", core.ErrMissingIdentifier, md.Name, f.Type)
}

// Close implements core.Manager.
func (m *DocumentManager) Close(ctx context.Context) error {
	m.uow.Clear()
	if !m.ownsClient {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// Filter translates criteria into a bson filter. Slices become $in clauses
// and association objects match on their identifier.
func (m *DocumentManager) Filter(md *metadata.ClassMetadata, criteria core.Criteria) (bson.D, error) {
	fields := make([]string, 0, len(criteria))
	for f := range criteria {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	filter := bson.D{}
	for _, f := range fields {
		key, value, err := m.criterion(md, f, criteria[f])
		if err != nil {
			return nil, err
		}

		rv := reflect.ValueOf(value)
		if rv.IsValid() && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			values := bson.A{}
			for i := 0; i < rv.Len(); i++ {
				_, v, err := m.criterion(md, f, rv.Index(i).Interface())
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			filter = append(filter, bson.E{Key: key, Value: bson.D{{Key: "$in", Value: values}}})
			continue
		}
		filter = append(filter, bson.E{Key: key, Value: value})
	}
	return filter, nil
}

// criterion returns the document key and value a criteria entry matches.
func (m *DocumentManager) criterion(md *metadata.ClassMetadata, field string, value any) (string, any, error) {
	key, ok := md.StorageKey(field)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q is not a field of %q", core.ErrBadMethodCall, field, md.Name)
	}
	a, isAssoc := md.Association(field)
	if !isAssoc || value == nil {
		return key, value, nil
	}
	target, err := m.meta.Metadata(a.Target)
	if err != nil {
		return "", nil, err
	}
	if !target.IsInstance(value) {
		return key, value, nil
	}
	id, _ := target.IdentifierValue(value)
	if a.JoinKey != "" {
		return a.JoinKey, id, nil
	}
	targetKey, _ := target.StorageKey(target.Identifier)
	return a.Key + "." + targetKey, id, nil
}

// Sort translates an order into a bson sort document.
func (m *DocumentManager) Sort(md *metadata.ClassMetadata, orderBy core.Order) (bson.D, error) {
	order := bson.D{}
	for _, s := range orderBy {
		key, ok := md.StorageKey(s.Field)
		if !ok {
			return nil, fmt.Errorf("%w: cannot order %q by unknown field %q", core.ErrBadMethodCall, md.Name, s.Field)
		}
		dir := 1
		if s.Dir == core.Descending {
			dir = -1
		}
		order = append(order, bson.E{Key: key, Value: dir})
	}
	return order, nil
}

func (m *DocumentManager) document(obj any) (*metadata.ClassMetadata, error) {
	if err := core.CheckObject(obj); err != nil {
		return nil, err
	}
	md, err := m.meta.Metadata(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnsupportedObject, err)
	}
	if md.Embedded {
		return nil, fmt.Errorf("%w: embedded document %q cannot be managed on its own", core.ErrUnsupportedObject, md.Name)
	}
	return md, nil
}

func (m *DocumentManager) loaded(ctx context.Context, md *metadata.ClassMetadata, obj any) (any, error) {
	id, ok := md.IdentifierValue(obj)
	if !ok {
		m.uow.Manage(obj)
	} else if canonical := m.uow.Attach(core.IdentityKey(md.Name, id), obj); canonical != obj {
		return canonical, nil
	}
	if err := m.events.Dispatch(ctx, core.Event{Name: core.PostLoad, Manager: m.name, Object: obj}); err != nil {
		return nil, err
	}
	return obj, nil
}

var _ core.Manager = (*DocumentManager)(nil)
