package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/identity-system/internal/core/domain"
)

const (
	collectionUsers    = "users"
	collectionRoles    = "roles"
	collectionCounters = "counters"
)

// userDoc embeds the role kinds, so a single document read is a consistent
// snapshot of a user and its memberships.
type userDoc struct {
	ID        int64     `bson:"_id"`
	GoogleID  string    `bson:"google_id"`
	Email     string    `bson:"email"`
	Name      string    `bson:"name,omitempty"`
	Picture   string    `bson:"picture,omitempty"`
	Roles     []string  `bson:"roles"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	Version   int64     `bson:"version"`
}

type roleDoc struct {
	ID          int64  `bson:"_id"`
	Name        string `bson:"name"`
	Description string `bson:"description,omitempty"`
}

// IdentityStore implements ports.IdentityStore on the users and roles
// collections. Numeric IDs are allocated from the counters collection.
type IdentityStore struct {
	db       *mongo.Database
	users    *mongo.Collection
	roles    *mongo.Collection
	counters *mongo.Collection
}

func NewIdentityStore(db *mongo.Database) *IdentityStore {
	return &IdentityStore{
		db:       db,
		users:    db.Collection(collectionUsers),
		roles:    db.Collection(collectionRoles),
		counters: db.Collection(collectionCounters),
	}
}

// EnsureIndexes creates the unique indexes the store's duplicate detection
// depends on.
func (s *IdentityStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("users_email_unique")},
		{Keys: bson.D{{Key: "google_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("users_google_id_unique")},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	roleIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("roles_name_unique"),
	}
	if _, err := s.roles.Indexes().CreateOne(ctx, roleIndex); err != nil {
		return fmt.Errorf("create role index: %w", err)
	}
	return nil
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email, false)
}

func (s *IdentityStore) FindByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"google_id": externalID}, externalID, false)
}

func (s *IdentityStore) FindByEmailWithRoles(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email, true)
}

func (s *IdentityStore) FindByExternalIDWithRoles(ctx context.Context, externalID string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"google_id": externalID}, externalID, true)
}

func (s *IdentityStore) FindRoleByKind(ctx context.Context, kind domain.RoleKind) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc roleDoc
	if err := s.roles.FindOne(ctx, bson.M{"name": string(kind)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFound(domain.EntityRole, kind.String())
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return doc.toDomain(), nil
}

// SaveRoleIfAbsent upserts by name. Two seeders racing on the same kind
// both end up reading the winner's document.
func (s *IdentityStore) SaveRoleIfAbsent(ctx context.Context, role domain.Role) (*domain.Role, error) {
	existing, err := s.FindRoleByKind(ctx, role.Kind)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrRoleNotFound) {
		return nil, err
	}

	id, err := s.nextID(ctx, collectionRoles)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.roles.UpdateOne(ctx,
		bson.M{"name": string(role.Kind)},
		bson.M{"$setOnInsert": roleDoc{ID: id, Name: string(role.Kind), Description: role.Description}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("upsert role: %w", err)
	}
	return s.FindRoleByKind(ctx, role.Kind)
}

func (s *IdentityStore) Save(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user.Roles != nil {
		if err := s.checkRoles(ctx, user.Roles); err != nil {
			return nil, err
		}
	}

	id := user.ID
	var err error
	if id == 0 {
		id, err = s.insert(ctx, user)
	} else {
		err = s.update(ctx, user)
	}
	if err != nil {
		return nil, err
	}

	key := strconv.FormatInt(id, 10)
	return s.findUser(ctx, bson.M{"_id": id}, key, true)
}

func (s *IdentityStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *IdentityStore) insert(ctx context.Context, u *domain.User) (int64, error) {
	id, err := s.nextID(ctx, collectionUsers)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now().UTC()
	doc := userDoc{
		ID:        id,
		GoogleID:  u.ExternalID,
		Email:     u.Email,
		Name:      u.Name,
		Picture:   u.Picture,
		Roles:     roleNames(u.Roles),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, s.duplicateIdentity(ctx, err, u)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// update applies the write only while the stored version equals u.Version;
// the match-and-$inc is atomic on the single document.
func (s *IdentityStore) update(ctx context.Context, u *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	set := bson.M{
		"email":      u.Email,
		"name":       u.Name,
		"picture":    u.Picture,
		"updated_at": time.Now().UTC(),
	}
	if u.Roles != nil {
		set["roles"] = roleNames(u.Roles)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": u.ID, "version": u.Version},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.duplicateIdentity(ctx, err, u)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	key := strconv.FormatInt(u.ID, 10)
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": u.ID})
	if err != nil {
		return fmt.Errorf("count user: %w", err)
	}
	if n == 0 {
		return domain.NotFound(domain.EntityUser, key)
	}
	return domain.ConcurrentModification(key)
}

func (s *IdentityStore) findUser(ctx context.Context, filter bson.M, key string, withRoles bool) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFound(domain.EntityUser, key)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	user := doc.toDomain()
	if !withRoles {
		return user, nil
	}

	roles, err := s.rolesByName(ctx, doc.Roles)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return user, nil
}

func (s *IdentityStore) rolesByName(ctx context.Context, names []string) (domain.RoleSet, error) {
	set := make(domain.RoleSet, len(names))
	if len(names) == 0 {
		return set, nil
	}

	cur, err := s.roles.Find(ctx, bson.M{"name": bson.M{"$in": names}})
	if err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}
	var docs []roleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	for _, d := range docs {
		r := d.toDomain()
		set[r.Kind] = *r
	}
	return set, nil
}

// checkRoles rejects memberships that reference kinds missing from the
// roles collection.
func (s *IdentityStore) checkRoles(ctx context.Context, roles domain.RoleSet) error {
	found, err := s.rolesByName(ctx, roleNames(roles))
	if err != nil {
		return err
	}
	for kind := range roles {
		if !found.Has(kind) {
			return domain.NotFound(domain.EntityRole, kind.String())
		}
	}
	return nil
}

func (s *IdentityStore) nextID(ctx context.Context, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", name, err)
	}
	return counter.Seq, nil
}

// duplicateIdentity names the identity a duplicate-key failure collided on,
// using the index key pattern the server attaches to the write error. When
// the pattern is absent the google_id index is checked directly.
func (s *IdentityStore) duplicateIdentity(ctx context.Context, err error, u *domain.User) error {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if _, lerr := e.Raw.LookupErr("keyPattern", "google_id"); lerr == nil {
				return domain.DuplicateIdentity(u.ExternalID)
			}
			if _, lerr := e.Raw.LookupErr("keyPattern", "email"); lerr == nil {
				return domain.DuplicateIdentity(u.Email)
			}
		}
	}

	n, cerr := s.users.CountDocuments(ctx, bson.M{"google_id": u.ExternalID, "_id": bson.M{"$ne": u.ID}})
	if cerr == nil && n > 0 {
		return domain.DuplicateIdentity(u.ExternalID)
	}
	return domain.DuplicateIdentity(u.Email)
}

func roleNames(roles domain.RoleSet) []string {
	if roles == nil {
		return []string{}
	}
	return roles.Names()
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:         d.ID,
		ExternalID: d.GoogleID,
		Email:      d.Email,
		Name:       d.Name,
		Picture:    d.Picture,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
		Version:    d.Version,
	}
}

func (d roleDoc) toDomain() *domain.Role {
	return &domain.Role{ID: d.ID, Kind: domain.RoleKind(d.Name), Description: d.Description}
}
