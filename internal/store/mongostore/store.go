// Package mongostore implements inventory.Store on MongoDB, the document store the
// HR dashboard was first built on.
//
// Transactions need a replica set or sharded cluster; standalone servers reject
// WithinTx.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"assetdesk.org/internal/inventory"
)

// Collection names.
const (
	UsersCollection    = "users"
	AssetsCollection   = "assets"
	RequestsCollection = "requests"
)

// Store implements inventory.Store.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	assets   *mongo.Collection
	requests *mongo.Collection
}

var _ inventory.Store = (*Store)(nil)

// Open connects to uri, verifies the primary is reachable and ensures indexes
// on database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(20 * time.Second).
		SetServerSelectionTimeout(15 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", mapErr(err))
	}
	s := New(client, database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New wraps a connected client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		users:    db.Collection(UsersCollection),
		assets:   db.Collection(AssetsCollection),
		requests: db.Collection(RequestsCollection),
	}
}

// EnsureIndexes creates the unique email index and the request listing
// indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", mapErr(err))
	}
	if _, err := s.requests.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requestedAt", Value: -1}}},
		{Keys: bson.D{{Key: "requesterEmail", Value: 1}, {Key: "requestedAt", Value: -1}}},
		{Keys: bson.D{{Key: "assetId", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("requests index: %w", mapErr(err))
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.client.Ping(ctx, readpref.Primary()))
}

// WithinTx runs fn inside a session transaction. Write conflicts abort the
// attempt and the driver retries fn from the start.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx inventory.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return mapErr(err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	})
	return mapErr(err)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return inventory.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", inventory.ErrAlreadyExists, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mongo.ErrClientDisconnected),
		mongo.IsTimeout(err),
		mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %v", inventory.ErrUnavailable, err)
	}
	return err
}

func objectID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	return oid, err == nil
}

func newID(id string) (primitive.ObjectID, error) {
	if id == "" {
		return primitive.NewObjectID(), nil
	}
	oid, ok := objectID(id)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("%w: id %q is not an object id", inventory.ErrInvalidInput, id)
	}
	return oid, nil
}

func containsFold(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// ---- users ----

type userDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Email       string             `bson:"email"`
	Name        string             `bson:"name"`
	Role        string             `bson:"role"`
	JoinedTeam  bool               `bson:"joinedTeam"`
	CompanyID   string             `bson:"companyId"`
	CompanyName string             `bson:"companyName"`
	CompanyLogo string             `bson:"companyLogo"`
	TeamLimit   int                `bson:"teamLimit"`
	Paid        bool               `bson:"paid"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

func (d userDoc) user() inventory.User {
	return inventory.User{
		ID:          d.ID.Hex(),
		Email:       d.Email,
		Name:        d.Name,
		Role:        d.Role,
		JoinedTeam:  d.JoinedTeam,
		CompanyID:   d.CompanyID,
		CompanyName: d.CompanyName,
		CompanyLogo: d.CompanyLogo,
		TeamLimit:   d.TeamLimit,
		Paid:        d.Paid,
		CreatedAt:   d.CreatedAt,
	}
}

func (s *Store) CreateUser(ctx context.Context, u *inventory.User) error {
	oid, err := newID(u.ID)
	if err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	doc := userDoc{
		ID: oid, Email: u.Email, Name: u.Name, Role: u.Role, JoinedTeam: u.JoinedTeam,
		CompanyID: u.CompanyID, CompanyName: u.CompanyName, CompanyLogo: u.CompanyLogo,
		TeamLimit: u.TeamLimit, Paid: u.Paid, CreatedAt: u.CreatedAt,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return mapErr(err)
	}
	u.ID = oid.Hex()
	return nil
}

// lockField is bumped when a user is read inside a transaction. Snapshot
// reads take no locks, so the write makes concurrent transactions on the same
// user (an HR filling one team) conflict and retry.
const lockField = "txSeq"

func lockUpdate() bson.M {
	return bson.M{"$inc": bson.M{lockField: int64(1)}}
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (inventory.User, error) {
	var doc userDoc
	var res *mongo.SingleResult
	if mongo.SessionFromContext(ctx) != nil {
		res = s.users.FindOneAndUpdate(ctx, filter, lockUpdate())
	} else {
		res = s.users.FindOne(ctx, filter)
	}
	if err := res.Decode(&doc); err != nil {
		return inventory.User{}, mapErr(err)
	}
	return doc.user(), nil
}

func (s *Store) FindUser(ctx context.Context, id string) (inventory.User, error) {
	oid, ok := objectID(id)
	if !ok {
		return inventory.User{}, inventory.ErrNotFound
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (inventory.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func userFilter(f inventory.UserFilter) bson.M {
	filter := bson.M{}
	if f.Role != "" {
		filter["role"] = f.Role
	}
	if f.CompanyID != "" {
		filter["companyId"] = f.CompanyID
	}
	if f.Unaffiliated {
		filter["companyId"] = bson.M{"$in": bson.A{"", nil}}
	}
	if len(f.IDs) > 0 {
		oids := bson.A{}
		for _, id := range f.IDs {
			if oid, ok := objectID(id); ok {
				oids = append(oids, oid)
			}
		}
		filter["_id"] = bson.M{"$in": oids}
	}
	return filter
}

func (s *Store) ListUsers(ctx context.Context, f inventory.UserFilter) ([]inventory.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.users.Find(ctx, userFilter(f), opts)
	if err != nil {
		return nil, mapErr(err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]inventory.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.user())
	}
	return out, nil
}

func (s *Store) CountUsers(ctx context.Context, f inventory.UserFilter) (int, error) {
	n, err := s.users.CountDocuments(ctx, userFilter(f))
	return int(n), mapErr(err)
}

func userSet(upd inventory.UserUpdate) bson.M {
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.JoinedTeam != nil {
		set["joinedTeam"] = *upd.JoinedTeam
	}
	if upd.CompanyID != nil {
		set["companyId"] = *upd.CompanyID
	}
	if upd.CompanyName != nil {
		set["companyName"] = *upd.CompanyName
	}
	if upd.CompanyLogo != nil {
		set["companyLogo"] = *upd.CompanyLogo
	}
	if upd.TeamLimit != nil {
		set["teamLimit"] = *upd.TeamLimit
	}
	if upd.Paid != nil {
		set["paid"] = *upd.Paid
	}
	return set
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd inventory.UserUpdate) (inventory.User, error) {
	oid, ok := objectID(id)
	if !ok {
		return inventory.User{}, inventory.ErrNotFound
	}
	set := userSet(upd)
	if len(set) == 0 {
		return s.FindUser(ctx, id)
	}
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return inventory.User{}, mapErr(err)
	}
	return doc.user(), nil
}

// ---- assets ----

type assetDoc struct {
	ID               primitive.ObjectID `bson:"_id"`
	Name             string             `bson:"name"`
	Type             string             `bson:"type"`
	Quantity         int                `bson:"quantity"`
	AssignedQuantity int                `bson:"assignedQuantity"`
	Availability     string             `bson:"availability"`
	AddedBy          string             `bson:"addedBy,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt"`
}

func (d assetDoc) asset() inventory.Asset {
	return inventory.Asset{
		ID:               d.ID.Hex(),
		Name:             d.Name,
		Type:             d.Type,
		Quantity:         d.Quantity,
		AssignedQuantity: d.AssignedQuantity,
		Availability:     d.Availability,
		AddedBy:          d.AddedBy,
		CreatedAt:        d.CreatedAt,
	}
}

func (s *Store) CreateAsset(ctx context.Context, a *inventory.Asset) error {
	oid, err := newID(a.ID)
	if err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	doc := assetDoc{
		ID: oid, Name: a.Name, Type: a.Type, Quantity: a.Quantity, AssignedQuantity: a.AssignedQuantity,
		Availability: a.Availability, AddedBy: a.AddedBy, CreatedAt: a.CreatedAt,
	}
	if _, err := s.assets.InsertOne(ctx, doc); err != nil {
		return mapErr(err)
	}
	a.ID = oid.Hex()
	return nil
}

func (s *Store) FindAsset(ctx context.Context, id string) (inventory.Asset, error) {
	oid, ok := objectID(id)
	if !ok {
		return inventory.Asset{}, inventory.ErrNotFound
	}
	var doc assetDoc
	if err := s.assets.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return inventory.Asset{}, mapErr(err)
	}
	return doc.asset(), nil
}

func assetFilter(q inventory.AssetQuery) bson.M {
	filter := bson.M{}
	if q.Search != "" {
		filter["name"] = containsFold(q.Search)
	}
	if q.Availability != "" {
		filter["availability"] = q.Availability
	}
	if q.Type != "" {
		filter["type"] = q.Type
	}
	if q.Below != nil {
		filter["quantity"] = bson.M{"$lt": *q.Below}
	}
	return filter
}

func assetSort(sort string) bson.D {
	switch sort {
	case inventory.SortAsc:
		return bson.D{{Key: "quantity", Value: 1}, {Key: "_id", Value: 1}}
	case inventory.SortDesc:
		return bson.D{{Key: "quantity", Value: -1}, {Key: "_id", Value: 1}}
	default:
		return bson.D{{Key: "_id", Value: 1}}
	}
}

func (s *Store) ListAssets(ctx context.Context, q inventory.AssetQuery) ([]inventory.Asset, error) {
	cur, err := s.assets.Find(ctx, assetFilter(q), options.Find().SetSort(assetSort(q.Sort)))
	if err != nil {
		return nil, mapErr(err)
	}
	var docs []assetDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]inventory.Asset, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.asset())
	}
	return out, nil
}

func (s *Store) UpdateAsset(ctx context.Context, id string, upd inventory.AssetUpdate) (inventory.Asset, error) {
	oid, ok := objectID(id)
	if !ok {
		return inventory.Asset{}, inventory.ErrNotFound
	}
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Type != nil {
		set["type"] = *upd.Type
	}
	if upd.Quantity != nil {
		set["quantity"] = *upd.Quantity
	}
	if upd.AssignedQuantity != nil {
		set["assignedQuantity"] = *upd.AssignedQuantity
	}
	if upd.Availability != nil {
		set["availability"] = *upd.Availability
	}
	if len(set) == 0 {
		return s.FindAsset(ctx, id)
	}
	var doc assetDoc
	err := s.assets.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return inventory.Asset{}, mapErr(err)
	}
	return doc.asset(), nil
}

func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return inventory.ErrNotFound
	}
	res, err := s.assets.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return mapErr(err)
	}
	if res.DeletedCount == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (s *Store) AssetTotals(ctx context.Context) (inventory.AssetTotals, error) {
	cur, err := s.assets.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "assets", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "quantity", Value: bson.D{{Key: "$sum", Value: "$quantity"}}},
		}}},
	})
	if err != nil {
		return inventory.AssetTotals{}, mapErr(err)
	}
	var rows []struct {
		Assets   int `bson:"assets"`
		Quantity int `bson:"quantity"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return inventory.AssetTotals{}, mapErr(err)
	}
	if len(rows) == 0 {
		return inventory.AssetTotals{}, nil
	}
	return inventory.AssetTotals{Assets: rows[0].Assets, Quantity: rows[0].Quantity}, nil
}

// ---- requests ----

type requestDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	AssetID        string             `bson:"assetId"`
	AssetName      string             `bson:"assetName"`
	AssetType      string             `bson:"assetType"`
	RequesterName  string             `bson:"requesterName"`
	RequesterEmail string             `bson:"requesterEmail"`
	Note           string             `bson:"note,omitempty"`
	Status         string             `bson:"status"`
	RequestedAt    time.Time          `bson:"requestedAt"`
	Quantity       *int               `bson:"quantity,omitempty"`
	ProcessedAt    *time.Time         `bson:"processedAt,omitempty"`
}

func (d requestDoc) request() inventory.Request {
	return inventory.Request{
		ID:             d.ID.Hex(),
		AssetID:        d.AssetID,
		AssetName:      d.AssetName,
		AssetType:      d.AssetType,
		RequesterName:  d.RequesterName,
		RequesterEmail: d.RequesterEmail,
		Note:           d.Note,
		Status:         d.Status,
		RequestedAt:    d.RequestedAt,
		Quantity:       d.Quantity,
		ProcessedAt:    d.ProcessedAt,
	}
}

func (s *Store) CreateRequest(ctx context.Context, r *inventory.Request) error {
	oid, err := newID(r.ID)
	if err != nil {
		return err
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	doc := requestDoc{
		ID: oid, AssetID: r.AssetID, AssetName: r.AssetName, AssetType: r.AssetType,
		RequesterName: r.RequesterName, RequesterEmail: r.RequesterEmail, Note: r.Note,
		Status: r.Status, RequestedAt: r.RequestedAt, Quantity: r.Quantity, ProcessedAt: r.ProcessedAt,
	}
	if _, err := s.requests.InsertOne(ctx, doc); err != nil {
		return mapErr(err)
	}
	r.ID = oid.Hex()
	return nil
}

func (s *Store) FindRequest(ctx context.Context, id string) (inventory.Request, error) {
	oid, ok := objectID(id)
	if !ok {
		return inventory.Request{}, inventory.ErrNotFound
	}
	var doc requestDoc
	if err := s.requests.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return inventory.Request{}, mapErr(err)
	}
	return doc.request(), nil
}

func requestFilter(q inventory.RequestQuery) bson.M {
	filter := bson.M{}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if q.RequesterEmail != "" {
		filter["requesterEmail"] = q.RequesterEmail
	}
	if q.Search != "" {
		re := containsFold(q.Search)
		filter["$or"] = bson.A{
			bson.M{"requesterName": re},
			bson.M{"requesterEmail": re},
		}
	}
	return filter
}

func (s *Store) ListRequests(ctx context.Context, q inventory.RequestQuery) ([]inventory.Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "requestedAt", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.requests.Find(ctx, requestFilter(q), opts)
	if err != nil {
		return nil, mapErr(err)
	}
	var docs []requestDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]inventory.Request, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.request())
	}
	return out, nil
}

func (s *Store) CountRequests(ctx context.Context, q inventory.RequestQuery) (int, error) {
	n, err := s.requests.CountDocuments(ctx, requestFilter(q))
	return int(n), mapErr(err)
}

func (s *Store) SetRequestStatus(ctx context.Context, id, status string, processedAt time.Time) (inventory.Request, error) {
	oid, ok := objectID(id)
	if !ok {
		return inventory.Request{}, inventory.ErrNotFound
	}
	var doc requestDoc
	err := s.requests.FindOneAndUpdate(ctx, bson.M{"_id": oid},
		bson.M{"$set": bson.M{"status": status, "processedAt": processedAt}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return inventory.Request{}, mapErr(err)
	}
	return doc.request(), nil
}

func topRequestedPipeline(limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "requestedAt", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$assetId"},
			{Key: "assetName", Value: bson.D{{Key: "$first", Value: "$assetName"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "firstSeen", Value: bson.D{{Key: "$min", Value: "$requestedAt"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "firstSeen", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}
}

func (s *Store) TopRequestedAssets(ctx context.Context, limit int) ([]inventory.AssetDemand, error) {
	if limit <= 0 {
		limit = inventory.TopRequestedSize
	}
	cur, err := s.requests.Aggregate(ctx, topRequestedPipeline(limit))
	if err != nil {
		return nil, mapErr(err)
	}
	var rows []struct {
		AssetID   string `bson:"_id"`
		AssetName string `bson:"assetName"`
		Count     int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapErr(err)
	}
	out := make([]inventory.AssetDemand, 0, len(rows))
	for _, r := range rows {
		out = append(out, inventory.AssetDemand{AssetID: r.AssetID, AssetName: r.AssetName, Count: r.Count})
	}
	return out, nil
}

func (s *Store) RequestTypeStats(ctx context.Context) ([]inventory.TypeCount, error) {
	cur, err := s.requests.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$assetType"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	var rows []struct {
		Type  string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapErr(err)
	}
	out := make([]inventory.TypeCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, inventory.TypeCount{Type: r.Type, Count: r.Count})
	}
	return out, nil
}
