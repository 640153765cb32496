package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajay-kaushal/examaii-main/internal/model"
)

const (
	usersCollection       = "users"
	profilesCollection    = "profiles"
	examsCollection       = "exams"
	submissionsCollection = "submissions"
)

// Mongo is the hosted document store. Nested documents (questions, results)
// are stored as-is; no joins, no server-side referential integrity.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	*notifier

	watchCancel context.CancelFunc
}

// NewMongo connects to the deployment at uri and starts the change-stream
// watchers. The database name is taken from the URI path, defaulting to
// "examaii".
func NewMongo(ctx context.Context, uri string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	m := &Mongo{
		client:   client,
		db:       client.Database(databaseName(uri)),
		notifier: newNotifier(),
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	m.watchCancel = watchCancel
	go m.watchExams(watchCtx)
	go m.watchSubmissions(watchCtx)

	return m, nil
}

func databaseName(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return "examaii"
}

func (m *Mongo) Close() error {
	m.watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// watchExams publishes a fresh exam snapshot whenever the collection changes.
// Change streams need a replica set; standalone deployments fall back to the
// local publishes issued after each mutation.
func (m *Mongo) watchExams(ctx context.Context) {
	m.watch(ctx, examsCollection, func() {
		m.publishExams(ctx, m.ListExams)
	})
}

func (m *Mongo) watchSubmissions(ctx context.Context) {
	m.watch(ctx, submissionsCollection, func() {
		m.publishSubmissions(ctx, m.ListSubmissions)
	})
}

func (m *Mongo) watch(ctx context.Context, collection string, publish func()) {
	stream, err := m.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		slog.Warn("change stream unavailable, relying on local notifications",
			"collection", collection, "error", err)
		return
	}
	defer stream.Close(ctx)
	for stream.Next(ctx) {
		publish()
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("change stream stopped", "collection", collection, "error", err)
	}
}

func (m *Mongo) upsert(ctx context.Context, collection, id string, doc any) error {
	_, err := m.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// CreateExam stores an exam, replacing any existing document with the same id.
func (m *Mongo) CreateExam(ctx context.Context, exam model.Exam) error {
	if err := m.upsert(ctx, examsCollection, exam.ID, exam); err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}
	m.publishExams(ctx, m.ListExams)
	return nil
}

// GetExam returns the exam or (nil, nil) when absent.
func (m *Mongo) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	var exam model.Exam
	err := m.db.Collection(examsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&exam)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find exam: %w", err)
	}
	return &exam, nil
}

// ListExams returns all exams sorted by createdAt descending.
func (m *Mongo) ListExams(ctx context.Context) ([]model.Exam, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := m.db.Collection(examsCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	var exams []model.Exam
	if err := cursor.All(ctx, &exams); err != nil {
		return nil, fmt.Errorf("decode exams: %w", err)
	}
	return exams, nil
}

// DeleteExam removes the exam document only.
func (m *Mongo) DeleteExam(ctx context.Context, id string) error {
	_, err := m.db.Collection(examsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	m.publishExams(ctx, m.ListExams)
	return nil
}

// DeleteExamWithSubmissions removes the exam's submissions in one batch, then
// the exam. The two steps are not transactional: a failure between them can
// leave the exam without its submissions, never the reverse.
func (m *Mongo) DeleteExamWithSubmissions(ctx context.Context, examID string) (int, error) {
	res, err := m.db.Collection(submissionsCollection).DeleteMany(ctx, bson.M{"examId": examID})
	if err != nil {
		return 0, fmt.Errorf("delete submissions for exam: %w", err)
	}
	if _, err := m.db.Collection(examsCollection).DeleteOne(ctx, bson.M{"_id": examID}); err != nil {
		return int(res.DeletedCount), fmt.Errorf("delete exam: %w", err)
	}
	m.publishSubmissions(ctx, m.ListSubmissions)
	m.publishExams(ctx, m.ListExams)
	return int(res.DeletedCount), nil
}

// CreateSubmission stores a submission, replacing any existing document with
// the same id.
func (m *Mongo) CreateSubmission(ctx context.Context, sub model.Submission) error {
	if err := m.upsert(ctx, submissionsCollection, sub.ID, sub); err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}
	m.publishSubmissions(ctx, m.ListSubmissions)
	return nil
}

// GetSubmission returns the submission or (nil, nil) when absent.
func (m *Mongo) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	err := m.db.Collection(submissionsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return &sub, nil
}

// ListSubmissions returns all submissions, unsorted.
func (m *Mongo) ListSubmissions(ctx context.Context) ([]model.Submission, error) {
	return m.findSubmissions(ctx, bson.M{})
}

// ListSubmissionsByExam returns submissions matching examID, unsorted.
func (m *Mongo) ListSubmissionsByExam(ctx context.Context, examID string) ([]model.Submission, error) {
	return m.findSubmissions(ctx, bson.M{"examId": examID})
}

func (m *Mongo) findSubmissions(ctx context.Context, filter bson.M) ([]model.Submission, error) {
	cursor, err := m.db.Collection(submissionsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	var subs []model.Submission
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	return subs, nil
}

// UpdateSubmissionResult replaces the stored result wholesale. Silently a
// no-op when the submission does not exist.
func (m *Mongo) UpdateSubmissionResult(ctx context.Context, id string, result *model.GradedResult) error {
	update := bson.M{"$set": bson.M{"result": result}}
	if result == nil {
		update = bson.M{"$unset": bson.M{"result": ""}}
	}
	_, err := m.db.Collection(submissionsCollection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update submission result: %w", err)
	}
	m.publishSubmissions(ctx, m.ListSubmissions)
	return nil
}

// deleteAll reads every document id, then removes them in a single batched
// write. An empty collection commits nothing.
func (m *Mongo) deleteAll(ctx context.Context, collection string) (int, error) {
	coll := m.db.Collection(collection)
	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", collection, err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode %s ids: %w", collection, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": d.ID}))
	}
	res, err := coll.BulkWrite(ctx, models)
	if err != nil {
		return 0, fmt.Errorf("bulk delete %s: %w", collection, err)
	}
	return int(res.DeletedCount), nil
}

// DeleteAllExams removes every exam and returns the count.
func (m *Mongo) DeleteAllExams(ctx context.Context) (int, error) {
	n, err := m.deleteAll(ctx, examsCollection)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publishExams(ctx, m.ListExams)
	}
	return n, nil
}

// DeleteAllSubmissions removes every submission and returns the count.
func (m *Mongo) DeleteAllSubmissions(ctx context.Context) (int, error) {
	n, err := m.deleteAll(ctx, submissionsCollection)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publishSubmissions(ctx, m.ListSubmissions)
	}
	return n, nil
}

// DeleteAllUsers removes every user and profile document and returns the
// user count.
func (m *Mongo) DeleteAllUsers(ctx context.Context) (int, error) {
	n, err := m.deleteAll(ctx, usersCollection)
	if err != nil {
		return 0, err
	}
	if _, err := m.deleteAll(ctx, profilesCollection); err != nil {
		return n, err
	}
	return n, nil
}

// CreateUser inserts a new account.
func (m *Mongo) CreateUser(ctx context.Context, u model.User) error {
	_, err := m.db.Collection(usersCollection).InsertOne(ctx, u)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns the account by uid, or (nil, nil).
func (m *Mongo) GetUser(ctx context.Context, uid string) (*model.User, error) {
	return m.findUser(ctx, bson.M{"_id": uid})
}

// GetUserByEmail returns the account by email, or (nil, nil).
func (m *Mongo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.findUser(ctx, bson.M{"email": email})
}

func (m *Mongo) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var u model.User
	err := m.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// UserCount returns the number of accounts.
func (m *Mongo) UserCount(ctx context.Context) (int, error) {
	n, err := m.db.Collection(usersCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

// SaveProfile overwrites the profile document for its UID.
func (m *Mongo) SaveProfile(ctx context.Context, p model.Profile) error {
	if err := m.upsert(ctx, profilesCollection, p.UID, p); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile document, or (nil, nil).
func (m *Mongo) GetProfile(ctx context.Context, uid string) (*model.Profile, error) {
	var p model.Profile
	err := m.db.Collection(profilesCollection).FindOne(ctx, bson.M{"_id": uid}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &p, nil
}

// UpdateProfileGeminiKey merge-writes only the AI key field. An empty key
// removes the field entirely.
func (m *Mongo) UpdateProfileGeminiKey(ctx context.Context, uid, apiKey string) error {
	update := bson.M{"$set": bson.M{"geminiApiKey": apiKey}}
	if apiKey == "" {
		update = bson.M{"$unset": bson.M{"geminiApiKey": ""}}
	}
	_, err := m.db.Collection(profilesCollection).UpdateOne(ctx, bson.M{"_id": uid}, update)
	if err != nil {
		return fmt.Errorf("update profile key: %w", err)
	}
	return nil
}

// SubscribeExams registers an exam snapshot subscriber.
func (m *Mongo) SubscribeExams(fn func([]model.Exam)) func() {
	return m.subscribeExams(fn)
}

// SubscribeSubmissions registers a submission snapshot subscriber.
func (m *Mongo) SubscribeSubmissions(fn func([]model.Submission)) func() {
	return m.subscribeSubmissions(fn)
}

var _ Store = (*Mongo)(nil)
