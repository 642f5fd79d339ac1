package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/ssau-fiit/cloudocs-sync/common/util"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

// Key layout:
//
//	users.<username>     hash  id, username, password
//	tokens.<token>       hash  id, username (expires)
//	documents.<id>       hash  id, title, author
//	texts.<id>           string, snapshot JSON
//	shares.<token>       hash  documentId, permission (expires)
//	presence.<id>        hash  clientID -> presenceEntry JSON
//	rooms.<id>           pub/sub channel
const (
	keyUser     = "users.%v"
	keyToken    = "tokens.%v"
	keyDocument = "documents.%v"
	keyText     = "texts.%v"
	keyShare    = "shares.%v"
	keyPresence = "presence.%v"
	keyRoom     = "rooms.%v"
)

type User struct {
	ID       string `json:"userId" mapstructure:"id"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
}

type Document struct {
	ID     string `json:"id" mapstructure:"id"`
	Title  string `json:"title" mapstructure:"title"`
	Author string `json:"author" mapstructure:"author"`
}

type Share struct {
	Token      string `json:"token"`
	DocumentID string `json:"documentId" mapstructure:"documentId"`
	Permission string `json:"permission" mapstructure:"permission"`
}

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) hash(ctx context.Context, key string, out any) error {
	res, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}
	if len(res) == 0 {
		return ErrNotFound
	}
	return mapstructure.Decode(res, out)
}

func (s *Store) PutUser(ctx context.Context, username, password string) (User, error) {
	key := fmt.Sprintf(keyUser, username)
	user := User{ID: strconv.Itoa(util.GetRandomNumber()), Username: username, Password: password}
	ok, err := s.rdb.HSetNX(ctx, key, "id", user.ID).Result()
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", username, ErrExists)
	}
	if err := s.rdb.HSet(ctx, key, "username", username, "password", password).Err(); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) User(ctx context.Context, username string) (User, error) {
	var user User
	if err := s.hash(ctx, fmt.Sprintf(keyUser, username), &user); err != nil {
		return User{}, fmt.Errorf("user %q: %w", username, err)
	}
	return user, nil
}

// IssueToken creates a bearer token for user that expires after ttl.
func (s *Store) IssueToken(ctx context.Context, user User, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	key := fmt.Sprintf(keyToken, token)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "id", user.ID, "username", user.Username)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) ResolveToken(ctx context.Context, token string) (User, error) {
	var user User
	if err := s.hash(ctx, fmt.Sprintf(keyToken, token), &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(keyToken, token)).Err()
}

func (s *Store) CreateDocument(ctx context.Context, title, author string) (Document, error) {
	var doc Document
	for {
		id := strconv.Itoa(util.GetRandomNumber())
		key := fmt.Sprintf(keyDocument, id)
		ok, err := s.rdb.HSetNX(ctx, key, "id", id).Result()
		if err != nil {
			return Document{}, err
		}
		if ok {
			doc = Document{ID: id, Title: title, Author: author}
			break
		}
	}

	key := fmt.Sprintf(keyDocument, doc.ID)
	if err := s.rdb.HSet(ctx, key, "title", doc.Title, "author", doc.Author).Err(); err != nil {
		s.rdb.Del(ctx, key)
		return Document{}, err
	}
	if err := s.SaveSnapshot(ctx, doc.ID, richtext.New()); err != nil {
		s.rdb.Del(ctx, key)
		return Document{}, fmt.Errorf("create document text: %w", err)
	}
	return doc, nil
}

func (s *Store) Document(ctx context.Context, id string) (Document, error) {
	var doc Document
	if err := s.hash(ctx, fmt.Sprintf(keyDocument, id), &doc); err != nil {
		return Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return doc, nil
}

func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	iter := s.rdb.Scan(ctx, 0, fmt.Sprintf(keyDocument, "*"), 100).Iterator()
	for iter.Next(ctx) {
		var doc Document
		if err := s.hash(ctx, iter.Val(), &doc); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	if _, err := s.Document(ctx, id); err != nil {
		return err
	}
	return s.rdb.HSet(ctx, fmt.Sprintf(keyDocument, id), "title", title).Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx,
		fmt.Sprintf(keyDocument, id),
		fmt.Sprintf(keyText, id),
		fmt.Sprintf(keyPresence, id),
	).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context, id string) (richtext.Delta, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(keyText, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return richtext.Delta{}, fmt.Errorf("document %s text: %w", id, ErrNotFound)
	}
	if err != nil {
		return richtext.Delta{}, err
	}
	var d richtext.Delta
	if err := json.Unmarshal(raw, &d); err != nil {
		return richtext.Delta{}, fmt.Errorf("decode document %s text: %w", id, err)
	}
	return d, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, id string, snapshot richtext.Delta) error {
	if !snapshot.IsSnapshot() {
		return errors.New("snapshot may only contain inserts")
	}
	if snapshot.Ops == nil {
		snapshot = richtext.New()
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, fmt.Sprintf(keyText, id), raw, 0).Err()
}

func (s *Store) CreateShare(ctx context.Context, documentID, permission string, ttl time.Duration) (Share, error) {
	share := Share{Token: uuid.NewString(), DocumentID: documentID, Permission: permission}
	key := fmt.Sprintf(keyShare, share.Token)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "documentId", documentID, "permission", permission)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Share{}, err
	}
	return share, nil
}

func (s *Store) Share(ctx context.Context, token string) (Share, error) {
	var share Share
	if err := s.hash(ctx, fmt.Sprintf(keyShare, token), &share); err != nil {
		return Share{}, err
	}
	share.Token = token
	return share, nil
}

type presenceEntry struct {
	User   protocol.ActiveUser `json:"user"`
	Joined int64               `json:"joined"`
}

// Join records a connected client in the document's roster.
func (s *Store) Join(ctx context.Context, documentID, clientID string, user protocol.ActiveUser) error {
	raw, err := json.Marshal(presenceEntry{User: user, Joined: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, fmt.Sprintf(keyPresence, documentID), clientID, raw).Err()
}

func (s *Store) Leave(ctx context.Context, documentID, clientID string) error {
	return s.rdb.HDel(ctx, fmt.Sprintf(keyPresence, documentID), clientID).Err()
}

// MoveCursor updates the cursor of a connected client.
func (s *Store) MoveCursor(ctx context.Context, documentID, clientID string, cursor protocol.CursorRange) error {
	key := fmt.Sprintf(keyPresence, documentID)
	raw, err := s.rdb.HGet(ctx, key, clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var e presenceEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return err
	}
	e.User.Cursor = &cursor
	if raw, err = json.Marshal(e); err != nil {
		return err
	}
	return s.rdb.HSet(ctx, key, clientID, raw).Err()
}

// Roster lists every connected client in join order. A user connected
// twice appears twice; clients collapse entries by user ID.
func (s *Store) Roster(ctx context.Context, documentID string) ([]protocol.ActiveUser, error) {
	res, err := s.rdb.HGetAll(ctx, fmt.Sprintf(keyPresence, documentID)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]presenceEntry, 0, len(res))
	for _, raw := range res {
		var e presenceEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Joined < entries[j].Joined })

	users := make([]protocol.ActiveUser, len(entries))
	for i, e := range entries {
		users[i] = e.User
	}
	return users, nil
}

func (s *Store) Publish(ctx context.Context, documentID string, payload []byte) error {
	return s.rdb.Publish(ctx, fmt.Sprintf(keyRoom, documentID), payload).Err()
}

// Subscribe returns a subscription to the document's room channel that is
// already confirmed by the server.
func (s *Store) Subscribe(ctx context.Context, documentID string) (*redis.PubSub, error) {
	ps := s.rdb.Subscribe(ctx, fmt.Sprintf(keyRoom, documentID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}
