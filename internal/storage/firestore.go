package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreStore implements the Store interface
var _ Store = (*FirestoreStore)(nil)

// FirestoreStore persists sessions in Google Cloud Firestore. Expiry is
// enforced in code on read and by Sweep queries over the expires_at
// field; Firestore has no native per-document TTL granularity we can
// rely on for the single-use handshake guarantee.
type FirestoreStore struct {
	cfg    Config
	client *firestore.Client

	sessionCollection   string
	csrfCollection      string
	handshakeCollection string
}

type csrfTokenDoc struct {
	SessionID string    `firestore:"session_id"`
	Token     string    `firestore:"token"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// NewFirestoreStore creates a Firestore-backed store
func NewFirestoreStore(ctx context.Context, cfg Config, projectID, database, collectionPrefix string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collectionPrefix == "" {
		collectionPrefix = "bffgate"
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{
		cfg:                 cfg,
		client:              client,
		sessionCollection:   collectionPrefix + "_sessions",
		csrfCollection:      collectionPrefix + "_csrf_tokens",
		handshakeCollection: collectionPrefix + "_handshakes",
	}, nil
}

func (s *FirestoreStore) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)

	_, err := s.client.Collection(s.sessionCollection).Doc(session.ID).Create(ctx, session)
	if status.Code(err) == codes.AlreadyExists {
		return ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	doc, err := s.client.Collection(s.sessionCollection).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var session Session
	if err := doc.DataTo(&session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *FirestoreStore) TouchSession(ctx context.Context, sessionID string) error {
	now := time.Now()
	_, err := s.client.Collection(s.sessionCollection).Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "last_accessed_at", Value: now},
		{Path: "expires_at", Value: now.Add(s.cfg.SessionTTL)},
	})
	if status.Code(err) == codes.NotFound {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (s *FirestoreStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.client.Collection(s.sessionCollection).Doc(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if _, err := s.client.Collection(s.csrfCollection).Doc(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("deleting csrf token: %w", err)
	}
	return nil
}

func (s *FirestoreStore) PutCSRFToken(ctx context.Context, sessionID, token string) error {
	doc := csrfTokenDoc{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
	}
	if _, err := s.client.Collection(s.csrfCollection).Doc(sessionID).Set(ctx, doc); err != nil {
		return fmt.Errorf("storing csrf token: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetCSRFToken(ctx context.Context, sessionID string) (string, error) {
	doc, err := s.client.Collection(s.csrfCollection).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", ErrCSRFTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching csrf token: %w", err)
	}

	var record csrfTokenDoc
	if err := doc.DataTo(&record); err != nil {
		return "", fmt.Errorf("decoding csrf token: %w", err)
	}
	return record.Token, nil
}

func (s *FirestoreStore) DeleteCSRFToken(ctx context.Context, sessionID string) error {
	if _, err := s.client.Collection(s.csrfCollection).Doc(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("deleting csrf token: %w", err)
	}
	return nil
}

func (s *FirestoreStore) PutHandshake(ctx context.Context, handshake *Handshake) error {
	now := time.Now()
	handshake.CreatedAt = now
	handshake.ExpiresAt = now.Add(s.cfg.HandshakeTTL)

	if _, err := s.client.Collection(s.handshakeCollection).Doc(handshake.State).Set(ctx, handshake); err != nil {
		return fmt.Errorf("storing handshake: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ConsumeHandshake(ctx context.Context, state string) (*Handshake, error) {
	ref := s.client.Collection(s.handshakeCollection).Doc(state)

	var handshake Handshake
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if err := doc.DataTo(&handshake); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if status.Code(err) == codes.NotFound {
		return nil, ErrHandshakeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming handshake: %w", err)
	}

	if handshake.Expired(time.Now()) {
		return nil, ErrHandshakeNotFound
	}
	return &handshake, nil
}

func (s *FirestoreStore) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	for _, collection := range []string{s.sessionCollection, s.csrfCollection, s.handshakeCollection} {
		iter := s.client.Collection(collection).Where("expires_at", "<", now).Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return removed, fmt.Errorf("sweeping %s: %w", collection, err)
			}
			if _, err := doc.Ref.Delete(ctx); err != nil {
				return removed, fmt.Errorf("sweeping %s: %w", collection, err)
			}
			removed++
		}
	}

	return removed, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
