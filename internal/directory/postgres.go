package directory

import (
	"context"
	"database/sql"
	"errors"

	"carebridge.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. It shares the users table with
// the token authority schema for participant validation.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const conversationColumns = `id, participant_a, participant_b, created_at, updated_at, deleted_at`

// FindOrCreate looks the pair up in both orderings before inserting. The
// check-then-insert is not serialized across instances: two simultaneous
// creates by both participants can race into a transient duplicate, which
// is accepted as harmless (empty duplicate threads merge on next lookup by
// updated_at ordering) rather than paying for a distributed lock.
func (s *PGStore) FindOrCreate(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == userB {
		return nil, ErrSelfConversation
	}

	existing, err := s.findByParticipants(ctx, userA, userB)
	if err == nil {
		return existing, ErrAlreadyExists
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.checkParticipants(ctx, userA, userB); err != nil {
		return nil, err
	}

	conv := &Conversation{ID: ids.New(), ParticipantA: userA, ParticipantB: userB}
	row := s.db.QueryRowContext(ctx, `
		insert into conversations(id, participant_a, participant_b)
		values($1,$2,$3)
		returning created_at, updated_at
	`, conv.ID, conv.ParticipantA, conv.ParticipantB)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+conversationColumns+`
		from conversations
		where id=$1 and deleted_at is null
	`, id)
	return scanConversation(row)
}

func (s *PGStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update conversations set updated_at=now() where id=$1 and deleted_at is null`, id)
	return err
}

func (s *PGStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+conversationColumns+`
		from conversations
		where (participant_a=$1 or participant_b=$1) and deleted_at is null
		order by updated_at desc
		limit $2 offset $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, conv)
	}
	return res, rows.Err()
}

func (s *PGStore) findByParticipants(ctx context.Context, userA, userB string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+conversationColumns+`
		from conversations
		where ((participant_a=$1 and participant_b=$2) or (participant_a=$2 and participant_b=$1))
		  and deleted_at is null
		order by updated_at desc
		limit 1
	`, userA, userB)
	return scanConversation(row)
}

// checkParticipants verifies both identities exist and are active.
func (s *PGStore) checkParticipants(ctx context.Context, userA, userB string) error {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from users where id in ($1,$2) and status='active'
	`, userA, userB).Scan(&count)
	if err != nil {
		return err
	}
	if count != 2 {
		return ErrInvalidParticipant
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv    Conversation
		deleted sql.NullTime
	)
	err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB,
		&conv.CreatedAt, &conv.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		conv.DeletedAt = &t
	}
	return &conv, nil
}
