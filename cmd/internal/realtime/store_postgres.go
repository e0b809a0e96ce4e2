package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "imlast").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "imlast",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append persists a message with idempotency per (sender_id, client_msg_id).
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("realtime: nil store")
	}
	if in.SenderID == "" || in.ClientMsgID == "" {
		return AppendResult{}, errors.New("invalid input")
	}
	if (in.ReceiverID == "") == (in.GroupID == "") {
		return AppendResult{}, errors.New("exactly one of receiver_id/group_id required")
	}
	if err := in.Body.Validate(); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	existing, err := readMessageByClientMsgID(ctx, tx, messages, in.SenderID, in.ClientMsgID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, err
	}

	id, err := NewMessageID(now)
	if err != nil {
		return AppendResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, client_msg_id, sender_id, sender_name, receiver_id, group_id, body, server_ts
		   ) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		id, in.ClientMsgID, in.SenderID, in.SenderName, in.ReceiverID, in.GroupID, in.Body, now,
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	out := StoredMessage{
		ID:          id,
		ClientMsgID: in.ClientMsgID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		ReceiverID:  in.ReceiverID,
		GroupID:     in.GroupID,
		Body:        in.Body,
		ServerTS:    now,
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Stored: out, Duplicated: false}, nil
}

// GetMessage returns the stored message by server id.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (StoredMessage, error) {
	if s == nil || s.pool == nil {
		return StoredMessage{}, errors.New("realtime: nil store")
	}
	if messageID == "" {
		return StoredMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m StoredMessage
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_msg_id, sender_id, sender_name,
		        COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		        body, read, read_by, server_ts
		   FROM `+messages+`
		  WHERE id = $1`,
		messageID,
	).Scan(
		&m.ID, &m.ClientMsgID, &m.SenderID, &m.SenderName,
		&m.ReceiverID, &m.GroupID,
		&m.Body, &m.Read, &m.ReadBy, &m.ServerTS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return StoredMessage{}, err
	}
	return m, nil
}

// MarkRead marks the message read by readerID and returns the updated row.
func (s *PostgresStore) MarkRead(ctx context.Context, messageID, readerID string) (StoredMessage, error) {
	if s == nil || s.pool == nil {
		return StoredMessage{}, errors.New("realtime: nil store")
	}
	if messageID == "" || readerID == "" {
		return StoredMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m StoredMessage
	err := s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET read = TRUE,
		        read_by = (SELECT ARRAY(SELECT DISTINCT unnest(read_by || $2)))
		  WHERE id = $1
		RETURNING id, client_msg_id, sender_id, sender_name,
		          COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		          body, read, read_by, server_ts`,
		messageID, readerID,
	).Scan(
		&m.ID, &m.ClientMsgID, &m.SenderID, &m.SenderName,
		&m.ReceiverID, &m.GroupID,
		&m.Body, &m.Read, &m.ReadBy, &m.ServerTS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return StoredMessage{}, err
	}
	return m, nil
}

func readMessageByClientMsgID(ctx context.Context, tx pgx.Tx, messagesTable, senderID, clientMsgID string) (StoredMessage, error) {
	var m StoredMessage
	err := tx.QueryRow(ctx,
		`SELECT id, client_msg_id, sender_id, sender_name,
		        COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		        body, read, read_by, server_ts
		   FROM `+messagesTable+`
		  WHERE sender_id = $1 AND client_msg_id = $2`,
		senderID, clientMsgID,
	).Scan(
		&m.ID, &m.ClientMsgID, &m.SenderID, &m.SenderName,
		&m.ReceiverID, &m.GroupID,
		&m.Body, &m.Read, &m.ReadBy, &m.ServerTS,
	)
	return m, err
}

// PostgresDirectory implements FriendProvider and GroupProvider over the
// relationship tables owned by the CRUD layer. Read-only.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// DirectoryOption configures PostgresDirectory behavior.
type DirectoryOption func(*PostgresDirectory) error

// WithDirectorySchema sets the DB schema used by the directory (default: "imlast").
func WithDirectorySchema(schema string) DirectoryOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a directory backed by PostgreSQL.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...DirectoryOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "imlast",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return d, nil
}

// FriendsOf returns the user's friend ids.
func (d *PostgresDirectory) FriendsOf(ctx context.Context, userID string) ([]string, error) {
	if d == nil || d.pool == nil {
		return nil, errors.New("realtime: nil directory")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	friendships := pgIdent(d.schema, "friendships")

	rows, err := d.pool.Query(ctx,
		`SELECT friend_id FROM `+friendships+` WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MembersOf returns the current member ids of the group.
func (d *PostgresDirectory) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	if d == nil || d.pool == nil {
		return nil, errors.New("realtime: nil directory")
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members := pgIdent(d.schema, "group_members")

	rows, err := d.pool.Query(ctx,
		`SELECT user_id FROM `+members+` WHERE group_id = $1`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IsMember checks if userID is a member of groupID.
func (d *PostgresDirectory) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if d == nil || d.pool == nil {
		return false, errors.New("realtime: nil directory")
	}
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(d.schema, "group_members")

	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
