package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"groupwatch/internal/model"
	"groupwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSubscription inserts a new subscription and populates its ID and timestamps.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	pos, neg, dis, emb, err := marshalKeywordColumns(sub)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		 (user_id, original_query, positive_keywords, negative_keywords,
		  disabled_negative_keywords, llm_description, keyword_embeddings,
		  is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.OriginalQuery, pos, neg, dis, sub.LLMDescription, emb,
		boolToInt(sub.Active), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	sub.UpdatedAt = sub.CreatedAt
	return nil
}

// GetSubscription returns a single subscription by its ID.
func (s *SQLite) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, subscriptionColumns+` WHERE id = ?`, id)
	return scanSubscription(row)
}

// ListSubscriptions returns all subscriptions belonging to the given user.
func (s *SQLite) ListSubscriptions(ctx context.Context, userID int64) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, subscriptionColumns+` WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// ListActiveSubscriptions returns every active subscription.
func (s *SQLite) ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, subscriptionColumns+` WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// UpdateSubscription persists changes to an existing subscription.
func (s *SQLite) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	pos, neg, dis, emb, err := marshalKeywordColumns(sub)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET original_query = ?, positive_keywords = ?, negative_keywords = ?,
		     disabled_negative_keywords = ?, llm_description = ?,
		     keyword_embeddings = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		sub.OriginalQuery, pos, neg, dis, sub.LLMDescription, emb,
		boolToInt(sub.Active), now, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	sub.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// SetSubscriptionActive toggles the active flag. Deactivation is a soft
// delete; dedup history stays intact.
func (s *SQLite) SetSubscriptionActive(ctx context.Context, id int64, active bool) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), now, id,
	)
	if err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	return nil
}

// SaveMessage upserts a message into the cache used for backfill and
// example lookups.
func (s *SQLite) SaveMessage(ctx context.Context, msg *model.IncomingMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (group_id, message_id, group_title, sender_name, text, sent_at, is_deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(group_id, message_id) DO UPDATE SET
		   group_title = excluded.group_title,
		   sender_name = excluded.sender_name,
		   text = excluded.text,
		   sent_at = excluded.sent_at`,
		msg.GroupID, msg.ID, msg.GroupTitle, msg.SenderName, msg.Text,
		msg.Timestamp.UTC().Format(timeLayout), boolToInt(msg.Deleted),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// ListGroupMessages returns cached messages for a group, newest first.
func (s *SQLite) ListGroupMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.IncomingMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, group_id, group_title, sender_name, text, sent_at, is_deleted
		 FROM messages WHERE group_id = ?
		 ORDER BY message_id DESC LIMIT ? OFFSET ?`,
		groupID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.IncomingMessage
	for rows.Next() {
		var m model.IncomingMessage
		var sentAt string
		var deleted int
		if err := rows.Scan(&m.ID, &m.GroupID, &m.GroupTitle, &m.SenderName, &m.Text, &sentAt, &deleted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(timeLayout, sentAt)
		m.Deleted = deleted == 1
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageDeleted flags a cached message as deleted upstream.
func (s *SQLite) MarkMessageDeleted(ctx context.Context, groupID, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = 1 WHERE group_id = ? AND message_id = ?`,
		groupID, messageID,
	)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	return nil
}

// MarkMatched inserts a dedup ledger entry. The primary key makes the insert
// the atomic arbiter between concurrent live and backfill processing: only
// the caller that actually inserted the row gets true.
func (s *SQLite) MarkMatched(ctx context.Context, subscriptionID, messageID, groupID int64) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup_entries (subscription_id, message_id, group_id, matched_at)
		 VALUES (?, ?, ?, ?)`,
		subscriptionID, messageID, groupID, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark matched: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IsMatched checks whether a (subscription, message, group) match is already
// in the ledger.
func (s *SQLite) IsMatched(ctx context.Context, subscriptionID, messageID, groupID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dedup_entries
		 WHERE subscription_id = ? AND message_id = ? AND group_id = ?`,
		subscriptionID, messageID, groupID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check matched: %w", err)
	}
	return count > 0, nil
}

// SaveAnalysisResult upserts a scored-pair outcome keyed on (subscription,
// message, group) and populates its ID and AnalyzedAt. Replays overwrite the
// verdict and scores; notified_at is only ever set through MarkNotified.
func (s *SQLite) SaveAnalysisResult(ctx context.Context, r *model.AnalysisResult) error {
	now := time.Now().UTC().Format(timeLayout)
	var notifiedAt *string
	if r.NotifiedAt != nil {
		v := r.NotifiedAt.UTC().Format(timeLayout)
		notifiedAt = &v
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO analysis_results
		 (subscription_id, message_id, group_id, result, ngram_score, semantic_score,
		  llm_confidence, rejection_keyword, llm_reasoning, analyzed_at, notified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subscription_id, message_id, group_id) DO UPDATE SET
		     result = excluded.result,
		     ngram_score = excluded.ngram_score,
		     semantic_score = excluded.semantic_score,
		     llm_confidence = excluded.llm_confidence,
		     rejection_keyword = excluded.rejection_keyword,
		     llm_reasoning = excluded.llm_reasoning,
		     analyzed_at = excluded.analyzed_at
		 RETURNING id`,
		r.SubscriptionID, r.MessageID, r.GroupID, string(r.Result),
		r.NgramScore, r.SemanticScore, r.LLMConfidence,
		r.RejectionKeyword, r.LLMReasoning, now, notifiedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("upsert analysis result: %w", err)
	}
	r.AnalyzedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetAnalysisResult returns the recorded outcome for a pair, or nil when the
// pair was never scored.
func (s *SQLite) GetAnalysisResult(ctx context.Context, subscriptionID, messageID, groupID int64) (*model.AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, message_id, group_id, result, ngram_score,
		        semantic_score, llm_confidence, rejection_keyword, llm_reasoning,
		        analyzed_at, notified_at
		 FROM analysis_results
		 WHERE subscription_id = ? AND message_id = ? AND group_id = ?`,
		subscriptionID, messageID, groupID,
	)
	var (
		r          model.AnalysisResult
		result     string
		analyzedAt string
		notifiedAt *string
	)
	err := row.Scan(&r.ID, &r.SubscriptionID, &r.MessageID, &r.GroupID, &result,
		&r.NgramScore, &r.SemanticScore, &r.LLMConfidence,
		&r.RejectionKeyword, &r.LLMReasoning, &analyzedAt, &notifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select analysis result: %w", err)
	}
	r.Result = model.MatchResult(result)
	r.AnalyzedAt, _ = time.Parse(timeLayout, analyzedAt)
	if notifiedAt != nil {
		t, _ := time.Parse(timeLayout, *notifiedAt)
		r.NotifiedAt = &t
	}
	return &r, nil
}

// MarkNotified stamps the matched analysis result for a pair with the time
// the notifier was actually invoked.
func (s *SQLite) MarkNotified(ctx context.Context, subscriptionID, messageID, groupID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_results SET notified_at = ?
		 WHERE subscription_id = ? AND message_id = ? AND group_id = ? AND result = 'matched'`,
		at.UTC().Format(timeLayout), subscriptionID, messageID, groupID,
	)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

const subscriptionColumns = `SELECT id, user_id, original_query, positive_keywords,
	negative_keywords, disabled_negative_keywords, llm_description,
	keyword_embeddings, is_active, created_at, updated_at FROM subscriptions`

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalKeywordColumns(sub *model.Subscription) (pos, neg, dis string, emb *string, err error) {
	pos, err = marshalStrings(sub.PositiveKeywords)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal positive keywords: %w", err)
	}
	neg, err = marshalStrings(sub.NegativeKeywords)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal negative keywords: %w", err)
	}
	dis, err = marshalStrings(sub.DisabledNegativeKeywords)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal disabled keywords: %w", err)
	}
	if sub.KeywordEmbeddings != nil {
		raw, merr := json.Marshal(sub.KeywordEmbeddings)
		if merr != nil {
			return "", "", "", nil, fmt.Errorf("marshal embeddings: %w", merr)
		}
		v := string(raw)
		emb = &v
	}
	return pos, neg, dis, emb, nil
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var sub model.Subscription
	var pos, neg, dis string
	var emb sql.NullString
	var isActive int
	var created, updated string
	err := row.Scan(&sub.ID, &sub.UserID, &sub.OriginalQuery, &pos, &neg, &dis,
		&sub.LLMDescription, &emb, &isActive, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if err := json.Unmarshal([]byte(pos), &sub.PositiveKeywords); err != nil {
		return nil, fmt.Errorf("unmarshal positive keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(neg), &sub.NegativeKeywords); err != nil {
		return nil, fmt.Errorf("unmarshal negative keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(dis), &sub.DisabledNegativeKeywords); err != nil {
		return nil, fmt.Errorf("unmarshal disabled keywords: %w", err)
	}
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &sub.KeywordEmbeddings); err != nil {
			return nil, fmt.Errorf("unmarshal embeddings: %w", err)
		}
	}
	sub.Active = isActive == 1
	sub.CreatedAt, _ = time.Parse(timeLayout, created)
	sub.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}
