package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// TopicTypeCategory marks news_topic rows that hold an article's category.
const TopicTypeCategory = "CATEGORY"

var ErrArticleNotFound = errors.New("article not found")

//go:embed schema.sql
var schemaSQL string

// Article is a row of the news table.
type Article struct {
	ID                   int64     `json:"id"`
	Title                string    `json:"title"`
	Content              string    `json:"content"`
	ExternalLink         string    `json:"external_link"`
	PublishedAt          time.Time `json:"published_at"`
	Summarized           bool      `json:"summarized"`
	ProcessedForIdentity bool      `json:"processed_for_identity"`
	Summary              *string   `json:"summary,omitempty"`
}

// NewArticle is the input to InsertArticle.
type NewArticle struct {
	Title        string
	Content      string
	ExternalLink string
	PublishedAt  time.Time
}

// Repository is the article store used by the processor, the ingest loader
// and the HTTP layer.
type Repository interface {
	FetchUnprocessed(ctx context.Context, since time.Time) ([]Article, error)
	GetArticle(ctx context.Context, id int64) (Article, error)
	MarkSummary(ctx context.Context, id int64, summary string) error
	MarkCategory(ctx context.Context, id int64, category int) error
	MarkIdentityProcessed(ctx context.Context, id int64) error
	HasCategory(ctx context.Context, id int64) (bool, error)
	InsertArticle(ctx context.Context, a NewArticle) (Article, bool, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Repository on a pgx pool. Every method is a
// single statement and commits on its own.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

var _ Repository = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	log.Info().Msg("Postgres connection established")
	return &PostgresStore{pool: pool, sb: builder()}, nil
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

var articleColumns = []string{
	"id", "title", "content", "external_link", "published_date",
	"summarized", "processed_for_identity", "long_summary",
}

// FetchUnprocessed returns articles published after since that still lack a
// summary or a category, oldest first.
func (s *PostgresStore) FetchUnprocessed(ctx context.Context, since time.Time) ([]Article, error) {
	query, args, err := fetchUnprocessedQuery(s.sb, since).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id int64) (Article, error) {
	query, args, err := s.sb.Select(articleColumns...).From("news").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return Article{}, fmt.Errorf("build query: %w", err)
	}

	a, err := scanArticle(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Article{}, ErrArticleNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article %d: %w", id, err)
	}
	return a, nil
}

// MarkSummary stores the summary and sets the summarized flag in one
// statement.
func (s *PostgresStore) MarkSummary(ctx context.Context, id int64, summary string) error {
	return s.exec(ctx, markSummaryQuery(s.sb, id, summary), id)
}

func (s *PostgresStore) MarkIdentityProcessed(ctx context.Context, id int64) error {
	return s.exec(ctx, markIdentityQuery(s.sb, id), id)
}

// MarkCategory links the article to category. The first category written
// for an article wins; later calls write nothing.
func (s *PostgresStore) MarkCategory(ctx context.Context, id int64, category int) error {
	query, args, err := markCategoryQuery(s.sb, id, category).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark category for %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) HasCategory(ctx context.Context, id int64) (bool, error) {
	query, args, err := hasCategoryQuery(s.sb, id).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("has category %d: %w", id, err)
	}
	return exists, nil
}

// InsertArticle adds a new article with both flags false. If an article with
// the same title or external link exists it is returned instead and the
// second result is false.
func (s *PostgresStore) InsertArticle(ctx context.Context, a NewArticle) (Article, bool, error) {
	query, args, err := findDuplicateQuery(s.sb, a.Title, a.ExternalLink).ToSql()
	if err != nil {
		return Article{}, false, fmt.Errorf("build query: %w", err)
	}
	existing, err := scanArticle(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Article{}, false, fmt.Errorf("check duplicate: %w", err)
	}

	query, args, err = insertArticleQuery(s.sb, a).ToSql()
	if err != nil {
		return Article{}, false, fmt.Errorf("build query: %w", err)
	}
	created, err := scanArticle(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return Article{}, false, fmt.Errorf("insert article: %w", err)
	}
	return created, true, nil
}

func (s *PostgresStore) exec(ctx context.Context, b squirrel.UpdateBuilder, id int64) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrArticleNotFound
	}
	return nil
}

func fetchUnprocessedQuery(sb squirrel.StatementBuilderType, since time.Time) squirrel.SelectBuilder {
	return sb.Select(articleColumns...).
		From("news").
		Where(squirrel.Gt{"published_date": since}).
		Where(squirrel.Or{
			squirrel.Eq{"processed_for_identity": false},
			squirrel.Eq{"summarized": false},
		}).
		OrderBy("published_date ASC", "id ASC")
}

func markSummaryQuery(sb squirrel.StatementBuilderType, id int64, summary string) squirrel.UpdateBuilder {
	return sb.Update("news").
		Set("long_summary", summary).
		Set("summarized", true).
		Where(squirrel.Eq{"id": id})
}

func markIdentityQuery(sb squirrel.StatementBuilderType, id int64) squirrel.UpdateBuilder {
	return sb.Update("news").
		Set("processed_for_identity", true).
		Where(squirrel.Eq{"id": id})
}

func markCategoryQuery(sb squirrel.StatementBuilderType, id int64, category int) squirrel.InsertBuilder {
	return sb.Insert("news_topic").
		Columns("news_id", "topic_id", "topic_type").
		Values(id, category, TopicTypeCategory).
		Suffix("ON CONFLICT (news_id) WHERE topic_type = 'CATEGORY' DO NOTHING")
}

func hasCategoryQuery(sb squirrel.StatementBuilderType, id int64) squirrel.SelectBuilder {
	return sb.Select().Column(squirrel.Expr(
		"EXISTS(SELECT 1 FROM news_topic WHERE news_id = ? AND topic_type = ?)", id, TopicTypeCategory,
	))
}

func findDuplicateQuery(sb squirrel.StatementBuilderType, title, link string) squirrel.SelectBuilder {
	cond := squirrel.Or{squirrel.Eq{"title": title}}
	if link != "" {
		cond = append(cond, squirrel.Eq{"external_link": link})
	}
	return sb.Select(articleColumns...).From("news").Where(cond).OrderBy("id ASC").Limit(1)
}

func insertArticleQuery(sb squirrel.StatementBuilderType, a NewArticle) squirrel.InsertBuilder {
	return sb.Insert("news").
		Columns("title", "content", "external_link", "published_date", "summarized", "processed_for_identity").
		Values(a.Title, a.Content, a.ExternalLink, a.PublishedAt, false, false).
		Suffix("RETURNING " + strings.Join(articleColumns, ", "))
}

func scanArticle(row pgx.Row) (Article, error) {
	var a Article
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.Content,
		&a.ExternalLink,
		&a.PublishedAt,
		&a.Summarized,
		&a.ProcessedForIdentity,
		&a.Summary,
	)
	return a, err
}
