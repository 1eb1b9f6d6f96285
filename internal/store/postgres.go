package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL with the pgvector
// extension for cosine similarity search.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// NewPostgresStore creates a new PostgreSQL store and verifies connectivity.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnLifetime <= 0 {
		cfg.ConnLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS app_tokens (
			id BIGSERIAL PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			app_id UUID NOT NULL,
			name TEXT NOT NULL,
			provider_type TEXT NOT NULL,
			api_key_encrypted TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			max_tokens INT NOT NULL DEFAULT 1024,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0.7,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_app ON agents (app_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id BIGSERIAL PRIMARY KEY,
			app_token_id BIGINT NOT NULL REFERENCES app_tokens(id),
			session_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(384),
			memory_type TEXT NOT NULL DEFAULT 'fact',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_token ON memories (app_token_id)`,
		`CREATE TABLE IF NOT EXISTS structured_memories (
			id UUID PRIMARY KEY,
			app_token_id BIGINT NOT NULL REFERENCES app_tokens(id),
			application_group TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object_value JSONB NOT NULL,
			object_type TEXT NOT NULL DEFAULT '',
			negation BOOLEAN NOT NULL DEFAULT FALSE,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			natural_language TEXT NOT NULL DEFAULT '',
			embedding vector(384),
			source_turn_ids TEXT[] NOT NULL DEFAULT '{}',
			tags TEXT[] NOT NULL DEFAULT '{}',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_structured_token ON structured_memories (app_token_id)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id UUID PRIMARY KEY,
			app_token_id BIGINT NOT NULL REFERENCES app_tokens(id),
			session_id TEXT NOT NULL,
			application_group TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL,
			assistant_message TEXT NOT NULL,
			context JSONB,
			extraction_status TEXT NOT NULL DEFAULT 'pending',
			extracted_at TIMESTAMPTZ,
			extraction_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_status ON conversation_turns (extraction_status, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// encodeVector renders a float32 slice in pgvector input syntax.
func encodeVector(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// decodeVector parses pgvector output syntax.
func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	result := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		result[i] = float32(f)
	}
	return result, nil
}

// --- App tokens ---

// CreateToken inserts a token and populates its ID.
func (s *PostgresStore) CreateToken(ctx context.Context, token *AppToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO app_tokens (token_hash, name, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := s.db.QueryRowContext(ctx, query,
		token.TokenHash, token.Name, token.Description, token.IsActive, token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetTokenByHash retrieves a token by its sha256 hash.
func (s *PostgresStore) GetTokenByHash(ctx context.Context, hash string) (*AppToken, error) {
	query := `
		SELECT id, token_hash, name, description, is_active, created_at, last_used_at
		FROM app_tokens
		WHERE token_hash = $1`

	var token AppToken
	var lastUsedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID, &token.TokenHash, &token.Name, &token.Description,
		&token.IsActive, &token.CreatedAt, &lastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}
	return &token, nil
}

// ListTokens returns all tokens, newest first.
func (s *PostgresStore) ListTokens(ctx context.Context) ([]*AppToken, error) {
	query := `
		SELECT id, token_hash, name, description, is_active, created_at, last_used_at
		FROM app_tokens
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var result []*AppToken
	for rows.Next() {
		var token AppToken
		var lastUsedAt sql.NullTime
		if err := rows.Scan(
			&token.ID, &token.TokenHash, &token.Name, &token.Description,
			&token.IsActive, &token.CreatedAt, &lastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if lastUsedAt.Valid {
			token.LastUsedAt = &lastUsedAt.Time
		}
		result = append(result, &token)
	}
	return result, rows.Err()
}

// TouchToken records a use of the token.
func (s *PostgresStore) TouchToken(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	return nil
}

// DeactivateToken disables the token.
func (s *PostgresStore) DeactivateToken(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE app_tokens SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Agents ---

// CreateAgent inserts an agent, assigning an ID when absent.
func (s *PostgresStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	query := `
		INSERT INTO agents (id, app_id, name, provider_type, api_key_encrypted,
			model, role, system_prompt, max_tokens, temperature, is_active,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.AppID, agent.Name, string(agent.Provider), agent.APIKeyEncrypted,
		agent.Model, string(agent.Role), agent.SystemPrompt, agent.MaxTokens,
		agent.Temperature, agent.IsActive, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func scanAgent(scanner interface{ Scan(...any) error }) (*Agent, error) {
	var agent Agent
	var providerType, role string
	err := scanner.Scan(
		&agent.ID, &agent.AppID, &agent.Name, &providerType, &agent.APIKeyEncrypted,
		&agent.Model, &role, &agent.SystemPrompt, &agent.MaxTokens,
		&agent.Temperature, &agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	agent.Provider = ProviderType(providerType)
	agent.Role = AgentRole(role)
	return &agent, nil
}

const agentColumns = `id, app_id, name, provider_type, api_key_encrypted,
	model, role, system_prompt, max_tokens, temperature, is_active,
	created_at, updated_at`

// GetAgent returns the agent with the given ID.
func (s *PostgresStore) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns an app's agents ordered by creation time.
func (s *PostgresStore) ListAgents(ctx context.Context, appID uuid.UUID, activeOnly bool) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE app_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, agent)
	}
	return result, rows.Err()
}

// UpdateAgent replaces a stored agent's mutable fields.
func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE agents
		SET name = $2, provider_type = $3, api_key_encrypted = $4, model = $5,
		    role = $6, system_prompt = $7, max_tokens = $8, temperature = $9,
		    is_active = $10, updated_at = $11
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.Name, string(agent.Provider), agent.APIKeyEncrypted,
		agent.Model, string(agent.Role), agent.SystemPrompt, agent.MaxTokens,
		agent.Temperature, agent.IsActive, agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent.
func (s *PostgresStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Plain memories ---

// InsertMemory stores a plain memory and populates its ID.
func (s *PostgresStore) InsertMemory(ctx context.Context, mem *Memory) error {
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO memories (app_token_id, session_id, content, embedding, memory_type, created_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6)
		RETURNING id`
	err := s.db.QueryRowContext(ctx, query,
		mem.TokenID, mem.SessionID, mem.Content, encodeVector(mem.Embedding),
		string(mem.Type), mem.CreatedAt,
	).Scan(&mem.ID)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// SearchMemories runs a pgvector cosine search over the token's memories.
func (s *PostgresStore) SearchMemories(ctx context.Context, q MemorySearch) ([]*Memory, error) {
	query := `
		SELECT id, app_token_id, session_id, content, memory_type, created_at,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM memories
		WHERE app_token_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1::vector) >= $3`
	args := []any{encodeVector(q.Embedding), q.TokenID, q.MinSimilarity}

	if q.SessionID != "" {
		query += ` AND session_id = $4`
		args = append(args, q.SessionID)
	}
	query += fmt.Sprintf(` ORDER BY similarity DESC LIMIT %d`, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var result []*Memory
	for rows.Next() {
		var mem Memory
		var memType string
		if err := rows.Scan(
			&mem.ID, &mem.TokenID, &mem.SessionID, &mem.Content,
			&memType, &mem.CreatedAt, &mem.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		mem.Type = MemoryType(memType)
		result = append(result, &mem)
	}
	return result, rows.Err()
}

// DeleteMemories removes a token's plain memories, optionally scoped to a
// session, and returns the number removed.
func (s *PostgresStore) DeleteMemories(ctx context.Context, tokenID int64, sessionID string) (int64, error) {
	query := `DELETE FROM memories WHERE app_token_id = $1`
	args := []any{tokenID}
	if sessionID != "" {
		query += ` AND session_id = $2`
		args = append(args, sessionID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	return res.RowsAffected()
}

// --- Structured memories ---

// InsertStructuredMemory stores a structured memory, assigning an ID when absent.
func (s *PostgresStore) InsertStructuredMemory(ctx context.Context, mem *StructuredMemory) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}

	objectJSON, err := json.Marshal(mem.Object)
	if err != nil {
		return fmt.Errorf("marshal object value: %w", err)
	}

	var embedding any
	if len(mem.Embedding) > 0 {
		embedding = encodeVector(mem.Embedding)
	}

	query := `
		INSERT INTO structured_memories (id, app_token_id, application_group,
			subject, predicate, object_value, object_type, negation,
			importance, confidence, natural_language, embedding,
			source_turn_ids, tags, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector, $13, $14, $15, $16)`
	_, err = s.db.ExecContext(ctx, query,
		mem.ID, mem.TokenID, mem.ApplicationGroup,
		mem.Subject, mem.Predicate, string(objectJSON), mem.ObjectType, mem.Negation,
		mem.Importance, mem.Confidence, mem.NaturalLanguage, embedding,
		pq.Array(mem.SourceTurnIDs), pq.Array(mem.Tags), mem.ExpiresAt, mem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert structured memory: %w", err)
	}
	return nil
}

func scanStructured(scanner interface{ Scan(...any) error }, withSimilarity bool) (*StructuredMemory, error) {
	var mem StructuredMemory
	var objectJSON string
	var expiresAt sql.NullTime
	var sourceTurnIDs, tags pq.StringArray

	dest := []any{
		&mem.ID, &mem.TokenID, &mem.ApplicationGroup,
		&mem.Subject, &mem.Predicate, &objectJSON, &mem.ObjectType, &mem.Negation,
		&mem.Importance, &mem.Confidence, &mem.NaturalLanguage,
		&sourceTurnIDs, &tags, &expiresAt, &mem.CreatedAt,
	}
	if withSimilarity {
		dest = append(dest, &mem.Similarity)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(objectJSON), &mem.Object); err != nil {
		return nil, fmt.Errorf("parse object value: %w", err)
	}
	if expiresAt.Valid {
		mem.ExpiresAt = &expiresAt.Time
	}
	mem.SourceTurnIDs = sourceTurnIDs
	mem.Tags = tags
	return &mem, nil
}

const structuredColumns = `id, app_token_id, application_group,
	subject, predicate, object_value, object_type, negation,
	importance, confidence, natural_language,
	source_turn_ids, tags, expires_at, created_at`

// SearchStructuredMemories runs a pgvector cosine search over embedded,
// non-expired structured memories.
func (s *PostgresStore) SearchStructuredMemories(ctx context.Context, q StructuredSearch) ([]*StructuredMemory, error) {
	query := `
		SELECT ` + structuredColumns + `,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM structured_memories
		WHERE app_token_id = $2
		  AND embedding IS NOT NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		  AND 1 - (embedding <=> $1::vector) >= $3`
	args := []any{encodeVector(q.Embedding), q.TokenID, q.MinSimilarity}

	if q.ApplicationGroup != "" {
		args = append(args, q.ApplicationGroup)
		query += fmt.Sprintf(` AND application_group = $%d`, len(args))
	}
	if q.Predicate != "" {
		args = append(args, q.Predicate)
		query += fmt.Sprintf(` AND predicate = $%d`, len(args))
	}
	query += fmt.Sprintf(` ORDER BY similarity DESC LIMIT %d`, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search structured memories: %w", err)
	}
	defer rows.Close()

	var result []*StructuredMemory
	for rows.Next() {
		mem, err := scanStructured(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan structured memory: %w", err)
		}
		result = append(result, mem)
	}
	return result, rows.Err()
}

// ListHighImportance returns non-expired structured memories at or above
// the importance threshold, most important first.
func (s *PostgresStore) ListHighImportance(ctx context.Context, tokenID int64, threshold float64, applicationGroup string) ([]*StructuredMemory, error) {
	query := `
		SELECT ` + structuredColumns + `
		FROM structured_memories
		WHERE app_token_id = $1
		  AND importance >= $2
		  AND (expires_at IS NULL OR expires_at > NOW())`
	args := []any{tokenID, threshold}

	if applicationGroup != "" {
		args = append(args, applicationGroup)
		query += fmt.Sprintf(` AND application_group = $%d`, len(args))
	}
	query += ` ORDER BY importance DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list high importance: %w", err)
	}
	defer rows.Close()

	var result []*StructuredMemory
	for rows.Next() {
		mem, err := scanStructured(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan structured memory: %w", err)
		}
		result = append(result, mem)
	}
	return result, rows.Err()
}

// --- Conversation turns ---

// InsertTurn stores a turn, assigning an ID when absent.
func (s *PostgresStore) InsertTurn(ctx context.Context, turn *ConversationTurn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.Status == "" {
		turn.Status = ExtractionPending
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var contextJSON any
	if turn.Context != nil {
		raw, err := json.Marshal(turn.Context)
		if err != nil {
			return fmt.Errorf("marshal turn context: %w", err)
		}
		contextJSON = string(raw)
	}

	query := `
		INSERT INTO conversation_turns (id, app_token_id, session_id,
			application_group, user_message, assistant_message, context,
			extraction_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.TokenID, turn.SessionID,
		turn.ApplicationGroup, turn.UserMessage, turn.AssistantMessage, contextJSON,
		string(turn.Status), turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func scanTurn(scanner interface{ Scan(...any) error }) (*ConversationTurn, error) {
	var turn ConversationTurn
	var contextJSON sql.NullString
	var status string
	var extractedAt sql.NullTime

	err := scanner.Scan(
		&turn.ID, &turn.TokenID, &turn.SessionID,
		&turn.ApplicationGroup, &turn.UserMessage, &turn.AssistantMessage,
		&contextJSON, &status, &extractedAt, &turn.ExtractionError, &turn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	turn.Status = ExtractionStatus(status)
	if extractedAt.Valid {
		turn.ExtractedAt = &extractedAt.Time
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &turn.Context); err != nil {
			return nil, fmt.Errorf("parse turn context: %w", err)
		}
	}
	return &turn, nil
}

const turnColumns = `id, app_token_id, session_id, application_group,
	user_message, assistant_message, context, extraction_status,
	extracted_at, extraction_error, created_at`

// GetTurn returns the turn with the given ID.
func (s *PostgresStore) GetTurn(ctx context.Context, id uuid.UUID) (*ConversationTurn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns WHERE id = $1`, id)
	turn, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query turn: %w", err)
	}
	return turn, nil
}

// ListPendingTurns returns up to limit pending turns, oldest first.
func (s *PostgresStore) ListPendingTurns(ctx context.Context, limit int) ([]*ConversationTurn, error) {
	query := `
		SELECT ` + turnColumns + `
		FROM conversation_turns
		WHERE extraction_status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending turns: %w", err)
	}
	defer rows.Close()

	var result []*ConversationTurn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		result = append(result, turn)
	}
	return result, rows.Err()
}

// CountPendingTurns returns the number of turns awaiting extraction.
func (s *PostgresStore) CountPendingTurns(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_turns WHERE extraction_status = 'pending'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending turns: %w", err)
	}
	return count, nil
}

// UpdateTurnExtraction advances a turn's extraction state. Terminal states
// record the extraction time.
func (s *PostgresStore) UpdateTurnExtraction(ctx context.Context, id uuid.UUID, status ExtractionStatus, extractionError string) error {
	query := `
		UPDATE conversation_turns
		SET extraction_status = $2,
		    extraction_error = $3,
		    extracted_at = CASE WHEN $2 IN ('completed', 'skipped', 'failed') THEN NOW() ELSE extracted_at END
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, string(status), extractionError)
	if err != nil {
		return fmt.Errorf("update turn extraction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
