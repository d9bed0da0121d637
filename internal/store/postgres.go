package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// textArray adapts a []string destination to a TEXT[] column.
func textArray(dst *[]string) sql.Scanner {
	return pgtype.NewMap().SQLScanner(dst)
}

// nullableArray maps a nil slice to SQL NULL so COALESCE keeps the column.
func nullableArray(values []string) any {
	if values == nil {
		return nil
	}
	return values
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// likePattern turns free text into an escaped ILIKE substring pattern.
func likePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(value)) + "%"
}

const userColumns = `id, auth_id, wallet_address, email, first_name, last_name, location,
	profile_description, gender, profile_picture, categories, years_of_experience,
	account_type, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	var accountType string
	err := row.Scan(
		&user.ID, &user.AuthID, &user.WalletAddress, &user.Email, &user.FirstName, &user.LastName,
		&user.Location, &user.ProfileDescription, &user.Gender, &user.ProfilePicture,
		textArray(&user.Categories), &user.YearsOfExperience, &accountType,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.AccountType = AccountType(accountType)
	user.Categories = nonNilStrings(user.Categories)
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, auth_id, wallet_address, email, first_name, last_name, location,
			profile_description, gender, profile_picture, categories, years_of_experience, account_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+userColumns,
		user.ID, user.AuthID, user.WalletAddress, user.Email, user.FirstName, user.LastName, user.Location,
		user.ProfileDescription, user.Gender, user.ProfilePicture, nonNilStrings(user.Categories),
		user.YearsOfExperience, string(user.AccountType),
	)
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserSummary(ctx context.Context, userID string) (UserSummary, error) {
	var summary UserSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, profile_picture, categories, years_of_experience
		FROM users WHERE id=$1
	`, userID).Scan(
		&summary.ID, &summary.FirstName, &summary.LastName, &summary.ProfilePicture,
		textArray(&summary.Categories), &summary.YearsOfExperience,
	)
	if err != nil {
		return UserSummary{}, err
	}
	return summary, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, email string, update ProfileUpdate) (User, error) {
	var accountType *string
	if update.AccountType != nil {
		value := string(*update.AccountType)
		accountType = &value
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET
			first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			location = COALESCE($4, location),
			profile_description = COALESCE($5, profile_description),
			profile_picture = COALESCE($6, profile_picture),
			gender = COALESCE($7, gender),
			categories = COALESCE($8, categories),
			years_of_experience = COALESCE($9, years_of_experience),
			account_type = COALESCE($10, account_type),
			updated_at = NOW()
		WHERE email = $1
		RETURNING `+userColumns,
		email, update.FirstName, update.LastName, update.Location, update.ProfileDescription,
		update.ProfilePicture, update.Gender, nullableArray(update.Categories), update.YearsOfExperience,
		accountType,
	)
	return scanUser(row)
}

func (s *PostgresStore) ListArtisans(ctx context.Context, filter ArtisanFilter) ([]User, int, error) {
	where := `account_type = 'artisan'
		AND ($1 = '' OR location ILIKE $2)
		AND (cardinality($3::text[]) = 0 OR categories && $3::text[])`
	args := []any{strings.TrimSpace(filter.Location), likePattern(filter.Location), nonNilStrings(filter.Categories)}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count artisans: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE `+where+`
		ORDER BY created_at, id
		LIMIT $5 OFFSET $6`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list artisans: %w", err)
	}
	defer rows.Close()

	artisans := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan artisan: %w", err)
		}
		artisans = append(artisans, user)
	}
	return artisans, total, rows.Err()
}

const jobColumns = `id, client, artisan, title, description, deadline, location, budget,
	images, categories, status, created_at, updated_at`

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var artisan sql.NullString
	var deadline sql.NullInt64
	var status string
	err := row.Scan(
		&job.ID, &job.Client, &artisan, &job.Title, &job.Description, &deadline, &job.Location,
		&job.Budget, textArray(&job.Images), textArray(&job.Categories), &status,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if artisan.Valid {
		job.Artisan = &artisan.String
	}
	if deadline.Valid {
		job.Deadline = &deadline.Int64
	}
	job.Status = JobStatus(status)
	job.Images = nonNilStrings(job.Images)
	job.Categories = nonNilStrings(job.Categories)
	return job, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job Job) (Job, error) {
	status := job.Status
	if status == "" {
		status = JobOpen
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, client, title, description, deadline, location, budget, images, categories, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+jobColumns,
		job.ID, job.Client, job.Title, job.Description, job.Deadline, job.Location, job.Budget,
		nonNilStrings(job.Images), nonNilStrings(job.Categories), string(status),
	)
	created, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, jobID))
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]Job, int, error) {
	where := `($1 = '' OR location ILIKE $2)
		AND (cardinality($3::text[]) = 0 OR categories && $3::text[])
		AND ($4 = '' OR status = $4)`
	args := []any{strings.TrimSpace(filter.Location), likePattern(filter.Location), nonNilStrings(filter.Categories), string(filter.Status)}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE `+where+`
		ORDER BY created_at, id
		LIMIT $4 OFFSET $5`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, update JobUpdate) (Job, error) {
	var images, categories any
	if update.Images != nil {
		images = nonNilStrings(*update.Images)
	}
	if update.Categories != nil {
		categories = nonNilStrings(*update.Categories)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			description = COALESCE($2, description),
			deadline = COALESCE($3, deadline),
			location = COALESCE($4, location),
			budget = COALESCE($5, budget),
			images = COALESCE($6, images),
			categories = COALESCE($7, categories),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns,
		jobID, update.Description, update.Deadline, update.Location, update.Budget, images, categories,
	)
	return scanJob(row)
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=$1`, jobID)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job rows: %w", err)
	}
	return affected > 0, nil
}

// AssignJobArtisan marks the job ongoing with the given artisan and returns
// the updated row, or sql.ErrNoRows when the job does not exist.
func (s *PostgresStore) AssignJobArtisan(ctx context.Context, jobID, artisanID string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET artisan=$2, status='ongoing', updated_at=NOW()
		WHERE id=$1
		RETURNING `+jobColumns, jobID, artisanID)
	return scanJob(row)
}

func (s *PostgresStore) AppendJobImage(ctx context.Context, jobID, imageURL string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET images = array_append(images, $2), updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns, jobID, imageURL)
	return scanJob(row)
}

const proposalColumns = `id, job_id, artisan_id, client_id, message, status, created_at, updated_at`

func scanProposal(row rowScanner) (Proposal, error) {
	var proposal Proposal
	var status string
	err := row.Scan(
		&proposal.ID, &proposal.JobID, &proposal.ArtisanID, &proposal.ClientID, &proposal.Message,
		&status, &proposal.CreatedAt, &proposal.UpdatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}
	proposal.Status = ProposalStatus(status)
	return proposal, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO proposals (id, job_id, artisan_id, client_id, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+proposalColumns,
		proposal.ID, proposal.JobID, proposal.ArtisanID, proposal.ClientID, proposal.Message, string(proposal.Status),
	)
	created, err := scanProposal(row)
	if err != nil {
		return Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return created, nil
}

// SetProposalStatus writes status to the proposal and returns the updated
// row. With onlyPending the write only applies to pending proposals. The
// boolean is false when no row was updated.
func (s *PostgresStore) SetProposalStatus(ctx context.Context, proposalID string, status ProposalStatus, onlyPending bool) (Proposal, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE proposals SET status=$2, updated_at=NOW()
		WHERE id=$1 AND (NOT $3 OR status='pending')
		RETURNING `+proposalColumns, proposalID, string(status), onlyPending)
	proposal, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, false, nil
	}
	if err != nil {
		return Proposal{}, false, fmt.Errorf("update proposal status: %w", err)
	}
	return proposal, true, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, message Message) (Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, job_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, message.ID, message.SenderID, message.ReceiverID, message.JobID, message.Content).Scan(&message.CreatedAt, &message.UpdatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

// ListJobMessages returns the messages of a job newest first with senders resolved.
func (s *PostgresStore) ListJobMessages(ctx context.Context, jobID string, limit, offset int) ([]MessageWithSender, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE job_id=$1`, jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.receiver_id, m.job_id, m.content, m.created_at, m.updated_at,
			u.id, u.first_name, u.last_name, u.profile_picture
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.job_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]MessageWithSender, 0)
	for rows.Next() {
		var item MessageWithSender
		var senderID, firstName, lastName, picture sql.NullString
		if err := rows.Scan(
			&item.ID, &item.SenderID, &item.ReceiverID, &item.JobID, &item.Content, &item.CreatedAt, &item.UpdatedAt,
			&senderID, &firstName, &lastName, &picture,
		); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		if senderID.Valid {
			item.Sender = &UserSummary{
				ID:             senderID.String,
				FirstName:      firstName.String,
				LastName:       lastName.String,
				ProfilePicture: picture.String,
			}
		}
		messages = append(messages, item)
	}
	return messages, total, rows.Err()
}
