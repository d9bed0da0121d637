package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ogacraft/api/internal/metrics"
	"ogacraft/api/internal/realtime"
	"ogacraft/api/internal/store"
	"ogacraft/api/internal/util"
)

// AcceptanceMessage is sent from the client to the artisan when a proposal
// is accepted.
const AcceptanceMessage = "You're a great fit for the job, thanks for applying to my job request"

type ProposalInput struct {
	JobID     string `json:"jobId"`
	ArtisanID string `json:"artisanId"`
	ClientID  string `json:"clientId"`
	Message   string `json:"message"`
}

type ProposalResponseInput struct {
	ProposalID string `json:"proposalId"`
	Response   bool   `json:"response"`
	JobID      string `json:"jobId"`
}

type MessageInput struct {
	JobID      string `json:"jobId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// PopulatedProposal is a proposal with the artisan reference resolved. The
// artisan is null when the id does not name a registered user.
type PopulatedProposal struct {
	store.Proposal
	Artisan *store.UserSummary `json:"artisan"`
}

type ProposalUpdate struct {
	Status     store.ProposalStatus `json:"status"`
	JobID      string               `json:"jobId"`
	ProposalID string               `json:"proposalId"`
}

// Authenticate binds userID to the connection. A later authenticate for the
// same user on another connection replaces this binding.
func (s *Service) Authenticate(connID, userID string) {
	s.hub.Authenticate(userID, connID)
	s.logger.Info().Str("conn_id", connID).Str("user_id", userID).Msg("user authenticated")
}

// Disconnect forgets the connection and returns the users it was bound to.
func (s *Service) Disconnect(connID string) []string {
	return s.hub.Unregister(connID)
}

// JoinJob adds the connection to the job room, creating the room if needed.
func (s *Service) JoinJob(connID, jobID string) string {
	roomID := s.hub.EnsureRoom(jobID)
	s.hub.JoinRoom(connID, roomID)
	s.logger.Debug().Str("conn_id", connID).Str("room", roomID).Msg("joined room")
	return roomID
}

// SubmitProposal stores a pending proposal, joins the submitting connection
// to the job room and tells the client about it when the client is online.
// Neither the job nor the referenced users are checked.
func (s *Service) SubmitProposal(ctx context.Context, connID string, input ProposalInput) (PopulatedProposal, error) {
	proposal, err := s.store.CreateProposal(ctx, store.Proposal{
		ID:        util.NewID("prp"),
		JobID:     input.JobID,
		ArtisanID: input.ArtisanID,
		ClientID:  input.ClientID,
		Message:   input.Message,
		Status:    store.ProposalPending,
	})
	if err != nil {
		return PopulatedProposal{}, fmt.Errorf("create proposal: %w", err)
	}
	metrics.ProposalTransitions.WithLabelValues(string(store.ProposalPending)).Inc()

	artisan, err := s.summary(ctx, proposal.ArtisanID)
	if err != nil {
		return PopulatedProposal{}, fmt.Errorf("resolve artisan: %w", err)
	}
	populated := PopulatedProposal{Proposal: proposal, Artisan: artisan}

	s.JoinJob(connID, input.JobID)
	s.hub.NotifyUser(input.ClientID, realtime.EventProposalReceived, populated)
	return populated, nil
}

// RespondToProposal accepts or rejects a proposal. A missing proposal is a
// no-op. Acceptance assigns the job to the proposal's artisan even when an
// earlier acceptance already did, then posts the acceptance message to the
// job room. The artisan hears about either outcome.
func (s *Service) RespondToProposal(ctx context.Context, input ProposalResponseInput) error {
	status := store.ProposalRejected
	if input.Response {
		status = store.ProposalAccepted
	}

	proposal, updated, err := s.store.SetProposalStatus(ctx, input.ProposalID, status, s.cfg.StrictProposalTransitions)
	if err != nil {
		return fmt.Errorf("set proposal status: %w", err)
	}
	if !updated {
		s.logger.Debug().Str("proposal_id", input.ProposalID).Msg("proposal not updated")
		return nil
	}
	metrics.ProposalTransitions.WithLabelValues(string(status)).Inc()

	jobID := strings.TrimSpace(input.JobID)
	if jobID == "" {
		jobID = proposal.JobID
	}

	if status == store.ProposalAccepted {
		job, err := s.store.AssignJobArtisan(ctx, jobID, proposal.ArtisanID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			s.logger.Warn().Str("job_id", jobID).Str("proposal_id", proposal.ID).Msg("accepted proposal for unknown job")
		case err != nil:
			return fmt.Errorf("assign job: %w", err)
		default:
			s.index(job)
		}

		message, err := s.createMessage(ctx, store.Message{
			ID:         util.NewID("msg"),
			SenderID:   proposal.ClientID,
			ReceiverID: proposal.ArtisanID,
			JobID:      jobID,
			Content:    AcceptanceMessage,
		})
		if err != nil {
			return err
		}
		s.hub.NotifyRoom(s.hub.EnsureRoom(jobID), realtime.EventMessageNew, message)
	}

	s.hub.NotifyUser(proposal.ArtisanID, realtime.EventProposalUpdate, ProposalUpdate{
		Status:     status,
		JobID:      jobID,
		ProposalID: input.ProposalID,
	})
	return nil
}

// SendMessage stores a chat message and broadcasts it to the job room. The
// sending connection joins the room first so it sees its own message.
func (s *Service) SendMessage(ctx context.Context, connID string, input MessageInput) (store.MessageWithSender, error) {
	message, err := s.createMessage(ctx, store.Message{
		ID:         util.NewID("msg"),
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		JobID:      input.JobID,
		Content:    input.Content,
	})
	if err != nil {
		return store.MessageWithSender{}, err
	}
	roomID := s.JoinJob(connID, input.JobID)
	s.hub.NotifyRoom(roomID, realtime.EventMessageNew, message)
	return message, nil
}

func (s *Service) createMessage(ctx context.Context, message store.Message) (store.MessageWithSender, error) {
	created, err := s.store.CreateMessage(ctx, message)
	if err != nil {
		return store.MessageWithSender{}, fmt.Errorf("create message: %w", err)
	}
	sender, err := s.summary(ctx, created.SenderID)
	if err != nil {
		return store.MessageWithSender{}, fmt.Errorf("resolve sender: %w", err)
	}
	if sender != nil {
		sender.Categories = nil
		sender.YearsOfExperience = 0
	}
	return store.MessageWithSender{Message: created, Sender: sender}, nil
}

// summary resolves a user reference; unknown ids resolve to nil.
func (s *Service) summary(ctx context.Context, userID string) (*store.UserSummary, error) {
	summary, err := s.store.GetUserSummary(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}
