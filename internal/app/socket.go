package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ogacraft/api/internal/realtime"
)

var errMissingID = errors.New("missing identifier")

// RegisterSocketHandlers wires the proposal workflow to the socket server.
func (s *Service) RegisterSocketHandlers(server *realtime.Server) {
	server.Handle(realtime.EventAuthenticate, s.onAuthenticate)
	server.Handle(realtime.EventProposeJob, s.onProposeJob)
	server.Handle(realtime.EventProposalResponse, s.onProposalResponse)
	server.Handle(realtime.EventMessageSend, s.onMessageSend)
	server.Handle(realtime.EventJoinJob, s.onJoinJob)
	server.Handle(realtime.EventDisconnect, s.onDisconnect)
}

func (s *Service) onAuthenticate(_ context.Context, session *realtime.Session, data json.RawMessage) error {
	userID, err := decodeID(data, "userId")
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	session.SetUserID(userID)
	s.Authenticate(session.ID(), userID)
	return nil
}

func (s *Service) onProposeJob(ctx context.Context, session *realtime.Session, data json.RawMessage) error {
	var input ProposalInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("decode proposal: %w", err)
	}
	_, err := s.SubmitProposal(ctx, session.ID(), input)
	return err
}

func (s *Service) onProposalResponse(ctx context.Context, _ *realtime.Session, data json.RawMessage) error {
	var input ProposalResponseInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("decode proposal response: %w", err)
	}
	return s.RespondToProposal(ctx, input)
}

func (s *Service) onMessageSend(ctx context.Context, session *realtime.Session, data json.RawMessage) error {
	var input MessageInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	_, err := s.SendMessage(ctx, session.ID(), input)
	return err
}

func (s *Service) onJoinJob(_ context.Context, session *realtime.Session, data json.RawMessage) error {
	jobID, err := decodeID(data, "jobId")
	if err != nil {
		return fmt.Errorf("join job: %w", err)
	}
	s.JoinJob(session.ID(), jobID)
	return nil
}

func (s *Service) onDisconnect(_ context.Context, session *realtime.Session, _ json.RawMessage) error {
	for _, userID := range s.Disconnect(session.ID()) {
		s.logger.Info().Str("conn_id", session.ID()).Str("user_id", userID).Msg("user disconnected")
	}
	session.Close()
	return nil
}

// decodeID accepts either a bare JSON string or an object carrying the id
// under key.
func decodeID(data json.RawMessage, key string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var object map[string]any
		if err := json.Unmarshal(data, &object); err != nil {
			return "", errMissingID
		}
		id, _ = object[key].(string)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errMissingID
	}
	return id, nil
}
