package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/crypto"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/repositories"
)

// ConnectionService resolves warehouse connections for the engine. The
// platform's connection subsystem owns the rows; this service reads them,
// decrypts dialing credentials and hands the config to warehouse adapters.
type ConnectionService interface {
	// Get retrieves a connection with its decrypted config.
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, error)

	// List retrieves all connections. Configs are not loaded.
	List(ctx context.Context) ([]*models.Connection, error)

	// TestConnection dials the warehouse behind a connection and reports
	// whether it is reachable with the stored credentials.
	TestConnection(ctx context.Context, id uuid.UUID) error
}

type connectionService struct {
	repo           repositories.ConnectionRepository
	encryptor      *crypto.CredentialEncryptor
	adapterFactory warehouse.AdapterFactory
	logger         *zap.Logger
}

// NewConnectionService creates a new connection service.
func NewConnectionService(
	repo repositories.ConnectionRepository,
	encryptor *crypto.CredentialEncryptor,
	adapterFactory warehouse.AdapterFactory,
	logger *zap.Logger,
) ConnectionService {
	return &connectionService{
		repo:           repo,
		encryptor:      encryptor,
		adapterFactory: adapterFactory,
		logger:         logger,
	}
}

// Get retrieves a connection with its decrypted config.
func (s *connectionService) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	conn, encryptedConfig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	config, err := s.decryptConfig(encryptedConfig)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, fmt.Errorf("connection %s: %w", id, apperrors.ErrCredentialsKeyMismatch)
		}
		return nil, err
	}
	conn.Config = config

	return conn, nil
}

// List retrieves all connections.
func (s *connectionService) List(ctx context.Context) ([]*models.Connection, error) {
	return s.repo.List(ctx)
}

// TestConnection dials the warehouse behind a connection.
func (s *connectionService) TestConnection(ctx context.Context, id uuid.UUID) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	tester, err := s.adapterFactory.NewConnectionTester(ctx, conn.ConnectionType, conn.Config, conn.ID)
	if err != nil {
		return fmt.Errorf("failed to create connection tester: %w", err)
	}
	defer tester.Close()

	if err := tester.TestConnection(ctx); err != nil {
		s.logger.Warn("Connection test failed",
			zap.String("connection_id", id.String()),
			zap.String("connection_type", conn.ConnectionType),
			zap.Error(err))
		return err
	}

	s.logger.Info("Connection test succeeded",
		zap.String("connection_id", id.String()),
		zap.String("connection_type", conn.ConnectionType))
	return nil
}

// decryptConfig decrypts and deserializes a connection config.
func (s *connectionService) decryptConfig(encrypted string) (map[string]any, error) {
	decrypted, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	var config map[string]any
	if err := json.Unmarshal([]byte(decrypted), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return config, nil
}

// Ensure connectionService implements ConnectionService at compile time.
var _ ConnectionService = (*connectionService)(nil)
