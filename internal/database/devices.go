package database

import (
	"context"
	"database/sql"
	"fmt"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertDevice registers a push token; a token moves to the latest user that registers it.
func (s *Service) UpsertDevice(ctx context.Context, userId, token, platform string) (*models.Device, error) {
	var device models.Device
	err := s.db.QueryRowContext(ctx, queryUpsertDevice, uuid.New().String(), userId, token, platform).
		Scan(&device.Id, &device.UserId, &device.Token, &device.Platform, &device.CreatedAt)
	if err != nil {
		zap.L().Error("Failed to upsert device", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to upsert device: %w", err)
	}
	return &device, nil
}

func (s *Service) GetUserDevices(ctx context.Context, userId string) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserDevices, userId)
	if err != nil {
		return nil, fmt.Errorf("unable to query devices: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var devices []models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.Id, &device.UserId, &device.Token, &device.Platform, &device.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func (s *Service) DeleteDevice(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, queryDeleteDevice, token)
	if err != nil {
		return fmt.Errorf("unable to delete device: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: device", store.ErrNotFound)
	}
	return nil
}
