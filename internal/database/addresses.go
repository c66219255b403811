package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanAddress(row rowScanner, addr *models.Address) error {
	return row.Scan(&addr.Id, &addr.UserId, &addr.Asset, &addr.Network, &addr.Address,
		&addr.WalletId, &addr.AccountIdentifier, &addr.EncryptedKeyMaterial, &addr.CreatedAt)
}

func (s *Service) StoreAddress(ctx context.Context, params store.StoreAddressParams) (*models.Address, error) {
	zap.L().Info("Storing address",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("network", params.Network),
		zap.String("address", params.Address))

	addressId := uuid.New().String()

	addr := &models.Address{}
	row := s.db.QueryRowContext(ctx, queryInsertAddress, addressId, params.UserId, params.Asset, params.Network,
		params.Address, params.WalletId, params.AccountIdentifier, params.EncryptedKeyMaterial)
	if err := scanAddress(row, addr); err != nil {
		zap.L().Error("Failed to insert address",
			zap.String("user_id", params.UserId),
			zap.String("asset", params.Asset),
			zap.Error(err))
		return nil, fmt.Errorf("unable to insert address: %w", err)
	}

	zap.L().Info("Address stored successfully", zap.String("id", addressId))
	return addr, nil
}

func (s *Service) GetAddresses(ctx context.Context, userId, asset, network string) ([]models.Address, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserAddresses, userId, asset, network)
	if err != nil {
		zap.L().Error("Failed to query addresses",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.String("network", network),
			zap.Error(err))
		return nil, fmt.Errorf("unable to query addresses: %w", err)
	}
	return collectAddresses(rows)
}

func (s *Service) GetAllUserAddresses(ctx context.Context, userId string) ([]models.Address, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllUserAddresses, userId)
	if err != nil {
		zap.L().Error("Failed to query all user addresses", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query all user addresses: %w", err)
	}
	return collectAddresses(rows)
}

func collectAddresses(rows *sql.Rows) ([]models.Address, error) {
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var addresses []models.Address
	for rows.Next() {
		var addr models.Address
		if err := scanAddress(rows, &addr); err != nil {
			return nil, fmt.Errorf("unable to scan address row: %w", err)
		}
		addresses = append(addresses, addr)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during address row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating address rows: %w", err)
	}
	return addresses, nil
}

// FindUserByAddress returns store.ErrUserNotFound if the address is not ours.
func (s *Service) FindUserByAddress(ctx context.Context, address string) (*models.User, *models.Address, error) {
	var user models.User
	var addr models.Address
	err := s.db.QueryRowContext(ctx, queryFindUserByAddress, address, address).Scan(
		&user.Id, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.Status, &user.TotpSecret,
		&user.CreatedAt, &user.UpdatedAt,
		&addr.Id, &addr.UserId, &addr.Asset, &addr.Network, &addr.Address, &addr.WalletId,
		&addr.AccountIdentifier, &addr.EncryptedKeyMaterial, &addr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, address)
		}
		zap.L().Error("Failed to find user by address", zap.String("address", address), zap.Error(err))
		return nil, nil, fmt.Errorf("unable to find user by address: %w", err)
	}
	return &user, &addr, nil
}
