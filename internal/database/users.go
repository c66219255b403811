/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, user *models.User) error {
	return row.Scan(&user.Id, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
		&user.Status, &user.TotpSecret, &user.CreatedAt, &user.UpdatedAt)
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying users")

	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	var user models.User
	err := scanUser(s.db.QueryRowContext(ctx, queryGetUserById, userId), &user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, userId)
		}
		zap.L().Error("Failed to query user by ID", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by ID: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := scanUser(s.db.QueryRowContext(ctx, queryGetUserByEmail, email), &user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, email)
		}
		zap.L().Error("Failed to query user by email", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by email: %w", err)
	}
	return &user, nil
}

func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	zap.L().Info("Creating user",
		zap.String("id", params.Id),
		zap.String("email", params.Email),
		zap.String("role", params.Role))

	role := params.Role
	if role == "" {
		role = models.RoleUser
	}

	result, err := s.db.ExecContext(ctx, queryInsertUser, params.Id, params.Name, params.Email, params.PasswordHash, role)
	if err != nil {
		zap.L().Error("Failed to insert user", zap.String("email", params.Email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrEmailTaken, params.Email)
	}

	zap.L().Info("User created successfully", zap.String("id", params.Id), zap.String("email", params.Email))
	return s.GetUserByEmail(ctx, params.Email)
}

func (s *Service) UpdateUserRole(ctx context.Context, userId, role string) error {
	return s.updateUser(ctx, queryUpdateUserRole, role, userId)
}

func (s *Service) UpdateUserStatus(ctx context.Context, userId, status string) error {
	return s.updateUser(ctx, queryUpdateUserStatus, status, userId)
}

func (s *Service) SetTotpSecret(ctx context.Context, userId, secret string) error {
	return s.updateUser(ctx, queryUpdateTotpSecret, secret, userId)
}

func (s *Service) updateUser(ctx context.Context, query, value, userId string) error {
	result, err := s.db.ExecContext(ctx, query, value, userId)
	if err != nil {
		zap.L().Error("Failed to update user", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("unable to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, userId)
	}
	return nil
}
