package org

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrUserNotFound is returned when a directory lookup misses.
var ErrUserNotFound = errors.New("user not found")

// ErrDepartmentNotFound is returned when a department lookup misses.
var ErrDepartmentNotFound = errors.New("department not found")

// Service provides read access to the agency's org directory. The approval
// engine's dynamic assignee rules are its only consumer.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetUserByID retrieves a user by their account identifier.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}

	var user User
	result := s.db.WithContext(ctx).First(&user, "id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to retrieve user: %w", result.Error)
	}
	return &user, nil
}

// SupervisorOf returns the user ID of the given user's direct supervisor.
func (s *Service) SupervisorOf(ctx context.Context, userID string) (string, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.SupervisorID == nil || *user.SupervisorID == "" {
		return "", fmt.Errorf("%w: user %s has no supervisor", ErrUserNotFound, userID)
	}
	return *user.SupervisorID, nil
}

// DepartmentHeadOf returns the user ID of the head of the given user's
// department.
func (s *Service) DepartmentHeadOf(ctx context.Context, userID string) (string, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.DepartmentID == "" {
		return "", fmt.Errorf("%w: user %s belongs to no department", ErrDepartmentNotFound, userID)
	}

	var department Department
	result := s.db.WithContext(ctx).First(&department, "id = ?", user.DepartmentID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrDepartmentNotFound, user.DepartmentID)
		}
		return "", fmt.Errorf("failed to retrieve department: %w", result.Error)
	}
	if department.HeadUserID == "" {
		return "", fmt.Errorf("%w: department %s has no head", ErrUserNotFound, department.ID)
	}
	return department.HeadUserID, nil
}
