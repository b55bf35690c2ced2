// internal/domain/user/service.go
package user

import (
	"fmt"
	"time"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/pkg/auth"
	"gorm.io/gorm"
)

// Service handles operator account business logic
type Service struct {
	db              *gorm.DB
	config          *config.Config
	passwordManager *auth.PasswordManager
	jwtManager      *auth.JWTManager
}

// NewService creates a new operator service
func NewService(db *gorm.DB, cfg *config.Config) *Service {
	return &Service{
		db:              db,
		config:          cfg,
		passwordManager: auth.NewPasswordManager(cfg),
		jwtManager:      auth.NewJWTManager(cfg),
	}
}

// RegisterRequest represents operator registration data
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	IsAdmin   bool   `json:"is_admin"`
}

// LoginRequest represents operator login data
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	Operator     *Operator `json:"operator"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
}

// Register creates a new operator account
func (s *Service) Register(req *RegisterRequest) (*Operator, error) {
	var existing Operator
	result := s.db.Where("email = ?", req.Email).First(&existing)
	if result.Error == nil {
		return nil, fmt.Errorf("operator with this email already exists")
	}

	hashedPassword, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	operator := Operator{
		Email:     req.Email,
		Password:  hashedPassword,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsActive:  true,
		IsAdmin:   req.IsAdmin,
	}

	if err := s.db.Create(&operator).Error; err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	operator.Password = ""
	return &operator, nil
}

// Login authenticates an operator
func (s *Service) Login(req *LoginRequest) (*AuthResponse, error) {
	var operator Operator
	result := s.db.Where("email = ? AND is_active = ?", req.Email, true).First(&operator)
	if result.Error != nil {
		return nil, fmt.Errorf("invalid email or password")
	}

	if err := s.passwordManager.VerifyPassword(req.Password, operator.Password); err != nil {
		return nil, fmt.Errorf("invalid email or password")
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(operator.ID, operator.Email, operator.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(operator.ID, operator.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now().UTC()
	operator.LastLoginAt = &now
	s.db.Save(&operator)

	operator.Password = ""

	return &AuthResponse{
		Operator:     &operator,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.config.JWT.AccessTokenExpiry.Seconds()),
	}, nil
}

// RefreshToken generates new tokens using a refresh token
func (s *Service) RefreshToken(refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	var operator Operator
	result := s.db.Where("id = ? AND is_active = ?", claims.OperatorID, true).First(&operator)
	if result.Error != nil {
		return nil, fmt.Errorf("operator not found or inactive")
	}

	newAccessToken, err := s.jwtManager.GenerateAccessToken(operator.ID, operator.Email, operator.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(operator.ID, operator.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	operator.Password = ""

	return &AuthResponse{
		Operator:     &operator,
		AccessToken:  newAccessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    int64(s.config.JWT.AccessTokenExpiry.Seconds()),
	}, nil
}

// ChangePassword updates an operator's password after verifying the current one
func (s *Service) ChangePassword(operatorID uint, currentPassword, newPassword string) error {
	var operator Operator
	result := s.db.Where("id = ? AND is_active = ?", operatorID, true).First(&operator)
	if result.Error != nil {
		return fmt.Errorf("operator not found")
	}

	if err := s.passwordManager.VerifyPassword(currentPassword, operator.Password); err != nil {
		return fmt.Errorf("current password is incorrect")
	}

	hashedPassword, err := s.passwordManager.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	operator.Password = hashedPassword
	if err := s.db.Save(&operator).Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// GetByID returns an operator by id
func (s *Service) GetByID(operatorID uint) (*Operator, error) {
	var operator Operator
	result := s.db.Where("id = ?", operatorID).First(&operator)
	if result.Error != nil {
		return nil, fmt.Errorf("operator not found")
	}
	operator.Password = ""
	return &operator, nil
}

// Deactivate disables an operator account
func (s *Service) Deactivate(operatorID uint) error {
	result := s.db.Model(&Operator{}).Where("id = ?", operatorID).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate operator: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("operator not found")
	}
	return nil
}
