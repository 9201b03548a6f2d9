package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"
	"direct-messenger/internal/repository"
)

const (
	minPasswordLength = 6
	searchLimit       = 20
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,32}$`)

// UserStore persists users
type UserStore interface {
	CreateWithSelfEdge(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Search(ctx context.Context, viewerID int64, q string, limit int) ([]*models.User, error)
	UpdatePushToken(ctx context.Context, userID int64, pushToken *string) error
}

// UserService handles registration, login and tokens
type UserService struct {
	userRepo  UserStore
	jwtSecret string
	tokenTTL  time.Duration
}

// NewUserService creates a new user service
func NewUserService(userRepo UserStore, jwtSecret string, tokenTTL time.Duration) *UserService {
	return &UserService{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// RegisterInput represents a registration request
type RegisterInput struct {
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// LoginInput represents a login request
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResult is returned by registration and login
type AuthResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates a user together with its favorites conversation
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	nickname := repository.NormalizeHandle(in.Nickname)
	if nickname == "" {
		nickname = username
	}

	if !handlePattern.MatchString(username) {
		return nil, fmt.Errorf("username must be 3-32 letters, digits, '_' or '.': %w", apperrors.ErrInvalidInput)
	}
	if !handlePattern.MatchString(nickname) {
		return nil, fmt.Errorf("nickname must be 3-32 letters, digits, '_' or '.': %w", apperrors.ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, apperrors.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Nickname:     nickname,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.CreateWithSelfEdge(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("User registered")

	return &AuthResult{User: user, Token: token}, nil
}

// Login checks credentials and issues a token
func (s *UserService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	user, err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", apperrors.ErrUnauthorized)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", apperrors.ErrUnauthorized)
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GenerateJWT generates a JWT token whose subject is the user id
func (s *UserService) GenerateJWT(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"exp": now.Add(s.tokenTTL).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to parse token: %v: %w", err, apperrors.ErrUnauthorized)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token: %w", apperrors.ErrUnauthorized)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, fmt.Errorf("sub not found in token: %w", apperrors.ErrUnauthorized)
	}

	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid sub in token: %w", apperrors.ErrUnauthorized)
	}

	return userID, nil
}

// GetByID returns a user by id
func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// Search finds other users by username or nickname substring
func (s *UserService) Search(ctx context.Context, viewerID int64, q string) ([]*models.User, error) {
	return s.userRepo.Search(ctx, viewerID, q, searchLimit)
}

// UpdatePushToken sets or clears the APNs device token
func (s *UserService) UpdatePushToken(ctx context.Context, userID int64, token string) error {
	token = strings.TrimSpace(token)
	var ptr *string
	if token != "" {
		ptr = &token
	}
	return s.userRepo.UpdatePushToken(ctx, userID, ptr)
}
