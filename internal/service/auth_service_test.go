package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hanapbuhay/chat-service/internal/domain"
	"github.com/hanapbuhay/chat-service/internal/security"
	"github.com/hanapbuhay/chat-service/internal/service"
)

func TestRegister(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(10) // low cost for tests

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		mockRepo.On("GetByUsername", mock.Anything, "newuser").Return(nil, nil)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.DisplayName == "newuser" && u.IsActive
		})).Return(nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "newuser",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.NotNil(t, user)
		assert.Equal(t, "newuser", user.Username)
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		existing := &domain.User{Username: "existing"}
		mockRepo.On("GetByUsername", mock.Anything, "existing").Return(existing, nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		})
		assert.Error(t, err)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("MissingPassword", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "nopass",
		})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestLogin(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(10)

	hashed, err := hasher.Hash("Password1!")
	assert.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		user := &domain.User{ID: 7, Username: "maria", HashedPassword: hashed, IsActive: true}
		mockRepo.On("GetByUsername", mock.Anything, "maria").Return(user, nil)
		mockRepo.On("SetOnlineStatus", mock.Anything, int64(7), true).Return(nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "maria",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, "bearer", resp.TokenType)

		claims, err := tokenSvc.Parse(resp.AccessToken)
		assert.NoError(t, err)
		assert.Equal(t, "maria", claims.Username)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		user := &domain.User{ID: 7, Username: "maria", HashedPassword: hashed, IsActive: true}
		mockRepo.On("GetByUsername", mock.Anything, "maria").Return(user, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "maria",
			Password: "wrong",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "ghost",
			Password: "Password1!",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("InactiveUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher, time.Hour, 24*time.Hour)

		user := &domain.User{ID: 9, Username: "gone", HashedPassword: hashed, IsActive: false}
		mockRepo.On("GetByUsername", mock.Anything, "gone").Return(user, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "gone",
			Password: "Password1!",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
