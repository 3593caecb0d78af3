package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tianyan-ai/chat-backend/internal/logger"
	"github.com/tianyan-ai/chat-backend/internal/models"
)

// Denial is a user-facing refusal: bad input or bad credentials. Its
// message is safe to surface verbatim.
type Denial struct {
	Message string
}

func (d *Denial) Error() string { return d.Message }

func deny(msg string) error { return &Denial{Message: msg} }

// CodeTTL is the verification-code validity window.
const CodeTTL = 5 * time.Minute

// Sender delivers a verification code out of band (SMS).
type Sender interface {
	Send(ctx context.Context, phone, code string, codeType models.CodeType) error
}

type Service struct {
	db     *gorm.DB
	sender Sender
}

func NewService(db *gorm.DB, sender Sender) *Service {
	return &Service{db: db, sender: sender}
}

// Login authenticates by username+password, phone+password or
// phone+code. The matched verification code is consumed only after the
// user lookup succeeds, so a failed login never burns a valid code.
func (s *Service) Login(ctx context.Context, account, password, code string) (*models.User, error) {
	var user models.User

	switch {
	case IsPhone(account) && code != "":
		valid, err := s.checkCode(ctx, account, code, models.CodeLogin)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, deny("验证码无效或已过期")
		}
		if err := s.db.WithContext(ctx).Where("phone = ?", account).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, deny("该手机号未注册")
			}
			return nil, err
		}
		if err := s.markCodeUsed(ctx, account, code, models.CodeLogin); err != nil {
			logger.L().Error("failed to consume verification code",
				zap.String("phone", account), zap.Error(err))
		}

	case IsPhone(account):
		if err := s.db.WithContext(ctx).Where("phone = ?", account).First(&user).Error; err != nil || !CheckPassword(user.PasswordHash, password) {
			return nil, deny("手机号或密码错误")
		}

	default:
		if err := s.db.WithContext(ctx).Where("username = ?", account).First(&user).Error; err != nil || !CheckPassword(user.PasswordHash, password) {
			return nil, deny("用户名或密码错误")
		}
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		logger.L().Error("failed to update last login",
			zap.Uint64("user_id", user.ID), zap.Error(err))
	}
	user.LastLogin = &now
	return &user, nil
}

// Register validates input, requires an unconsumed register-type code,
// and creates the user. Duplicate username and phone report distinct
// messages.
func (s *Service) Register(ctx context.Context, username, password, phone, email, code string) (*models.User, error) {
	if err := ValidateRegistration(username, password, phone); err != nil {
		return nil, err
	}

	valid, err := s.checkCode(ctx, phone, code, models.CodeRegister)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, deny("验证码无效或已过期")
	}

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&cnt).Error; err != nil {
		return nil, err
	}
	if cnt > 0 {
		return nil, deny("用户名已存在")
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("phone = ?", phone).Count(&cnt).Error; err != nil {
		return nil, err
	}
	if cnt > 0 {
		return nil, deny("手机号已被注册")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     username,
		PasswordHash: hash,
		Phone:        phone,
		Email:        email,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// lost a race with a concurrent signup
		return nil, deny("注册失败，请检查输入信息")
	}

	if err := s.markCodeUsed(ctx, phone, code, models.CodeRegister); err != nil {
		logger.L().Error("failed to consume verification code",
			zap.String("phone", phone), zap.Error(err))
	}

	logger.L().Info("user registered",
		zap.Uint64("user_id", user.ID), zap.String("username", username))
	return &user, nil
}

// SendCode issues a fresh 6-digit code for the phone, superseding any
// unused older codes of the same type, and dispatches it. Returns the
// code for the debug_code response field.
func (s *Service) SendCode(ctx context.Context, phone string, codeType models.CodeType) (string, error) {
	if !IsPhone(phone) {
		return "", deny("请输入有效的手机号码")
	}

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("phone = ?", phone).Count(&cnt).Error; err != nil {
		return "", err
	}
	switch codeType {
	case models.CodeRegister:
		if cnt > 0 {
			return "", deny("该手机号已被注册")
		}
	case models.CodeLogin:
		if cnt == 0 {
			return "", deny("该手机号未注册")
		}
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	// supersede outstanding codes of this type before inserting
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.VerificationCode{}).
			Where("phone = ? AND type = ? AND used = ?", phone, codeType, false).
			Update("used", true).Error; err != nil {
			return err
		}
		return tx.Create(&models.VerificationCode{
			Phone:     phone,
			Code:      code,
			Type:      codeType,
			ExpiresAt: time.Now().Add(CodeTTL),
		}).Error
	})
	if err != nil {
		return "", err
	}

	if err := s.sender.Send(ctx, phone, code, codeType); err != nil {
		// delivery is best effort; the code is already stored
		logger.L().Error("code dispatch failed",
			zap.String("phone", phone), zap.Error(err))
	}
	return code, nil
}

// checkCode matches the newest unused, unexpired code without consuming
// it.
func (s *Service) checkCode(ctx context.Context, phone, code string, codeType models.CodeType) (bool, error) {
	if code == "" {
		return false, nil
	}
	var vc models.VerificationCode
	err := s.db.WithContext(ctx).
		Where("phone = ? AND code = ? AND type = ? AND used = ? AND expires_at > ?",
			phone, code, codeType, false, time.Now()).
		Order("created_at DESC").
		First(&vc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// markCodeUsed consumes the code; once used it never validates again,
// expired or not.
func (s *Service) markCodeUsed(ctx context.Context, phone, code string, codeType models.CodeType) error {
	return s.db.WithContext(ctx).Model(&models.VerificationCode{}).
		Where("phone = ? AND code = ? AND type = ? AND used = ?", phone, code, codeType, false).
		Update("used", true).Error
}

func generateCode() (string, error) {
	const digits = "0123456789"
	out := make([]byte, 6)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		out[i] = digits[n.Int64()]
	}
	return string(out), nil
}
