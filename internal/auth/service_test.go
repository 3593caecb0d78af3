package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tianyan-ai/chat-backend/internal/db"
	"github.com/tianyan-ai/chat-backend/internal/models"
)

type recordingSender struct {
	sent []string
}

func (r *recordingSender) Send(_ context.Context, phone, code string, _ models.CodeType) error {
	r.sent = append(r.sent, phone+":"+code)
	return nil
}

var testDBSeq atomic.Int64

func newTestService(t *testing.T) (*Service, *recordingSender) {
	t.Helper()
	dsn := fmt.Sprintf("file:auth_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sender := &recordingSender{}
	return NewService(gdb, sender), sender
}

func denialMessage(t *testing.T, err error) string {
	t.Helper()
	var d *Denial
	if !errors.As(err, &d) {
		t.Fatalf("expected a denial, got %v", err)
	}
	return d.Message
}

const (
	testPhone = "13812345678"
	testPass  = "passw0rd1"
)

func registerTestUser(t *testing.T, svc *Service, username string) *models.User {
	t.Helper()
	code, err := svc.SendCode(context.Background(), testPhone, models.CodeRegister)
	if err != nil {
		t.Fatalf("send register code: %v", err)
	}
	u, err := svc.Register(context.Background(), username, testPass, testPhone, "", code)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestRegisterAndLoginPassword(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()

	u := registerTestUser(t, svc, "alice_01")
	if u.ID == 0 {
		t.Fatal("user not assigned an id")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sender called %d times", len(sender.sent))
	}

	got, err := svc.Login(ctx, "alice_01", testPass, "")
	if err != nil {
		t.Fatalf("username login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("logged in as %d, want %d", got.ID, u.ID)
	}
	if got.LastLogin == nil {
		t.Error("last login not recorded")
	}

	if _, err := svc.Login(ctx, testPhone, testPass, ""); err != nil {
		t.Fatalf("phone+password login: %v", err)
	}

	_, err = svc.Login(ctx, "alice_01", "wrongpass1", "")
	if msg := denialMessage(t, err); msg != "用户名或密码错误" {
		t.Errorf("wrong password message = %q", msg)
	}
	_, err = svc.Login(ctx, testPhone, "wrongpass1", "")
	if msg := denialMessage(t, err); msg != "手机号或密码错误" {
		t.Errorf("wrong phone password message = %q", msg)
	}
	_, err = svc.Login(ctx, "nobody99", testPass, "")
	if msg := denialMessage(t, err); msg != "用户名或密码错误" {
		t.Errorf("unknown user message = %q", msg)
	}
}

func TestLoginWithCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registerTestUser(t, svc, "bob_2024")

	code, err := svc.SendCode(ctx, testPhone, models.CodeLogin)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 {
		t.Fatalf("code %q not six digits", code)
	}

	u, err := svc.Login(ctx, testPhone, "", code)
	if err != nil {
		t.Fatalf("code login: %v", err)
	}
	if u.Username != "bob_2024" {
		t.Fatalf("logged in as %q", u.Username)
	}

	// single use: the same code never validates again
	_, err = svc.Login(ctx, testPhone, "", code)
	if msg := denialMessage(t, err); msg != "验证码无效或已过期" {
		t.Errorf("reused code message = %q", msg)
	}
}

func TestLoginCodeUnknownPhoneKeepsCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// plant a login code for an unregistered phone directly
	err := svc.db.Create(&models.VerificationCode{
		Phone:     testPhone,
		Code:      "654321",
		Type:      models.CodeLogin,
		ExpiresAt: time.Now().Add(CodeTTL),
	}).Error
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Login(ctx, testPhone, "", "654321")
	if msg := denialMessage(t, err); msg != "该手机号未注册" {
		t.Fatalf("message = %q", msg)
	}

	// the failed login did not burn the code
	var vc models.VerificationCode
	if err := svc.db.Where("phone = ? AND code = ?", testPhone, "654321").First(&vc).Error; err != nil {
		t.Fatal(err)
	}
	if vc.Used {
		t.Fatal("code consumed by a failed login")
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registerTestUser(t, svc, "carol_88")

	err := svc.db.Create(&models.VerificationCode{
		Phone:     testPhone,
		Code:      "111222",
		Type:      models.CodeLogin,
		ExpiresAt: time.Now().Add(-time.Minute),
	}).Error
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Login(ctx, testPhone, "", "111222")
	if msg := denialMessage(t, err); msg != "验证码无效或已过期" {
		t.Errorf("expired code message = %q", msg)
	}
}

func TestSendCodeSupersedesOldCodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registerTestUser(t, svc, "dave_999")

	first, err := svc.SendCode(ctx, testPhone, models.CodeLogin)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.SendCode(ctx, testPhone, models.CodeLogin)
	if err != nil {
		t.Fatal(err)
	}

	// the superseded code is dead even though it has not expired
	if first != second {
		_, err = svc.Login(ctx, testPhone, "", first)
		if msg := denialMessage(t, err); msg != "验证码无效或已过期" {
			t.Errorf("superseded code message = %q", msg)
		}
	}
	if _, err := svc.Login(ctx, testPhone, "", second); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
}

func TestSendCodeGatekeeping(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "12345", models.CodeLogin)
	if msg := denialMessage(t, err); msg != "请输入有效的手机号码" {
		t.Errorf("bad phone message = %q", msg)
	}

	// login codes need a registered phone
	_, err = svc.SendCode(ctx, testPhone, models.CodeLogin)
	if msg := denialMessage(t, err); msg != "该手机号未注册" {
		t.Errorf("unregistered login message = %q", msg)
	}

	registerTestUser(t, svc, "erin_777")

	// register codes need an unregistered phone
	_, err = svc.SendCode(ctx, testPhone, models.CodeRegister)
	if msg := denialMessage(t, err); msg != "该手机号已被注册" {
		t.Errorf("registered register message = %q", msg)
	}
}

func TestRegisterDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registerTestUser(t, svc, "frank_01")

	otherPhone := "13987654321"
	code, err := svc.SendCode(ctx, otherPhone, models.CodeRegister)
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Register(ctx, "frank_01", testPass, otherPhone, "", code)
	if msg := denialMessage(t, err); msg != "用户名已存在" {
		t.Errorf("duplicate username message = %q", msg)
	}
}

func TestRegisterRequiresValidCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "grace_01", testPass, testPhone, "", "000000")
	if msg := denialMessage(t, err); msg != "验证码无效或已过期" {
		t.Errorf("bad code message = %q", msg)
	}
	_, err = svc.Register(ctx, "grace_01", testPass, testPhone, "", "")
	if msg := denialMessage(t, err); msg != "验证码无效或已过期" {
		t.Errorf("empty code message = %q", msg)
	}
}

func TestValidateRegistration(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
		phone    string
		want     string
	}{
		{"empty username", "", testPass, testPhone, "用户名不能为空"},
		{"short username", "abc", testPass, testPhone, "用户名长度不能少于4个字符"},
		{"bad username chars", "ab-cd", testPass, testPhone, "用户名只能包含字母、数字和下划线"},
		{"empty password", "gooduser", "", testPhone, "密码不能为空"},
		{"short password", "gooduser", "a1b2c3", testPhone, "密码长度不能少于8个字符"},
		{"letters only", "gooduser", "abcdefgh", testPhone, "密码必须包含字母和数字"},
		{"digits only", "gooduser", "12345678", testPhone, "密码必须包含字母和数字"},
		{"empty phone", "gooduser", testPass, "", "手机号码不能为空"},
		{"bad phone", "gooduser", testPass, "12812345678", "请输入有效的手机号码"},
		{"ok", "gooduser", testPass, testPhone, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRegistration(tc.username, tc.password, tc.phone)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if msg := denialMessage(t, err); msg != tc.want {
				t.Errorf("message = %q, want %q", msg, tc.want)
			}
		})
	}
}

func TestIsPhone(t *testing.T) {
	valid := []string{"13812345678", "19900000000", "15512341234"}
	invalid := []string{"", "12812345678", "1381234567", "138123456789", "23812345678", "1381234567a"}
	for _, p := range valid {
		if !IsPhone(p) {
			t.Errorf("IsPhone(%q) = false", p)
		}
	}
	for _, p := range invalid {
		if IsPhone(p) {
			t.Errorf("IsPhone(%q) = true", p)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret1a")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "secret1a" {
		t.Fatal("password stored in the clear")
	}
	if !CheckPassword(hash, "secret1a") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "secret1b") {
		t.Fatal("wrong password accepted")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := SignJWT(42, "alice_01", "test_secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseJWT(token, "test_secret")
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 42 || claims.Username != "alice_01" {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := ParseJWT(token, "other_secret"); err == nil {
		t.Fatal("token accepted with the wrong secret")
	}

	expired, err := SignJWT(42, "alice_01", "test_secret", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT(expired, "test_secret"); err == nil {
		t.Fatal("expired token accepted")
	}
}
