package auth

import "regexp"

var (
	phoneRe    = regexp.MustCompile(`^1[3-9]\d{9}$`)
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	letterRe   = regexp.MustCompile(`[A-Za-z]`)
	digitRe    = regexp.MustCompile(`[0-9]`)
)

func IsPhone(s string) bool { return phoneRe.MatchString(s) }

// ValidateRegistration enforces the signup rules; the returned error is
// a Denial with the user-facing message.
func ValidateRegistration(username, password, phone string) error {
	if username == "" {
		return deny("用户名不能为空")
	}
	if len(username) < 4 {
		return deny("用户名长度不能少于4个字符")
	}
	if !usernameRe.MatchString(username) {
		return deny("用户名只能包含字母、数字和下划线")
	}

	if password == "" {
		return deny("密码不能为空")
	}
	if len(password) < 8 {
		return deny("密码长度不能少于8个字符")
	}
	if !letterRe.MatchString(password) || !digitRe.MatchString(password) {
		return deny("密码必须包含字母和数字")
	}

	if phone == "" {
		return deny("手机号码不能为空")
	}
	if !IsPhone(phone) {
		return deny("请输入有效的手机号码")
	}
	return nil
}
