package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/dto"
)

// commonPasswords is a deny-list of frequently breached passwords, matched
// exactly after lowercasing.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"welcome":     {},
	"welcome1":    {},
	"admin":       {},
	"iloveyou":    {},
	"monkey":      {},
	"dragon":      {},
	"sunshine":    {},
	"princess":    {},
	"football":    {},
	"baseball":    {},
	"abc123":      {},
}

// PasswordValidator evaluates the full password policy and reports every
// violated rule, not just the first.
type PasswordValidator struct {
	policy config.PasswordPolicy
	hasher *Hasher
}

func NewPasswordValidator(policy config.PasswordPolicy, hasher *Hasher) *PasswordValidator {
	return &PasswordValidator{policy: policy, hasher: hasher}
}

// Validate returns the list of violated rules for a candidate password.
// history holds prior password hashes; reuse against any of them is a
// violation.
func (v *PasswordValidator) Validate(ctx context.Context, password string, profile dto.RegisterInput, history []string) ([]string, error) {
	var violations []string

	if len(password) < v.policy.MinLength {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters", v.policy.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	unique := map[rune]struct{}{}
	for _, r := range password {
		unique[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if v.policy.RequireUpper && !hasUpper {
		violations = append(violations, "password must contain an uppercase letter")
	}
	if v.policy.RequireLower && !hasLower {
		violations = append(violations, "password must contain a lowercase letter")
	}
	if v.policy.RequireDigit && !hasDigit {
		violations = append(violations, "password must contain a digit")
	}
	if v.policy.RequireSymbol && !hasSymbol {
		violations = append(violations, "password must contain a symbol")
	}
	if len(unique) < v.policy.MinUniqueChars {
		violations = append(violations, fmt.Sprintf("password must contain at least %d unique characters", v.policy.MinUniqueChars))
	}

	lower := strings.ToLower(password)
	if _, known := commonPasswords[lower]; known {
		violations = append(violations, "password is too common")
	}

	if part := localPart(profile.Email); part != "" && strings.Contains(lower, strings.ToLower(part)) {
		violations = append(violations, "password must not contain your email address")
	}
	for _, namePart := range strings.Fields(strings.ToLower(profile.DisplayName)) {
		if len(namePart) >= 3 && strings.Contains(lower, namePart) {
			violations = append(violations, "password must not contain your name")
			break
		}
	}
	if profile.BirthYear > 0 && strings.Contains(password, strconv.Itoa(profile.BirthYear)) {
		violations = append(violations, "password must not contain your birth year")
	}

	for _, oldHash := range history {
		match, err := v.hasher.Compare(ctx, oldHash, password)
		if err != nil {
			return nil, err
		}
		if match {
			violations = append(violations, fmt.Sprintf("password must not match any of your last %d passwords", v.policy.HistorySize))
			break
		}
	}

	return violations, nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return ""
}
